package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/speakerid/pkg/jobs"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "List and show processing jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List jobs, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		list, err := a.jobs.List(ctx)
		if err != nil {
			return err
		}
		return output(jobList(list))
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		job, err := a.jobs.Get(ctx, args[0])
		if err != nil {
			return err
		}
		return output(jobList{job})
	},
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	rootCmd.AddCommand(jobsCmd)
}

type jobList []*jobs.Job

func (l jobList) Table() ([]string, [][]string) {
	headers := []string{"JOB", "INPUT", "STATE", "STAGE", "PROGRESS", "CONVERSATION", "CREATED", "ERROR"}
	rows := make([][]string, 0, len(l))
	for _, j := range l {
		rows = append(rows, []string{
			j.ID,
			j.Input,
			string(j.State),
			j.Stage,
			fmt.Sprintf("%.0f%%", j.Progress*100),
			j.ConversationID,
			j.CreatedAt.Local().Format(time.DateTime),
			j.Error,
		})
	}
	return headers, rows
}
