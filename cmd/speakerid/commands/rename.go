package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haivivi/speakerid/pkg/rebind"
)

var (
	renameUpdateDB bool
	renameAvg      float32
	renameMax      float32
)

var renameCmd = &cobra.Command{
	Use:   "rename <conversation-id> <old-name> <new-name>",
	Short: "Rename a speaker within one conversation",
	Long: `Rename a speaker in one conversation: the manifest, the speaker
folders, the transcripts and the flat speaker_utterances layout.

A rename that stopped halfway can be run again; steps already applied
report no changes. With --update-db the renamed speaker's flat-layout
utterances are then added to the voice database through verified folder
update.

Examples:
  speakerid rename conversation_20250312_154532 Unknown_B Bob
  speakerid rename conversation_20250312_154532 Unknown_B Bob --update-db`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		avg, mx := renameAvg, renameMax
		if avg <= 0 {
			avg = a.cfg.Thresholds.VerifyAvg
		}
		if mx <= 0 {
			mx = a.cfg.Thresholds.VerifyMax
		}
		res, err := a.rebinder.Rename(ctx, rebind.Request{
			ConversationID: args[0],
			OldName:        args[1],
			NewName:        args[2],
			UpdateDB:       renameUpdateDB,
			AvgThreshold:   avg,
			MaxThreshold:   mx,
		})
		if len(res.Steps) > 0 {
			if oerr := output(renameView(res)); oerr != nil && err == nil {
				err = oerr
			}
		}
		return err
	},
}

func init() {
	renameCmd.Flags().BoolVar(&renameUpdateDB, "update-db", false, "add the renamed speaker's utterances to the voice database")
	renameCmd.Flags().Float32Var(&renameAvg, "avg", 0, "verification average threshold for --update-db (default from config)")
	renameCmd.Flags().Float32Var(&renameMax, "max", 0, "verification maximum threshold for --update-db (default from config)")
	rootCmd.AddCommand(renameCmd)
}

type renameView rebind.Result

func (r renameView) Table() ([]string, [][]string) {
	headers := []string{"STEP", "CHANGES", "NOTE"}
	rows := make([][]string, 0, len(r.Steps)+1)
	for _, s := range r.Steps {
		note := ""
		switch {
		case s.Skipped:
			note = "skipped"
		case s.Update != nil:
			note = fmt.Sprintf("added %d, duplicate %d, unverified %d, failed %d",
				s.Update.Added, s.Update.Duplicate, s.Update.Unverified, s.Update.Failed)
		}
		rows = append(rows, []string{s.Step, fmt.Sprint(s.Changes), note})
	}
	rows = append(rows, []string{"total", fmt.Sprint(r.Changes), ""})
	return headers, rows
}
