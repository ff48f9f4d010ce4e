package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/speakerid/pkg/cli"
	"github.com/haivivi/speakerid/pkg/conversation"
	"github.com/haivivi/speakerid/pkg/identity"
)

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and show library conversations",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List processed conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ids, err := a.library.List(ctx)
		if err != nil {
			return err
		}
		list := make(conversationList, 0, len(ids))
		for _, id := range ids {
			m, err := a.library.Load(ctx, id)
			if err != nil {
				a.logger.Warn("skip unreadable conversation", "conversation", id, "error", err)
				continue
			}
			list = append(list, summarize(m))
		}
		return output(list)
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation's utterances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		m, err := a.library.Load(ctx, args[0])
		if err != nil {
			return err
		}
		return output(manifestView{m})
	},
}

func init() {
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	rootCmd.AddCommand(conversationsCmd)
}

// conversationSummary is one row of 'conversations list'.
type conversationSummary struct {
	ID         string   `json:"conversation_id" yaml:"conversation_id"`
	Processed  string   `json:"date_processed" yaml:"date_processed"`
	Duration   float64  `json:"duration_seconds" yaml:"duration_seconds"`
	Speakers   []string `json:"speakers" yaml:"speakers"`
	Utterances int      `json:"utterances" yaml:"utterances"`
	Unknown    int      `json:"unknown_utterances" yaml:"unknown_utterances"`
}

func summarize(m *conversation.Manifest) conversationSummary {
	s := conversationSummary{
		ID:         m.ConversationID,
		Processed:  m.DateProcessed,
		Duration:   m.DurationSeconds,
		Speakers:   m.Speakers,
		Utterances: len(m.Utterances),
	}
	for _, u := range m.Utterances {
		if identity.IsUnknown(u.Speaker) {
			s.Unknown++
		}
	}
	return s
}

type conversationList []conversationSummary

func (l conversationList) Table() ([]string, [][]string) {
	headers := []string{"CONVERSATION", "PROCESSED", "DURATION", "SPEAKERS", "UTTERANCES", "UNKNOWN"}
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		rows = append(rows, []string{
			s.ID,
			s.Processed,
			cli.FormatSeconds(s.Duration),
			strings.Join(s.Speakers, ", "),
			fmt.Sprint(s.Utterances),
			fmt.Sprint(s.Unknown),
		})
	}
	return headers, rows
}

// manifestView renders a manifest as an utterance table; YAML and JSON
// get the manifest itself.
type manifestView struct {
	*conversation.Manifest
}

func (v manifestView) MarshalJSON() ([]byte, error) { return v.Manifest.Encode() }

func (v manifestView) MarshalYAML() (any, error) { return v.Manifest, nil }

func (v manifestView) Table() ([]string, [][]string) {
	headers := []string{"ID", "START", "END", "SPEAKER", "CONFIDENCE", "TEXT"}
	rows := make([][]string, 0, len(v.Utterances))
	for _, u := range v.Utterances {
		speaker := u.Speaker
		if u.Combined() {
			speaker += " *"
		}
		rows = append(rows, []string{
			u.ID,
			u.StartTime,
			u.EndTime,
			speaker,
			cli.FormatScore(float32(u.Confidence)),
			u.Text,
		})
	}
	return headers, rows
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <conversation-id>",
	Short: "Re-run the combined pass on a stored conversation",
	Long: `Try again to identify the Unknown speakers of a stored conversation,
typically after new speakers were enrolled. Each unknown cluster is
identified from the concatenation of its utterances.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.processor(nil, false).Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		return output(resolveView(report))
	},
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}

type resolveView conversation.ResolveReport

func (r resolveView) Table() ([]string, [][]string) {
	headers := []string{"CLUSTER", "STATUS", "SPEAKER", "SCORE", "MEMBERS", "DURATION", "ERROR"}
	rows := make([][]string, 0, len(r.Clusters))
	for _, c := range r.Clusters {
		rows = append(rows, []string{
			c.Label,
			c.Status,
			c.Speaker,
			cli.FormatScore(c.Score),
			fmt.Sprint(c.Members),
			cli.FormatDuration(int(c.Duration.Milliseconds())),
			c.Error,
		})
	}
	return headers, rows
}
