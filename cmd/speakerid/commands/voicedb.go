package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/speakerid/pkg/cli"
	"github.com/haivivi/speakerid/pkg/conversation"
	"github.com/haivivi/speakerid/pkg/storage"
	"github.com/haivivi/speakerid/pkg/voicedb"
)

var enrollMode string

var enrollCmd = &cobra.Command{
	Use:   "enroll <name> <file.wav>",
	Short: "Add a speaker embedding from a WAV file",
	Long: `Embed a WAV file and store it under a speaker name.

With --mode new (the default) the speaker must not exist yet; with
--mode additional it must.

Examples:
  speakerid enroll Alice alice.wav
  speakerid enroll Alice alice2.wav --mode additional`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := voicedb.ParseEnrollMode(enrollMode)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		id, err := a.voicedb.Enroll(ctx, voicedb.EnrollRequest{
			Name:   args[0],
			Source: args[1],
			Audio:  data,
			Mode:   mode,
		})
		if err != nil {
			return err
		}
		return output(enrollResult{Speaker: strings.TrimSpace(args[0]), ID: id, Mode: mode.String()})
	},
}

type enrollResult struct {
	Speaker string `json:"speaker" yaml:"speaker"`
	ID      string `json:"embedding_id" yaml:"embedding_id"`
	Mode    string `json:"mode" yaml:"mode"`
}

func (r enrollResult) Table() ([]string, [][]string) {
	return []string{"SPEAKER", "EMBEDDING", "MODE"}, [][]string{{r.Speaker, r.ID, r.Mode}}
}

var speakersCmd = &cobra.Command{
	Use:   "speakers",
	Short: "List and delete voice database speakers",
}

var speakersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List speakers and their embedding counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		speakers, err := a.voicedb.ListSpeakers(ctx)
		if err != nil {
			return err
		}
		return output(speakerList(speakers))
	},
}

var speakersDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete every embedding of a speaker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.voicedb.DeleteSpeaker(ctx, args[0])
		if err != nil {
			return err
		}
		cli.PrintSuccess("Deleted %d embeddings of %s", n, args[0])
		return nil
	},
}

type speakerList []voicedb.Speaker

func (l speakerList) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(l))
	for _, s := range l {
		rows = append(rows, []string{s.Name, fmt.Sprint(s.Count)})
	}
	return []string{"SPEAKER", "EMBEDDINGS"}, rows
}

var embeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Manage single embeddings",
}

var embeddingDeleteCmd = &cobra.Command{
	Use:   "delete <embedding-id>",
	Short: "Delete one embedding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		ok, err := a.voicedb.DeleteEmbedding(ctx, args[0])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("embedding %s not found", args[0])
		}
		cli.PrintSuccess("Deleted embedding %s", args[0])
		return nil
	},
}

var testMatchTopK int

var testMatchCmd = &cobra.Command{
	Use:   "test-match <file.wav>",
	Short: "Show the nearest speakers for a WAV file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		matches, err := a.voicedb.TestMatch(ctx, data, testMatchTopK)
		if err != nil {
			return err
		}
		return output(matchList(matches))
	},
}

type matchList []voicedb.SpeakerMatch

func (l matchList) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(l))
	for _, m := range l {
		rows = append(rows, []string{m.Speaker, fmt.Sprint(m.Count), cli.FormatScore(m.Best), cli.FormatScore(m.Avg)})
	}
	return []string{"SPEAKER", "HITS", "BEST", "AVG"}, rows
}

var (
	updateSpeaker     string
	updateFromLibrary bool
	updateAvg         float32
	updateMax         float32
	updateDryRun      bool
)

var updateCmd = &cobra.Command{
	Use:   "update <dir>",
	Short: "Grow a speaker's evidence from a folder of WAV files",
	Long: `Add every WAV file in a folder to a speaker's evidence unless it is a
near-duplicate of a stored embedding or fails verification against the
speaker's existing embeddings.

The speaker defaults to the folder name. With --from-library the argument
is a speaker name and its speaker_utterances folder in the library is
used.

Examples:
  speakerid update recordings/Alice
  speakerid update Alice --from-library --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		req := voicedb.UpdateRequest{
			Speaker:      updateSpeaker,
			AvgThreshold: updateAvg,
			MaxThreshold: updateMax,
			DryRun:       updateDryRun,
		}
		if req.AvgThreshold <= 0 {
			req.AvgThreshold = a.cfg.Thresholds.VerifyAvg
		}
		if req.MaxThreshold <= 0 {
			req.MaxThreshold = a.cfg.Thresholds.VerifyMax
		}
		if updateFromLibrary {
			if req.Speaker == "" {
				req.Speaker = args[0]
			}
			req.FS, req.Dir = a.files, conversation.LegacyEvidenceDir(args[0])
		} else {
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			local, err := storage.NewLocal(filepath.Dir(abs))
			if err != nil {
				return err
			}
			req.FS, req.Dir = local, filepath.Base(abs)
		}

		sum, err := a.voicedb.UpdateFromFolder(ctx, req)
		if err != nil {
			return err
		}
		if err := output(summaryView(sum)); err != nil {
			return err
		}
		warnFailed(sum)
		if sum.DryRun {
			cli.PrintInfo("Dry run: the voice database was not changed")
		}
		return nil
	},
}

var addShortCmd = &cobra.Command{
	Use:   "add-short <name> <file.wav>...",
	Short: "Add short-utterance evidence without verification",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		files := make([]voicedb.File, 0, len(args)-1)
		for _, p := range args[1:] {
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			files = append(files, voicedb.File{Name: filepath.Base(p), Data: data})
		}
		ctx := cmd.Context()
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sum, err := a.voicedb.AddShortUtterances(ctx, args[0], files)
		if err != nil {
			return err
		}
		if err := output(summaryView(sum)); err != nil {
			return err
		}
		warnFailed(sum)
		return nil
	},
}

func warnFailed(sum voicedb.UpdateSummary) {
	if sum.Failed > 0 {
		cli.PrintWarning("%d of %d files failed: %s", sum.Failed, len(sum.Files),
			strings.Join(sum.FilesWith(voicedb.StatusFailed), ", "))
	}
}

type summaryView voicedb.UpdateSummary

func (s summaryView) Table() ([]string, [][]string) {
	rows := make([][]string, 0, len(s.Files))
	for _, f := range s.Files {
		detail := f.Error
		switch f.Status {
		case voicedb.StatusDuplicate:
			detail = "similarity " + cli.FormatScore(f.Similarity)
		case voicedb.StatusAdded, voicedb.StatusUnverified:
			if f.Avg != 0 || f.Max != 0 {
				detail = fmt.Sprintf("avg %s max %s", cli.FormatScore(f.Avg), cli.FormatScore(f.Max))
			}
		}
		rows = append(rows, []string{f.File, f.Status, f.ID, detail})
	}
	return []string{"FILE", "STATUS", "EMBEDDING", "DETAIL"}, rows
}

func init() {
	enrollCmd.Flags().StringVar(&enrollMode, "mode", "new", "enroll mode: new or additional")
	rootCmd.AddCommand(enrollCmd)

	speakersCmd.AddCommand(speakersListCmd)
	speakersCmd.AddCommand(speakersDeleteCmd)
	rootCmd.AddCommand(speakersCmd)

	embeddingCmd.AddCommand(embeddingDeleteCmd)
	rootCmd.AddCommand(embeddingCmd)

	testMatchCmd.Flags().IntVar(&testMatchTopK, "top-k", 5, "nearest embeddings to consider")
	rootCmd.AddCommand(testMatchCmd)

	updateCmd.Flags().StringVar(&updateSpeaker, "speaker", "", "speaker name (default: folder name)")
	updateCmd.Flags().BoolVar(&updateFromLibrary, "from-library", false, "read the speaker's utterances from the library")
	updateCmd.Flags().Float32Var(&updateAvg, "avg", 0, "verification average threshold (default from config)")
	updateCmd.Flags().Float32Var(&updateMax, "max", 0, "verification maximum threshold (default from config)")
	updateCmd.Flags().BoolVar(&updateDryRun, "dry-run", false, "evaluate without writing to the voice database")
	rootCmd.AddCommand(updateCmd)

	rootCmd.AddCommand(addShortCmd)
}
