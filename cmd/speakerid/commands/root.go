package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/speakerid/cmd/speakerid/internal/config"
	"github.com/haivivi/speakerid/pkg/cli"
)

var (
	// Global flags
	verbose      bool
	configPath   string
	formatOutput string
	outputFile   string

	// Global configuration (loaded at init time)
	globalConfig *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "speakerid",
	Short: "Speaker identification for recorded conversations",
	Long: `speakerid - identify who is speaking in recorded conversations.

Recordings are diarized, every utterance is matched against a voice
database of speaker embeddings, and the result is stored in a
conversation library. Speakers that cannot be identified are labeled
Unknown_<track> until they are renamed or resolved.

Configuration is read from the OS config directory:
  macOS:   ~/Library/Application Support/speakerid/config.yaml
  Linux:   ~/.config/speakerid/config.yaml
  Windows: %AppData%/speakerid/config.yaml

Every setting can be overridden with a SPEAKERID_* environment variable,
e.g. SPEAKERID_LIBRARY_ROOT or SPEAKERID_EMBEDDING_ENDPOINT.

Examples:
  # Enroll a speaker and process a recording
  speakerid enroll Alice alice.wav
  speakerid process meeting.wav

  # Name a speaker the pipeline could not identify
  speakerid rename conversation_20250312_154532 Unknown_B Bob --update-db`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default <config>/speakerid/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&formatOutput, "output", "o", "table", "output format: table, yaml, json")
	rootCmd.PersistentFlags().StringVar(&outputFile, "output-file", "", "write output to file instead of stdout")
}

// configLoadErr stores the error from config.Load() for deferred reporting.
var configLoadErr error

func initConfig() {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Commands that need config report it via GetConfig, so
		// 'speakerid version' still works with a broken config.
		configLoadErr = err
		return
	}
	globalConfig = cfg
}

// GetConfig returns the global configuration.
func GetConfig() (*config.Config, error) {
	if globalConfig == nil {
		if configLoadErr != nil {
			return nil, fmt.Errorf("config not available: %w", configLoadErr)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("config not available: %w", err)
		}
		globalConfig = cfg
	}
	return globalConfig, nil
}

// IsVerbose returns whether verbose mode is enabled.
func IsVerbose() bool {
	return verbose
}

// output writes a command result in the selected format.
func output(result any) error {
	format, err := cli.ParseFormat(formatOutput)
	if err != nil {
		return err
	}
	return cli.Output(result, cli.OutputOptions{
		Format: format,
		File:   outputFile,
		Indent: "  ",
	})
}
