// Package main is the entry point for the speakerid CLI.
//
// Usage:
//
//	speakerid [flags] <command> [subcommand] [args]
//
// Commands:
//
//	process        - Diarize and identify recordings into the library
//	resolve        - Re-run the combined pass on a stored conversation
//	rename         - Rename a speaker within one conversation
//	conversations  - List and show library conversations
//	jobs           - List and show processing jobs
//	enroll         - Add a speaker embedding from a WAV file
//	speakers       - List and delete voice database speakers
//	embedding      - Delete single embeddings
//	test-match     - Show the nearest speakers for a WAV file
//	update         - Grow a speaker's evidence from a folder
//	add-short      - Add short-utterance evidence without verification
//	version        - Show version information
package main

import (
	"os"

	"github.com/haivivi/speakerid/cmd/speakerid/commands"
	"github.com/haivivi/speakerid/pkg/cli"
)

func main() {
	if err := commands.Execute(); err != nil {
		cli.PrintError("%v", err)
		os.Exit(1)
	}
}
