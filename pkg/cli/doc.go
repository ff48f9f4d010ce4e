// Package cli provides the terminal plumbing of the speakerid command:
// output formatting (YAML, JSON, table), styled status lines, and the
// per-user directory layout.
//
// Example usage:
//
//	cli.Output(speakers, cli.OutputOptions{Format: cli.FormatTable})
//	cli.PrintSuccess("renamed %s to %s", old, new)
package cli
