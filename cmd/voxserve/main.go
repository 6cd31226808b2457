package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fmueller/voxserve/internal/cli"
	"github.com/fmueller/voxserve/internal/transcription"
	"github.com/spf13/cobra"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

var usagePatterns = []string{
	"unknown command",
	"unknown flag",
	"unknown shorthand flag",
	"accepts ",
	"requires at least",
	"requires at most",
	"requires between",
	"required flag",
	"missing required",
}

func main() {
	cmd := cli.NewRootCmd()
	err := cmd.Execute()
	os.Exit(report(os.Stderr, cmd, os.Args[1:], err))
}

// report prints err for a human and returns the process exit code.
func report(w io.Writer, root *cobra.Command, args []string, err error) int {
	if err == nil {
		return 0
	}

	if te, ok := transcription.AsError(err); ok {
		fmt.Fprintf(w, "%s (%s)\n", te.Message, te.Code)
		return exitFailure
	}

	fmt.Fprintln(w, err)
	if shouldPrintUsageHint(err) {
		fmt.Fprintf(w, "Run '%s --help' for usage.\n", helpHintTarget(root, args))
		return exitUsage
	}
	return exitFailure
}

func shouldPrintUsageHint(err error) bool {
	if err == nil {
		return false
	}

	message := strings.ToLower(strings.TrimSpace(err.Error()))
	for _, pattern := range usagePatterns {
		if strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}

func helpHintTarget(root *cobra.Command, args []string) string {
	if root == nil {
		return "voxserve"
	}

	target := root.CommandPath()
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		return target
	}

	if found, _, err := root.Find(args); err == nil && found != nil {
		return found.CommandPath()
	}
	return target
}
