package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var AppVersion string

// errExit signals a non-zero exit after the command already reported why.
var errExit = errors.New("exit")

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	if args == nil {
		args = []string{}
	}
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.Execute(); err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(stderr, "mailbroker-admin: %v\n", err) //nolint:errcheck // best-effort stderr
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := newOptions()

	root := &cobra.Command{
		Use:           "mailbroker-admin",
		Short:         "Administer a running mail broker server",
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       AppVersion,
	}
	opts.bindFlags(root)
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newKeysCmd(opts, stdout, stderr),
		newUsageCmd(opts, stdout, stderr),
		newMonitorsCmd(opts, stdout, stderr),
		newBroadcastCmd(opts, stdout, stderr),
		newProviderCmd(opts, stdout, stderr),
	)
	return root
}
