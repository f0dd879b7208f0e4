// Command drain-agent drains a channel into a store until it is signalled to stop.
//
// The channel and store are chosen in the YAML configuration; every setting
// can be overridden with DRAIN_* environment variables or a .env file.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/velmie/drain"
)

const (
	exitFailure = 1
	exitUsage   = 2
)

type globalFlags struct {
	configPath string
	envFiles   []string
}

func main() {
	cmd := newRootCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		if errors.Is(err, drain.ErrConfiguration) {
			os.Exit(exitUsage)
		}
		os.Exit(exitFailure)
	}
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "drain-agent",
		Short:         "Drain events from a channel into a store in transactional batches",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to the YAML configuration file")
	root.PersistentFlags().StringSliceVar(&flags.envFiles, "env-file", []string{".env"}, "Env files loaded before DRAIN_* overrides are applied")

	root.AddCommand(
		newRunCommand(flags),
		newSchemaCommand(flags),
		newCleanupCommand(flags),
	)

	return root
}
