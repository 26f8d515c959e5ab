// Command specforge turns feature requests into specifications, red-phase
// tests and reviewed implementations.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"specforge/pkg/config"
	"specforge/pkg/logx"
	"specforge/pkg/version"
)

// globalFlags are shared by every subcommand.
type globalFlags struct {
	projectDir string
	debug      bool
	logToFile  bool
	tee        bool
}

func main() {
	os.Exit(execute(os.Args[1:]))
}

func execute(args []string) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := rootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)

	if closeErr := logx.CloseLogFile(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func rootCmd() *cobra.Command {
	g := &globalFlags{}

	cmd := &cobra.Command{
		Use:   "specforge",
		Short: "Generate specification, tests and reviewed code from a feature request",
		Long: `specforge runs a fixed LLM pipeline over a feature request:

  1. a functional specification
  2. a red-phase test suite derived from it
  3. up to N implementation/review rounds, stopping at the first approval

Configuration lives in .specforge/config.yaml; API keys come from the
encrypted secrets file or the environment.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if g.debug {
				logx.SetDebug(true)
			}
			if g.logToFile {
				logDir := filepath.Join(g.projectDir, config.ProjectConfigDir, "logs")
				if err := logx.InitializeLogFile(logDir, g.tee); err != nil {
					return logx.Wrap(err, "open log file")
				}
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.projectDir, "dir", "C", ".", "project directory holding .specforge/")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging (see DEBUG_DOMAINS)")
	cmd.PersistentFlags().BoolVar(&g.logToFile, "log-file", false, "write logs to .specforge/logs instead of stderr")
	cmd.PersistentFlags().BoolVar(&g.tee, "tee", false, "with --log-file, also write logs to stderr")

	cmd.AddCommand(
		runCmd(g),
		batchCmd(g),
		watchCmd(g),
		secretsCmd(g),
		initCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version.String())
			},
		},
	)
	return cmd
}
