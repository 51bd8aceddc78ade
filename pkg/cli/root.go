// Package cli implements the anon command line: it drives the masking
// engine directly, either against a live PostgreSQL database or against an
// offline YAML fixture.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

// Execute runs the CLI.
func Execute() int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	rootCmd := newRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if getOutputFormat(rootCmd) == "json" {
			_ = printJSON(os.Stdout, errorObject(err))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "anon",
		Short: "PostgreSQL data masking engine",
		Long: "Command-line interface for the masking engine: rewrite queries for masked roles,\n" +
			"inspect masking rules, label objects and anonymize data in place.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			a.close()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&a.flags.databaseURL, "database-url", "", "PostgreSQL connection string (overrides DATABASE_URL)")
	pf.StringVar(&a.flags.fixture, "fixture", "", "YAML catalog fixture to run against instead of a database")
	pf.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	pf.StringVar(&a.flags.policy, "policy", "anon", "Masking policy to use")
	pf.StringVar(&a.flags.policies, "masking-policies", "", "Comma separated extra masking policies (overrides ANON_MASKING_POLICIES)")
	a.flags.output = "table"
	pf.VarP(&a.flags.output, "output", "o", "Output format (table, json)")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newMigrateCmd(a))

	rootCmd.AddCommand(newPoliciesCmd(a))
	rootCmd.AddCommand(newRolePolicyCmd(a))
	rootCmd.AddCommand(newRewriteCmd(a))
	rootCmd.AddCommand(newQueryCmd(a))
	rootCmd.AddCommand(newExpressionsCmd(a))
	rootCmd.AddCommand(newValueCmd(a))
	rootCmd.AddCommand(newCheckFunctionCmd(a))

	rootCmd.AddCommand(newAnonymizeCmd(a))
	rootCmd.AddCommand(newLabelCmd(a))

	// Shell completions
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func newCompletionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			default:
				return fmt.Errorf("unsupported shell: %s", args[0])
			}
		},
	}
	return cmd
}
