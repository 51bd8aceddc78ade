package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pganon/internal/domain"
	"pganon/internal/engine"
)

func newLabelCmd(a *app) *cobra.Command {
	var (
		column   string
		provider string
		text     string
		remove   bool
	)
	cmd := &cobra.Command{
		Use:   "label <kind> <name>",
		Short: "Set or remove the masking label of an object",
		Long: "Attach a masking label to a role, schema, table, column, function or database.\n" +
			"The label is validated against the rule grammar of its object kind before it is stored.\n\n" +
			"Examples:\n" +
			"  anon label role batman --label MASKED\n" +
			"  anon label column public.person --column lastname --label \"MASKED WITH VALUE NULL\"\n" +
			"  anon label schema anon --provider devtests --label TRUSTED\n" +
			"  anon label table public.invoice --remove",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if remove == cmd.Flags().Changed("label") {
				return fmt.Errorf("exactly one of --label and --remove is required")
			}
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if provider == "" {
				provider = a.flags.policy
			}
			target := engine.Target{Kind: domain.ObjectKind(args[0]), Name: args[1], Column: column}
			var label *string
			if !remove {
				label = &text
			}
			if err := eng.SetLabel(cmd.Context(), target, provider, label); err != nil {
				return err
			}
			if getOutputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]interface{}{
					"kind": target.Kind, "name": target.Name, "column": target.Column,
					"provider": provider, "label": label,
				})
			}
			if remove {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "label of %s %s removed\n", target.Kind, args[1])
			} else {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "label of %s %s set\n", target.Kind, args[1])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Column name (kind column)")
	cmd.Flags().StringVar(&provider, "provider", "", "Label provider (defaults to --policy)")
	cmd.Flags().StringVar(&text, "label", "", "Label text")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the label")
	return cmd
}
