package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pganon/internal/engine"
	"pganon/internal/pgsql"
	"pganon/internal/trust"
)

func newPoliciesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "policies",
		Short: "List the masking policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			policies := eng.Policies()
			return printResult(cmd, map[string]interface{}{"policies": policies}, func(w io.Writer) error {
				rows := make([][]string, 0, len(policies))
				for _, p := range policies {
					rows = append(rows, []string{p})
				}
				return printTable(w, []string{"POLICY"}, rows)
			})
		},
	}
}

func newRolePolicyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "role-policy <role>",
		Short: "Show the policy a role is masked by",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			policy, masked, err := eng.MaskingPolicyOf(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			obj := map[string]interface{}{"role": args[0], "masked": masked, "policy": policy}
			return printResult(cmd, obj, func(w io.Writer) error {
				return printTable(w, []string{"ROLE", "MASKED", "POLICY"},
					[][]string{{args[0], boolText(masked), policy}})
			})
		},
	}
}

func newRewriteCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "rewrite <sql>",
		Short: "Rewrite a statement the way a masked session would run it",
		Long: "Rewrite a statement for --role, or for --policy when no role is given.\n" +
			"Statements a masked role may not run are reported as errors.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			if role != "" && cmd.Flags().Changed("policy") {
				return fmt.Errorf("--role and --policy are mutually exclusive")
			}
			var out engine.Rewritten
			if role != "" {
				out, err = eng.Rewrite(cmd.Context(), role, args[0])
			} else {
				out, err = eng.RewriteForPolicy(cmd.Context(), a.flags.policy, args[0])
			}
			if err != nil {
				return err
			}
			obj := map[string]interface{}{
				"sql": out.SQL, "policy": out.Policy, "changed": out.Changed, "masked_relations": out.Masked,
			}
			return printResult(cmd, obj, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, out.SQL)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Rewrite for the policy this role is masked by")
	return cmd
}

func newExpressionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "expressions <table>",
		Short: "Show the masking select list of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			exprs, masked, err := eng.TableMaskingExpressions(cmd.Context(), args[0], a.flags.policy)
			if err != nil {
				return err
			}
			obj := map[string]interface{}{
				"table": args[0], "policy": a.flags.policy, "expressions": exprs, "masked": masked,
			}
			return printResult(cmd, obj, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, exprs)
				return err
			})
		},
	}
}

func newValueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "value <table> <column>",
		Short: "Show the masking expression of one column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			ce, err := eng.ValueForColumn(cmd.Context(), args[0], args[1], a.flags.policy)
			if err != nil {
				return err
			}
			obj := map[string]interface{}{
				"table": args[0], "column": args[1], "policy": a.flags.policy,
				"expression": ce.Expr, "masked": ce.Masked,
			}
			return printResult(cmd, obj, func(w io.Writer) error {
				return printTable(w, []string{"COLUMN", "MASKED", "EXPRESSION"},
					[][]string{{args[1], boolText(ce.Masked), ce.Expr}})
			})
		},
	}
}

func newCheckFunctionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check-function <call>",
		Short: "Verify that a masking function call only uses trusted functions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			call := strings.TrimSpace(args[0])
			if err := eng.CheckFunction(cmd.Context(), call, a.flags.policy); err != nil {
				var te *trust.Error
				if errors.As(err, &te) {
					return fmt.Errorf("untrusted (%s): %w", te.Reason.String(), err)
				}
				return err
			}
			schema, _ := pgsql.FunctionSchema(call)
			obj := map[string]interface{}{"call": call, "trusted": true, "schema": schema}
			return printResult(cmd, obj, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "trusted (schema %s)\n", schema)
				return err
			})
		},
	}
}
