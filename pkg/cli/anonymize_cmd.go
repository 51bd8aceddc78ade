package cli

import (
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"pganon/internal/static"
)

func newAnonymizeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anonymize",
		Short: "Replace stored data with its masked form",
		Long:  "Static masking rewrites the rows in place. It cannot be undone.",
	}
	cmd.AddCommand(newAnonymizeTableCmd(a))
	cmd.AddCommand(newAnonymizeColumnCmd(a))
	cmd.AddCommand(newAnonymizeDatabaseCmd(a))
	return cmd
}

func newAnonymizeTableCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "table <table>",
		Short: "Anonymize one table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			res, err := eng.AnonymizeTable(cmd.Context(), args[0], a.flags.policy)
			if err != nil {
				return err
			}
			return printResults(cmd, []static.Result{res})
		},
	}
}

func newAnonymizeColumnCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "column <table> <column>",
		Short: "Anonymize one column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			applied, err := eng.AnonymizeColumn(cmd.Context(), args[0], args[1], a.flags.policy)
			if err != nil {
				return err
			}
			obj := map[string]interface{}{"table": args[0], "column": args[1], "applied": applied}
			return printResult(cmd, obj, func(w io.Writer) error {
				return printTable(w, []string{"TABLE", "COLUMN", "APPLIED"},
					[][]string{{args[0], args[1], boolText(applied)}})
			})
		},
	}
}

func newAnonymizeDatabaseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "database",
		Short: "Anonymize every user table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			results, err := eng.AnonymizeDatabase(cmd.Context(), a.flags.policy)
			if err != nil {
				return err
			}
			return printResults(cmd, results)
		},
	}
}

func printResults(cmd *cobra.Command, results []static.Result) error {
	objs := make([]map[string]interface{}, 0, len(results))
	rows := make([][]string, 0, len(results))
	for _, res := range results {
		objs = append(objs, map[string]interface{}{
			"table":         res.Table,
			"outcome":       res.Outcome.String(),
			"sampled":       res.Sampled,
			"rows_affected": res.RowsAffected,
		})
		rows = append(rows, []string{
			res.Table, res.Outcome.String(), boolText(res.Sampled), strconv.FormatInt(res.RowsAffected, 10),
		})
	}
	return printResult(cmd, map[string]interface{}{"tables": objs}, func(w io.Writer) error {
		return printTable(w, []string{"TABLE", "OUTCOME", "SAMPLED", "ROWS"}, rows)
	})
}
