package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

func newQueryCmd(a *app) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a statement as a role through the masking session",
		Long: "Run a statement against the database on behalf of --role. With\n" +
			"ANON_TRANSPARENT_DYNAMIC_MASKING on, statements of masked roles are rewritten first.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.flags.fixture != "" {
				return fmt.Errorf("query needs a database; it cannot run against a fixture")
			}
			if role == "" {
				return fmt.Errorf("--role is required")
			}
			eng, err := a.engine(cmd.Context())
			if err != nil {
				return err
			}
			pool, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			rows, err := eng.NewSession(pool).Query(cmd.Context(), role, args[0])
			if err != nil {
				return err
			}
			defer rows.Close()

			var header []string
			for _, fd := range rows.FieldDescriptions() {
				header = append(header, fd.Name)
			}
			var (
				records []map[string]interface{}
				cells   [][]string
			)
			for rows.Next() {
				values, err := rows.Values()
				if err != nil {
					return err
				}
				rec := make(map[string]interface{}, len(values))
				row := make([]string, len(values))
				for i, v := range values {
					rec[header[i]] = v
					if v == nil {
						row[i] = "NULL"
					} else {
						row[i] = fmt.Sprint(v)
					}
				}
				records = append(records, rec)
				cells = append(cells, row)
			}
			if err := rows.Err(); err != nil {
				return err
			}
			return printResult(cmd, map[string]interface{}{"columns": header, "rows": records}, func(w io.Writer) error {
				return printTable(w, header, cells)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "Role the statement runs for")
	return cmd
}
