package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pganon/internal/domain"
	"pganon/internal/trust"
)

// outputFormat is the value of --output. It rejects unknown formats while
// the flags are parsed.
type outputFormat string

var _ pflag.Value = (*outputFormat)(nil)

func (f *outputFormat) String() string { return string(*f) }

func (f *outputFormat) Set(v string) error {
	if err := validateOutputFormat(v); err != nil {
		return err
	}
	*f = outputFormat(v)
	return nil
}

func (f *outputFormat) Type() string { return "format" }

// getOutputFormat returns the effective output format from the root command's persistent flags.
func getOutputFormat(cmd *cobra.Command) string {
	if f := cmd.Root().PersistentFlags().Lookup("output"); f != nil {
		return f.Value.String()
	}
	return ""
}

func validateOutputFormat(output string) error {
	if output != "" && output != "table" && output != "json" {
		return fmt.Errorf("unsupported output format %q: use 'table' or 'json'", output)
	}
	return nil
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes an aligned table. Rows shorter than the header are padded.
func printTable(w io.Writer, header []string, rows [][]string) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, row := range rows {
		cells := make([]string, len(header))
		copy(cells, row)
		fmt.Fprintln(tw, strings.Join(cells, "\t"))
	}
	return tw.Flush()
}

// printResult renders obj as JSON, or calls table for the table format.
func printResult(cmd *cobra.Command, obj interface{}, table func(io.Writer) error) error {
	if getOutputFormat(cmd) == "json" {
		return printJSON(cmd.OutOrStdout(), obj)
	}
	return table(cmd.OutOrStdout())
}

// errorObject describes err for JSON output, with the error class when the
// engine reported one.
func errorObject(err error) map[string]interface{} {
	obj := map[string]interface{}{"error": err.Error()}
	if code := errorCode(err); code != "" {
		obj["code"] = code
	}
	return obj
}

func errorCode(err error) string {
	var (
		notFound    *domain.NotFoundError
		invalidObj  *domain.InvalidObjectError
		invalidIn   *domain.InvalidInputError
		privilege   *domain.InsufficientPrivilegeError
		unsupported *domain.FeatureNotSupportedError
		internal    *domain.InternalError
		untrusted   *trust.Error
	)
	switch {
	case errors.As(err, &untrusted):
		return "untrusted_function"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &invalidObj):
		return "invalid_object"
	case errors.As(err, &invalidIn):
		return "invalid_input"
	case errors.As(err, &privilege):
		return "insufficient_privilege"
	case errors.As(err, &unsupported):
		return "feature_not_supported"
	case errors.As(err, &internal):
		return "internal"
	}
	return ""
}

func boolText(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
