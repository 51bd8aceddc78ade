package cli

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

// buildVersion prefers the version stamped by the linker and falls back to
// the module version recorded by "go install".
func buildVersion() string {
	if version != "dev" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return version
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the CLI version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := map[string]string{
				"version": buildVersion(),
				"commit":  commit,
				"go":      runtime.Version(),
			}
			return printResult(cmd, v, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "anon version %s (commit: %s, %s)\n", v["version"], v["commit"], v["go"])
				return err
			})
		},
	}
}
