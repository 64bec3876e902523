package cli

import (
	"fmt"

	"github.com/entireio/updatecheck/cmd/updatecheck/cli/versioncmp"
	"github.com/spf13/cobra"
)

func newCompareCmd() *cobra.Command {
	var updateAvailable bool

	cmd := &cobra.Command{
		Use:   "compare <v1> <v2>",
		Short: "Compare two version strings",
		Long: `Compare two versions and print -1, 0 or 1 when v1 is older than, equal to
or newer than v2. Missing components count as zero, so 1.2 equals 1.2.0, and
a pre-release (1.2.0-beta) orders before its release.

With --update-available, print whether v2 is a valid update for v1 instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if updateAvailable {
				fmt.Fprintln(w, versioncmp.IsUpdateAvailable(args[0], args[1]))
				return nil
			}
			n, err := versioncmp.Compare(args[0], args[1])
			if err != nil {
				return fmt.Errorf("comparing versions: %w", err)
			}
			fmt.Fprintln(w, n)
			return nil
		},
	}

	cmd.Flags().BoolVar(&updateAvailable, "update-available", false, "Print whether v2 is newer than v1")

	return cmd
}
