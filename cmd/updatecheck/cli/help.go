package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newHelpCmd replaces cobra's help command. The hidden --tree flag prints
// every visible command as a tree, which is handy when writing docs.
func newHelpCmd(rootCmd *cobra.Command) *cobra.Command {
	var showTree bool

	helpCmd := &cobra.Command{
		Use:   "help [command]",
		Short: "Help about any command",
		Long: `Provides help for any updatecheck subcommand.
Simply type '` + rootCmd.Name() + ` help [command]' for full details.`,
		Run: func(cmd *cobra.Command, args []string) {
			if showTree {
				writeCommandTree(cmd.OutOrStdout(), rootCmd)
				return
			}

			target, _, err := rootCmd.Find(args)
			if err != nil || target == nil {
				target = rootCmd
			}
			target.SetOut(cmd.OutOrStdout())
			target.Help() //nolint:errcheck,gosec // Help() only fails on write errors
		},
	}

	helpCmd.Flags().BoolVarP(&showTree, "tree", "t", false, "Show full command tree")
	helpCmd.Flags().MarkHidden("tree") //nolint:errcheck,gosec // flag is defined above

	return helpCmd
}

func writeCommandTree(w io.Writer, root *cobra.Command) {
	fmt.Fprintln(w, root.Name())
	writeSubtree(w, root, "")
}

func writeSubtree(w io.Writer, cmd *cobra.Command, indent string) {
	subs := visibleSubcommands(cmd)
	for i, sub := range subs {
		branch, next := "├── ", indent+"│   "
		if i == len(subs)-1 {
			branch, next = "└── ", indent+"    "
		}
		fmt.Fprintf(w, "%s%s%s", indent, branch, sub.Name())
		if sub.Short != "" {
			fmt.Fprintf(w, " - %s", sub.Short)
		}
		fmt.Fprintln(w)
		writeSubtree(w, sub, next)
	}
}

func visibleSubcommands(cmd *cobra.Command) []*cobra.Command {
	var visible []*cobra.Command
	for _, sub := range cmd.Commands() {
		if sub.IsAvailableCommand() && sub.Name() != "help" {
			visible = append(visible, sub)
		}
	}
	return visible
}
