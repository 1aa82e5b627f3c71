package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(handlersCmd)
}

var handlersCmd = &cobra.Command{
	Use:   "handlers",
	Short: "List the registered handlers of every delegate",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.UpdateHandlers(context.Background()); err != nil {
			return fmt.Errorf("update handlers: %w", err)
		}

		inv := a.Inventory()
		names := make([]string, 0, len(inv))
		for name := range inv {
			names = append(names, name)
		}
		sort.Strings(names)

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DELEGATE\tHANDLER\tTYPE\tPRIORITY\tSTATE")
		for _, name := range names {
			for _, info := range inv[name] {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					name,
					info.Name,
					info.TypeKey,
					info.Priority,
					info.Enabled,
				)
			}
		}
		return w.Flush()
	},
}
