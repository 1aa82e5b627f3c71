package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/user/coredelegate/internal/contentlinks"
	"github.com/user/coredelegate/internal/types"
)

func init() {
	rootCmd.AddCommand(linksCmd)
	linksCmd.AddCommand(linksResolveCmd)

	linksResolveCmd.Flags().Int64("course", 0, "course the link was found in")
	linksResolveCmd.Flags().String("username", "", "only consider sites of this user")
	linksResolveCmd.Flags().String("site", "", "site to run the action in when several apply")
	linksResolveCmd.Flags().Bool("external", false, "open unhandled links externally")
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Resolve content links",
}

var linksResolveCmd = &cobra.Command{
	Use:   "resolve <url>",
	Short: "Resolve a URL to an in-app action and run it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		courseID, _ := cmd.Flags().GetInt64("course")
		username, _ := cmd.Flags().GetString("username")
		site, _ := cmd.Flags().GetString("site")
		external, _ := cmd.Flags().GetBool("external")

		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx := context.Background()
		if err := a.UpdateHandlers(ctx); err != nil {
			return fmt.Errorf("update handlers: %w", err)
		}

		res, err := a.Resolver.Resolve(ctx, args[0], contentlinks.ResolveOptions{
			CourseID:       courseID,
			Username:       username,
			SiteID:         types.SiteID(site),
			OpenExternally: external,
		})
		if err != nil {
			return fmt.Errorf("resolve: %w", err)
		}

		out := struct {
			contentlinks.Resolution
			Navigations any `json:"navigations,omitempty"`
		}{Resolution: res, Navigations: a.History.Visits()}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
