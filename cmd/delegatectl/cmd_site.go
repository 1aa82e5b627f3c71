package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/coredelegate/internal/config"
)

func init() {
	rootCmd.AddCommand(siteCmd)
	siteCmd.AddCommand(siteListCmd, siteLoginCmd, siteLogoutCmd)
}

var siteCmd = &cobra.Command{
	Use:   "site",
	Short: "Manage the known sites and the current one",
}

var siteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the known sites",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		setupLogging(cfg)
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		sites := a.Sites.Sites()
		if len(sites) == 0 {
			fmt.Println("No sites configured.")
			return nil
		}
		current := a.Sites.CurrentSiteID()

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tURL\tUSER\tVERSION\tCURRENT")
		for _, s := range sites {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
				s.ID,
				s.URL,
				s.Username,
				s.Version,
				s.ID == current,
			)
		}
		return w.Flush()
	},
}

var siteLoginCmd = &cobra.Command{
	Use:   "login <id|url>",
	Short: "Make a site the current one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		cfg.CurrentSite = args[0]
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		id := a.Sites.CurrentSiteID()
		a.Close()

		if err := config.SetValue(cfgPath, "current_site", string(id)); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Current site is %s.\n", id)
		return nil
	},
}

var siteLogoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Leave the current site",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		loadConfig()
		if err := config.SetValue(cfgPath, "current_site", `""`); err != nil {
			return err
		}
		fmt.Println("Logged out.")
		return nil
	},
}
