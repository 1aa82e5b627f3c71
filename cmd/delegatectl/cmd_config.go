package main

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/user/coredelegate/internal/config"
	"github.com/user/coredelegate/internal/types"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd, configPathCmd, configAddSiteCmd)

	configAddSiteCmd.Flags().String("version", "", "site version, e.g. 4.1")
	configAddSiteCmd.Flags().StringSlice("disable", nil, "features the site disables")
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all configuration values",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		values, err := config.ListValues(loadConfig(), true)
		if err != nil {
			return fmt.Errorf("list config: %w", err)
		}
		for _, k := range slices.Sorted(maps.Keys(values)) {
			fmt.Fprintf(os.Stdout, "%s = %v\n", k, values[k])
		}
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := config.GetValue(cfgPath, args[0])
		if err != nil {
			return err
		}
		switch val.(type) {
		case map[string]any, []any:
			// Inner nodes print like list, restricted to the key.
			flat := config.MaskSecrets(config.Flatten(map[string]any{args[0]: val}))
			for _, k := range slices.Sorted(maps.Keys(flat)) {
				fmt.Fprintf(os.Stdout, "%s = %v\n", k, flat[k])
			}
			return nil
		}
		if config.IsSecretKey(args[0]) {
			val = "***"
		}
		fmt.Fprintln(os.Stdout, val)
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		loadConfig()
		if err := config.SetValue(cfgPath, args[0], args[1]); err != nil {
			return err
		}
		display := args[1]
		if config.IsSecretKey(args[0]) {
			display = "***"
		}
		fmt.Fprintf(os.Stdout, "Set %s = %s\n", args[0], display)
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file path",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(os.Stdout, cfgPath)
		return nil
	},
}

var configAddSiteCmd = &cobra.Command{
	Use:   "add-site <url> <username>",
	Short: "Add a site account",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		version, _ := cmd.Flags().GetString("version")
		disabled, _ := cmd.Flags().GetStringSlice("disable")

		cfg := loadConfig()
		id := types.NewSiteID(args[0], args[1])
		for _, s := range cfg.Sites {
			if types.NewSiteID(s.URL, s.Username) == id {
				return fmt.Errorf("site %s already configured for %s", args[0], args[1])
			}
		}
		cfg.Sites = append(cfg.Sites, config.SiteConfig{
			URL:              args[0],
			Username:         args[1],
			Version:          version,
			DisabledFeatures: disabled,
		})
		if err := config.Save(cfgPath, cfg); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Site %s added.\n", id)
		return nil
	},
}
