package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/megware/xbatctld/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration",
	Long: `Resolve the configuration from defaults, the optional YAML file and
XBATCTLD_* environment variables, then print the result as YAML.
Credentials are redacted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		if cfg.MongoDB.Password != "" {
			cfg.MongoDB.Password = "<redacted>"
		}
		if cfg.QuestDB.Password != "" {
			cfg.QuestDB.Password = "<redacted>"
		}

		out, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("failed to render configuration: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	configCmd.Flags().String("config", "", "Path to the YAML configuration file")
}
