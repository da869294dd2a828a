package cmd

import (
	"fmt"
	"os"

	"github.com/MeKo-Tech/kappi/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// configCmd groups configuration helpers.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and generate configuration files",
	Long: `Inspect the effective configuration or write a default configuration file.

Configuration is read from kappi.yaml in the search paths, KAPPI_* environment
variables (e.g. KAPPI_SERVER_PORT) and command-line flags, in increasing
order of precedence.`,
}

var configInitCmd = &cobra.Command{
	Use:          "init [file]",
	Short:        "Write a configuration file with the default settings",
	Args:         cobra.MaximumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		filename := config.ConfigFileName + ".yaml"
		if len(args) == 1 {
			filename = args[0]
		}
		force, _ := cmd.Flags().GetBool("force")
		if _, err := os.Stat(filename); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", filename)
		}
		if err := config.GenerateDefaultConfigFile(filename); err != nil {
			return fmt.Errorf("failed to write config file: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration written to %s\n", filename)
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:          "show",
	Short:        "Print the effective configuration as YAML",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := *GetConfig()
		if info, _ := cmd.Flags().GetBool("sources"); info {
			GetConfigLoader().PrintConfigInfo(cmd.ErrOrStderr())
		}
		if cfg.Server.JWTSecret != "" {
			cfg.Server.JWTSecret = "********"
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			return err
		}
		return enc.Close()
	},
}

var configValidateCmd = &cobra.Command{
	Use:          "validate",
	Short:        "Validate the effective configuration",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("configuration is invalid: %w", err)
		}
		used := GetConfigLoader().GetConfigFileUsed()
		if used == "" {
			used = "defaults (no config file found)"
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid: %s\n", used)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd, configShowCmd, configValidateCmd)
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configShowCmd.Flags().Bool("sources", false, "also print where configuration is read from (stderr)")
}
