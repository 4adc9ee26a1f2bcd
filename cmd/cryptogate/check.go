package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/cryptogate/cryptogate/internal/config"
)

// checkCmd validates configuration without starting anything
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate configuration and print the effective settings",
	Long: `Load the configuration file over the built-in defaults, validate it,
and print the effective configuration as YAML.

Example usage:
  cryptogate check                        # Show the defaults
  cryptogate check --config=config.yaml  # Validate a file`,
	RunE: runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	if configPath != "" {
		fmt.Printf("# effective configuration (%s over defaults)\n", configPath)
	} else {
		fmt.Println("# effective configuration (defaults)")
	}
	if _, err := os.Stdout.Write(out); err != nil {
		return err
	}
	fmt.Println("configuration OK")
	return nil
}
