package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// NewMkconfCommand writes the effective configuration to the config file
func NewMkconfCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "mkconf",
		Short: "Write the effective configuration to the config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfigFile(cmd, false)
			if err != nil {
				return err
			}
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s exists, use --force to overwrite it", configPath)
			}
			f, err := os.Create(configPath)
			if err != nil {
				return errors.Wrap(err, "create config file")
			}
			defer f.Close()
			if err := c.WriteYAML(f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", configPath)
			return nil
		},
	}
	addRunFlags(cmd.Flags())
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	return cmd
}

// NewConfCommand prints the effective configuration
func NewConfCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conf",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return c.WriteYAML(cmd.OutOrStdout())
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

// NewVersionCommand prints the version
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "brakecal version %v\n", Version)
		},
	}
}
