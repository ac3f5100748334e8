package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/archivista/muster/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitFlags struct {
	path  string
	force bool
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !configInitFlags.force {
			if _, err := os.Stat(configInitFlags.path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", configInitFlags.path)
			}
		}
		if err := config.WriteDefault(configInitFlags.path); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", configInitFlags.path)
		return nil
	},
}

func init() {
	configInitCmd.Flags().StringVar(&configInitFlags.path, "path", "config.yaml", "where to write the config file")
	configInitCmd.Flags().BoolVar(&configInitFlags.force, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}
