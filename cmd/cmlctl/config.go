package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cml-project/cml/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Read and write project configuration",
	Long: `Manage <project-dir>/config.yaml, the layered config read by every
other cmlctl command and by the hook binaries.

Examples:
  cmlctl config set vector_backend qdrant
  cmlctl config get top_k_default
  cmlctl config list`,
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print a single configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadConfigViper()
		if err != nil {
			return err
		}
		key := args[0]
		if !v.IsSet(key) {
			return fmt.Errorf("config: unknown key %q", key)
		}
		fmt.Println(v.Get(key))
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value in config.yaml",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadConfigViper()
		if err != nil {
			return err
		}
		v.Set(args[0], args[1])

		if err := os.MkdirAll(projectDir, 0o755); err != nil {
			return fmt.Errorf("config: create project dir: %w", err)
		}
		configPath := filepath.Join(projectDir, "config.yaml")
		if err := v.WriteConfigAs(configPath); err != nil {
			return fmt.Errorf("config: write %s: %w", configPath, err)
		}
		fmt.Printf("set %s = %s\n", args[0], args[1])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print every configuration key and its effective value",
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := loadConfigViper()
		if err != nil {
			return err
		}
		keys := v.AllKeys()
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s = %v\n", k, v.Get(k))
		}
		return nil
	},
}

// loadConfigViper builds a viper.Viper seeded with defaults plus
// <projectDir>/config.yaml, mirroring internal/config.Load but keeping
// the *viper.Viper around so config set can rewrite the file in place.
func loadConfigViper() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for key, val := range config.StructToMap(config.Defaults()) {
		v.SetDefault(key, val)
	}

	configPath := filepath.Join(projectDir, "config.yaml")
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	}
	return v, nil
}

func init() {
	configCmd.AddCommand(configGetCmd, configSetCmd, configListCmd)
}
