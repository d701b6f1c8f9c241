package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"modeldb/config"
)

var (
	cfgFile string
	cfg     *config.Config
	dataDir string
)

var rootCmd = &cobra.Command{
	Use:   "modeldb",
	Short: "modeldb - schema-driven document model registry with exact vector search",
	Long: `modeldb registers document models (record schemas) under a
namespace/workspace/repository hierarchy and serves exact nearest-neighbor
search over each model's in-memory vector index.

Example usage:
  modeldb serve                          # Run the HTTP server
  modeldb models                         # List registered models
  modeldb load -m ns/ws/repo/Doc *.jsonl # Bulk-insert records`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if dataDir == "" {
			dataDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(dataDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./modeldb.yaml)")
	rootCmd.PersistentFlags().StringVarP(&dataDir, "dir", "d", "", "data directory (default is current directory)")
}

func GetConfig() *config.Config {
	return cfg
}

func GetDataDir() string {
	return dataDir
}
