package cli

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"modeldb/config"
	"modeldb/internal/catalog"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List registered models",
	Long: `List the model keys persisted in the catalog, optionally filtered by
a glob over the namespace/workspace/repository/model path.

Examples:
  modeldb models
  modeldb models --match 'root/**/Data*'`,
	RunE: runModels,
}

var modelsMatch string

func init() {
	modelsCmd.Flags().StringVar(&modelsMatch, "match", "", "glob filter over model keys")
	rootCmd.AddCommand(modelsCmd)
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()
	path := cfg.Storage.Path
	if path == "" {
		path = config.CatalogPath(GetDataDir())
	}

	cat, err := catalog.OpenReadOnly(path)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	defer cat.Close()

	count := 0
	err = cat.ForEachModel(func(ref catalog.ModelRef) error {
		key := ref.Namespace + "/" + ref.Workspace + "/" + ref.Repository + "/" + ref.Model
		if modelsMatch != "" {
			ok, err := doublestar.Match(modelsMatch, key)
			if err != nil {
				return fmt.Errorf("invalid pattern %q: %w", modelsMatch, err)
			}
			if !ok {
				return nil
			}
		}
		fmt.Printf("%s\t%s\n", key, ref.Def.BaseShape)
		count++
		return nil
	})
	if err != nil {
		return err
	}

	if count == 0 {
		fmt.Println("no models registered")
	}
	return nil
}
