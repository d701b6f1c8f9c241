package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var loadCmd = &cobra.Command{
	Use:   "load [files...]",
	Short: "Bulk-insert JSONL records into a model",
	Long: `Read newline-delimited JSON records from the given files (glob
patterns are expanded) and insert them into a model on a running server.
Each line must be an object matching the model's schema, with vector fields
as arrays of numbers.

Examples:
  modeldb load -m root/default/main/DataModel records.jsonl
  modeldb load -m root/default/main/DataModel "dumps/**/*.jsonl"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLoad,
}

var (
	loadModel string
	loadAddr  string
	loadBatch int
)

func init() {
	loadCmd.Flags().StringVarP(&loadModel, "model", "m", "", "model key as namespace/workspace/repository/model (required)")
	loadCmd.Flags().StringVar(&loadAddr, "addr", "http://localhost:8001", "server base URL")
	loadCmd.Flags().IntVar(&loadBatch, "batch", 100, "records per request")
	_ = loadCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(loadCmd)
}

func runLoad(cmd *cobra.Command, args []string) error {
	parts := strings.Split(loadModel, "/")
	if len(parts) != 4 {
		return fmt.Errorf("invalid model key %q: want namespace/workspace/repository/model", loadModel)
	}
	indexURL := fmt.Sprintf("%s/namespaces/%s/workspaces/%s/repositories/%s/models/%s/index",
		strings.TrimRight(loadAddr, "/"), parts[0], parts[1], parts[2], parts[3])

	files, err := expandGlobs(args)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files matched")
	}

	total := 0
	for _, file := range files {
		n, err := countLines(file)
		if err != nil {
			return err
		}
		total += n
	}

	bar := progressbar.Default(int64(total), "loading")
	loaded := 0

	for _, file := range files {
		n, err := loadFile(indexURL, file, bar)
		if err != nil {
			return fmt.Errorf("%s: %w", file, err)
		}
		loaded += n
	}

	fmt.Printf("\nLoaded %d records into %s\n", loaded, loadModel)
	return nil
}

func expandGlobs(patterns []string) ([]string, error) {
	var files []string
	for _, pattern := range patterns {
		if !strings.ContainsAny(pattern, "*?[{") {
			files = append(files, pattern)
			continue
		}
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	return files, nil
}

func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	return n, scanner.Err()
}

func loadFile(indexURL, path string, bar *progressbar.ProgressBar) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	loaded := 0
	batch := make([]map[string]any, 0, loadBatch)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := postRecords(indexURL, batch); err != nil {
			return err
		}
		loaded += len(batch)
		_ = bar.Add(len(batch))
		batch = batch[:0]
		return nil
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal(raw, &row); err != nil {
			return loaded, fmt.Errorf("line %d: %w", line, err)
		}
		batch = append(batch, row)
		if len(batch) >= loadBatch {
			if err := flush(); err != nil {
				return loaded, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return loaded, err
	}
	return loaded, flush()
}

func postRecords(indexURL string, records []map[string]any) error {
	body, err := json.Marshal(map[string]any{"records": records})
	if err != nil {
		return err
	}
	resp, err := http.Post(indexURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return fmt.Errorf("server returned %d (%s): %s", resp.StatusCode, apiErr.Error, apiErr.Message)
	}
	return nil
}
