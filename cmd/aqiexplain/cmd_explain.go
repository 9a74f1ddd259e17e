package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"aqiexplain/internal/explainer"
	"aqiexplain/internal/logging"
	"aqiexplain/internal/models"
)

var explainFile string

var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain one request read from a file or stdin",
	Long: `Read one request document and print its assessment as JSON.
Files ending in .yaml or .yml are read as YAML, everything else as JSON.`,
	Example: `  aqiexplain explain --file request.json
  cat request.json | aqiexplain explain`,
	RunE: func(cmd *cobra.Command, args []string) error {
		exp := explainer.New(
			explainer.WithLogger(logging.Component(logger, "explainer")),
			explainer.WithSmoothingWindow(cfg.Engine.SmoothingWindow),
		)
		return runExplain(exp, explainFile, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(explainCmd)
	explainCmd.Flags().StringVarP(&explainFile, "file", "f", "-", "Request file, - for stdin")
}

func runExplain(exp *explainer.Explainer, path string, stdin io.Reader, out io.Writer) error {
	req, err := readRequest(path, stdin)
	if err != nil {
		return explainError(err)
	}

	a, err := exp.Explain(req)
	if err != nil {
		return explainError(err)
	}

	data, err := a.ToJSON()
	if err != nil {
		return err
	}
	var indented bytes.Buffer
	if err := json.Indent(&indented, data, "", "  "); err != nil {
		return err
	}
	indented.WriteByte('\n')
	_, err = out.Write(indented.Bytes())
	return err
}

// readRequest loads a request document; path "-" reads stdin as JSON
func readRequest(path string, stdin io.Reader) (models.Request, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return models.Request{}, fmt.Errorf("failed to read request: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return models.DecodeRequestYAML(data)
	default:
		return models.DecodeRequest(data)
	}
}

func explainError(err error) error {
	if explainer.IsEngineError(err) {
		return fmt.Errorf("%s: %w", models.ErrorCode(err), err)
	}
	return err
}
