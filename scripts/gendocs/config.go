package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/leapstack-labs/cubelsp/internal/cli/config"
)

// ConfigField represents a configuration key of cubelsp.yaml.
type ConfigField struct {
	Key         string
	Type        string
	Default     string
	Flag        string
	Description string
}

// getConfigSchema returns the keys of internal/cli/config.Config with their
// defaults taken from config.Default.
func getConfigSchema() []ConfigField {
	d := config.Default()
	return []ConfigField{
		{Key: "model", Type: "string", Flag: "--model", Description: "Semantic model file (YAML or JSON), relative to the config file"},
		{Key: "scanner.kind", Type: "string", Default: d.Scanner.Kind, Flag: "--scanner", Description: "Table reference scanner: regex, pgquery or external"},
		{Key: "scanner.external.command", Type: "[]string", Default: strings.Join(d.Scanner.External.Command, " "), Description: "Command run by the external scanner; the SQL is written to its stdin"},
		{Key: "scanner.external.timeout", Type: "duration", Default: d.Scanner.External.Timeout.String(), Flag: "--parser-timeout", Description: "Time limit for one external parser run"},
		{Key: "validation.match", Type: "string", Default: d.Validation.Match, Flag: "--match", Description: "How an ON clause is compared to the declared join: equal or contains"},
		{Key: "validation.require_join_condition", Type: "bool", Default: "false", Flag: "--require-join-condition", Description: "Warn when a JOIN of a known cube has no ON clause"},
		{Key: "server.listen", Type: "string", Default: d.Server.Listen, Flag: "--listen", Description: "Listen address of `serve`"},
		{Key: "server.path", Type: "string", Default: d.Server.Path, Flag: "--path", Description: "WebSocket endpoint path of `serve`"},
		{Key: "log_level", Type: "string", Default: d.LogLevel, Flag: "--log-level", Description: "debug, info, warn or error"},
		{Key: "verbose", Type: "bool", Default: "false", Flag: "-v", Description: "Same as log_level: debug"},
		{Key: "output", Type: "string", Default: d.OutputFormat, Flag: "-o", Description: "auto, text, markdown or json"},
	}
}

// envName returns the environment variable that sets key.
func envName(key string) string {
	return config.EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "__"))
}

// generateConfigDocs generates the configuration reference page.
func generateConfigDocs(outDir string) error {
	log.Printf("Generating configuration docs to %s", outDir)

	if err := os.MkdirAll(outDir, 0750); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	w := NewMarkdownWriter()
	w.Frontmatter("Configuration", "cubelsp configuration reference")
	w.GeneratedMarker()

	w.Header(1, "Configuration")
	w.Paragraph("cubelsp reads `cubelsp.yaml` from the working directory or the nearest parent directory. Pass `--config` to use another file.")

	w.Header(2, "Precedence")
	w.BulletList([]string{
		"Built-in defaults",
		InlineCode("cubelsp.yaml"),
		InlineCode(".env") + " in the project root",
		"Environment variables",
		"Command-line flags",
	})

	w.Header(2, "Keys")
	headers := []string{"Key", "Type", "Default", "Flag", "Environment"}
	var rows [][]string
	for _, f := range getConfigSchema() {
		def := "-"
		if f.Default != "" {
			def = InlineCode(f.Default)
		}
		flag := "-"
		if f.Flag != "" {
			flag = InlineCode(f.Flag)
		}
		rows = append(rows, []string{InlineCode(f.Key), f.Type, def, flag, InlineCode(envName(f.Key))})
	}
	w.Table(headers, rows)

	for _, f := range getConfigSchema() {
		w.Header(3, InlineCode(f.Key))
		w.Paragraph(f.Description + ".")
	}

	w.Header(2, "Example")
	w.CodeBlock("yaml", `model: cubes.yaml
scanner:
  kind: pgquery
validation:
  match: contains
  require_join_condition: true
server:
  listen: 127.0.0.1:3000`)

	filename := filepath.Join(outDir, "configuration.md")
	if err := os.WriteFile(filename, w.Bytes(), 0600); err != nil {
		return err
	}
	log.Printf("  Generated configuration.md")
	return nil
}
