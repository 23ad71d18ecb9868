package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cubelsp/internal/cli/output"
	"github.com/leapstack-labs/cubelsp/internal/lsp"
	"github.com/leapstack-labs/cubelsp/internal/watch"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// ErrCheckFailed is returned when check reports at least one error.
var ErrCheckFailed = errors.New("check found errors")

// stdinPath names standard input in check output.
const stdinPath = "<stdin>"

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Watch bool // Re-run when files or the model change
}

// CheckOutput is the JSON form of a check run.
type CheckOutput struct {
	Summary CheckSummary `json:"summary"`
	Files   []CheckFile  `json:"files"`
}

// CheckSummary counts what a check run found.
type CheckSummary struct {
	Files    int `json:"files"`
	Errors   int `json:"errors"`
	Warnings int `json:"warnings"`
}

// CheckFile holds the diagnostics of one file.
type CheckFile struct {
	Path        string            `json:"path"`
	Diagnostics []CheckDiagnostic `json:"diagnostics"`
}

// CheckDiagnostic is one diagnostic with 1-based line and column.
type CheckDiagnostic struct {
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Severity string `json:"severity"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Table    string `json:"table,omitempty"`
}

// NewCheckCommand creates the check command.
func NewCheckCommand() *cobra.Command {
	opts := &CheckOptions{}
	cmd := &cobra.Command{
		Use:   "check [files...]",
		Short: "Validate SQL files against the semantic model",
		Long: `Run the same analysis the language server publishes as diagnostics,
without an editor.

Arguments are SQL files or directories (searched for *.sql). With no
arguments the query is read from stdin. The command fails when any error
diagnostic is found; warnings are reported but do not fail.

Output adapts to environment:
  - Terminal: Styled tables
  - Piped/Scripted: Markdown format
  - JSON: Machine-readable format`,
		Example: `  # Check every query under queries/
  cubelsp check queries/

  # Check a query from stdin as JSON
  echo "SELECT * FROM orders" | cubelsp check -o json

  # Re-check on every save
  cubelsp check queries/ --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-run when the files or the model change")

	return cmd
}

func runCheck(cmd *cobra.Command, opts *CheckOptions, args []string) error {
	cmdCtx := NewCommandContext(cmd)
	ctx := cmd.Context()

	idx, err := cmdCtx.LoadIndex(true)
	if err != nil {
		return err
	}
	sessionOpts, err := cmdCtx.SessionOptions()
	if err != nil {
		return err
	}
	analyzer := lsp.Analyzer{Scanner: sessionOpts.Scanner, Options: sessionOpts.Validation}

	if len(args) == 0 {
		if opts.Watch {
			return errors.New("--watch needs files or directories to watch")
		}
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		file := analyzeText(ctx, cmdCtx, analyzer, idx, stdinPath, string(data))
		return checkOutcome(renderCheck(cmdCtx.Renderer, []CheckFile{file}))
	}

	run := func(idx *semantic.Index) (CheckSummary, error) {
		files, err := expandSQLFiles(args)
		if err != nil {
			return CheckSummary{}, err
		}
		results := make([]CheckFile, 0, len(files))
		for _, path := range files {
			data, err := os.ReadFile(path) //nolint:gosec // G304: paths come from the command line
			if err != nil {
				return CheckSummary{}, fmt.Errorf("read %s: %w", path, err)
			}
			results = append(results, analyzeText(ctx, cmdCtx, analyzer, idx, path, string(data)))
		}
		return renderCheck(cmdCtx.Renderer, results), nil
	}

	summary, err := run(idx)
	if err != nil {
		return err
	}
	if !opts.Watch {
		return checkOutcome(summary)
	}

	w, err := watch.New(watch.Options{
		Paths:      append(append([]string(nil), args...), cmdCtx.Cfg.Model),
		Extensions: []string{".sql"},
		Logger:     cmdCtx.Logger,
	})
	if err != nil {
		return err
	}
	cmdCtx.Logger.Info("Watching for changes", "paths", args)

	return w.Run(ctx, func(changed []string) {
		for _, name := range changed {
			if name == cmdCtx.Cfg.Model {
				cubes, err := semantic.LoadFile(cmdCtx.Cfg.Model)
				if err != nil {
					cmdCtx.Logger.Error("Model reload failed, keeping previous model", "error", err)
					break
				}
				idx = semantic.BuildIndex(cubes)
				break
			}
		}
		cmdCtx.Renderer.Println("")
		if _, err := run(idx); err != nil {
			cmdCtx.Logger.Error("Check failed", "error", err)
		}
	})
}

func checkOutcome(summary CheckSummary) error {
	if summary.Errors > 0 {
		return fmt.Errorf("%w: %d errors, %d warnings", ErrCheckFailed, summary.Errors, summary.Warnings)
	}
	return nil
}

// expandSQLFiles replaces directories with the *.sql files below them.
func expandSQLFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}

		var found []string
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".sql") {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

func analyzeText(ctx context.Context, c *CommandContext, analyzer lsp.Analyzer, idx *semantic.Index, path, text string) CheckFile {
	diags, err := analyzer.Analyze(ctx, text, idx)
	if err != nil {
		c.Logger.Warn("Analysis failed, reporting no diagnostics", "file", path, "error", err)
	}

	file := CheckFile{Path: path, Diagnostics: make([]CheckDiagnostic, 0, len(diags))}
	for _, d := range diags {
		cd := CheckDiagnostic{
			Line:     int(d.Range.Start.Line) + 1,
			Column:   int(d.Range.Start.Character) + 1,
			Severity: d.Severity.String(),
			Code:     d.Code,
			Message:  d.Message,
		}
		if d.Data != nil {
			cd.Table = d.Data.TableName
		}
		file.Diagnostics = append(file.Diagnostics, cd)
	}
	return file
}

// renderCheck writes results in the renderer's mode and returns the totals.
func renderCheck(r *output.Renderer, files []CheckFile) CheckSummary {
	summary := CheckSummary{Files: len(files)}
	for _, f := range files {
		for _, d := range f.Diagnostics {
			switch d.Severity {
			case "error":
				summary.Errors++
			case "warning":
				summary.Warnings++
			}
		}
	}

	if r.EffectiveMode() == output.ModeJSON {
		_ = r.JSON(CheckOutput{Summary: summary, Files: files})
		return summary
	}

	if summary.Errors+summary.Warnings == 0 {
		r.Success(fmt.Sprintf("No problems found in %d files", summary.Files))
		return summary
	}

	for _, f := range files {
		if len(f.Diagnostics) == 0 {
			continue
		}
		r.Header(2, f.Path)

		rows := make([]table.Row, 0, len(f.Diagnostics))
		for _, d := range f.Diagnostics {
			rows = append(rows, table.Row{
				fmt.Sprintf("%d:%d", d.Line, d.Column),
				severityLabel(r, d.Severity),
				d.Code,
				d.Message,
			})
		}
		r.Table(table.Row{"Location", "Severity", "Code", "Message"}, rows)
		r.Println("")
	}

	r.Printf("Summary: %d errors, %d warnings in %d files\n", summary.Errors, summary.Warnings, summary.Files)
	return summary
}

func severityLabel(r *output.Renderer, severity string) string {
	switch severity {
	case "error":
		return r.Styles().Error.Render(severity)
	case "warning":
		return r.Styles().Warning.Render(severity)
	default:
		return r.Styles().Muted.Render(severity)
	}
}
