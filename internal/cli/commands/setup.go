package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cubelsp/internal/cli/config"
	"github.com/leapstack-labs/cubelsp/internal/cli/output"
	"github.com/leapstack-labs/cubelsp/internal/lsp"
	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// ErrNoModel is returned by commands that need a semantic model when none
// is configured.
var ErrNoModel = errors.New("no semantic model configured: set model in cubelsp.yaml or pass --model")

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
}

// NewCommandContext creates a CommandContext from the command's context.
func NewCommandContext(cmd *cobra.Command) *CommandContext {
	cfg := config.GetConfig(cmd.Context())
	return &CommandContext{
		Cfg:      cfg,
		Logger:   config.GetLogger(cmd.Context()),
		Renderer: output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat)),
	}
}

// LoadIndex loads the configured model file. With no model configured it
// returns ErrNoModel when required and an empty index otherwise.
func (c *CommandContext) LoadIndex(required bool) (*semantic.Index, error) {
	if c.Cfg.Model == "" {
		if required {
			return nil, ErrNoModel
		}
		c.Logger.Info("No semantic model configured, starting empty")
		return semantic.BuildIndex(nil), nil
	}

	cubes, err := semantic.LoadFile(c.Cfg.Model)
	if err != nil {
		return nil, err
	}
	idx := semantic.BuildIndex(cubes)
	c.Logger.Debug("Loaded semantic model", "path", c.Cfg.Model, "cubes", idx.Len())
	return idx, nil
}

// SessionOptions builds the per-session options from the configuration.
func (c *CommandContext) SessionOptions() (lsp.SessionOptions, error) {
	scanOpts, err := c.Cfg.ScannerOptions()
	if err != nil {
		return lsp.SessionOptions{}, err
	}
	sc, err := scanner.New(scanOpts)
	if err != nil {
		return lsp.SessionOptions{}, fmt.Errorf("create scanner: %w", err)
	}
	valOpts, err := c.Cfg.ValidationOptions()
	if err != nil {
		return lsp.SessionOptions{}, err
	}
	return lsp.SessionOptions{Scanner: sc, Validation: valOpts}, nil
}
