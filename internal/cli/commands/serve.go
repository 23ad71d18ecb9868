package commands

import (
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/cubelsp/internal/server"
	"github.com/leapstack-labs/cubelsp/internal/watch"
	"github.com/leapstack-labs/cubelsp/pkg/semantic"
)

// ServeOptions holds options for the serve command.
type ServeOptions struct {
	Watch bool // Reload the model file when it changes
}

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	opts := &ServeOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the language server over WebSocket",
		Long: `Start the language server as a WebSocket endpoint.

Every connection gets its own session, seeded with the semantic model as it
is when the connection opens. Each WebSocket text frame carries one JSON-RPC
message. GET /healthz reports the number of loaded cubes.`,
		Example: `  # Serve on the configured address (default :3000, path /lsp)
  cubelsp serve --model cubes.yaml

  # Reload cubes.yaml for new connections whenever it changes
  cubelsp serve --model cubes.yaml --watch --listen 127.0.0.1:3000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().String("listen", "", "Listen address (default :3000)")
	cmd.Flags().String("path", "", "WebSocket endpoint path (default /lsp)")
	cmd.Flags().BoolVar(&opts.Watch, "watch", false, "Reload the semantic model when its file changes")

	return cmd
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cmdCtx := NewCommandContext(cmd)
	cfg := cmdCtx.Cfg

	idx, err := cmdCtx.LoadIndex(false)
	if err != nil {
		return err
	}
	sessionOpts, err := cmdCtx.SessionOptions()
	if err != nil {
		return err
	}

	model := semantic.NewModel(idx)
	srv := server.New(server.Config{
		Listen:  cfg.Server.Listen,
		Path:    cfg.Server.Path,
		Model:   model,
		Session: sessionOpts,
		Logger:  cmdCtx.Logger,
	})

	eg, egctx := errgroup.WithContext(cmd.Context())
	eg.Go(func() error {
		return srv.Serve(egctx)
	})

	if opts.Watch {
		if cfg.Model == "" {
			cmdCtx.Logger.Warn("--watch has no effect without a semantic model")
		} else {
			w, err := watch.New(watch.Options{Paths: []string{cfg.Model}, Logger: cmdCtx.Logger})
			if err != nil {
				return err
			}
			eg.Go(func() error {
				return w.Run(egctx, func([]string) {
					reloadModel(cmdCtx, model)
				})
			})
		}
	}

	return eg.Wait()
}

// reloadModel swaps in the model file's current content. A file that fails
// to load keeps the previous model.
func reloadModel(c *CommandContext, model *semantic.Model) {
	cubes, err := semantic.LoadFile(c.Cfg.Model)
	if err != nil {
		c.Logger.Error("Model reload failed, keeping previous model", "error", err)
		return
	}
	idx := semantic.BuildIndex(cubes)
	model.Swap(idx)
	c.Logger.Info("Reloaded semantic model", "path", c.Cfg.Model, "cubes", idx.Len())
}
