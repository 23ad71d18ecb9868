package commands

import (
	"github.com/spf13/cobra"

	"github.com/leapstack-labs/cubelsp/internal/lsp"
)

// NewLSPCommand creates the lsp command.
func NewLSPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lsp",
		Short: "Start the language server on stdin/stdout",
		Long: `Start the language server for editor integration.

The server communicates over stdin/stdout using Content-Length framed
JSON-RPC. Diagnostics are computed against the configured semantic model;
clients may replace it at any time with an update-schema message.
Logs go to stderr.`,
		Example: `  # Start the server (usually launched by an editor)
  cubelsp lsp --model cubes.yaml

  # Validate with the Postgres grammar instead of the line scanner
  cubelsp lsp --scanner pgquery`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLSP(cmd)
		},
	}

	return cmd
}

func runLSP(cmd *cobra.Command) error {
	cmdCtx := NewCommandContext(cmd)

	idx, err := cmdCtx.LoadIndex(false)
	if err != nil {
		return err
	}
	opts, err := cmdCtx.SessionOptions()
	if err != nil {
		return err
	}

	session := lsp.NewSessionWithLogger(idx, opts, cmdCtx.Logger)
	server := lsp.NewServerWithLogger(cmd.InOrStdin(), cmd.OutOrStdout(), session, cmdCtx.Logger)
	return server.Run(cmd.Context())
}
