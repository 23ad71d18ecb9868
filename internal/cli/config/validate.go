package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/leapstack-labs/cubelsp/internal/cli/output"
	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/validator"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []error

	kind, err := scanner.ParseKind(c.Scanner.Kind)
	if err != nil {
		errs = append(errs, fmt.Errorf("scanner.kind: %w", err))
	}
	if kind == scanner.KindExternal {
		if len(c.Scanner.External.Command) == 0 || strings.TrimSpace(c.Scanner.External.Command[0]) == "" {
			errs = append(errs, errors.New("scanner.external.command is required for the external scanner"))
		}
		if c.Scanner.External.Timeout <= 0 {
			errs = append(errs, fmt.Errorf("scanner.external.timeout must be positive, got %s", c.Scanner.External.Timeout))
		}
	}

	if _, err := validator.ParseMatchPolicy(c.Validation.Match); err != nil {
		errs = append(errs, fmt.Errorf("validation.match: %w", err))
	}

	if c.OutputFormat != "" && !slices.Contains(output.Modes(), strings.ToLower(c.OutputFormat)) {
		errs = append(errs, fmt.Errorf("output: unknown format %q (available: %s)", c.OutputFormat, strings.Join(output.Modes(), ", ")))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	if c.Server.Path != "" && !strings.HasPrefix(c.Server.Path, "/") {
		errs = append(errs, fmt.Errorf("server.path must start with '/', got %q", c.Server.Path))
	}

	return errors.Join(errs...)
}

// ParseLogLevel parses debug, info, warn or error. Empty means info.
func ParseLogLevel(s string) (slog.Level, error) {
	if strings.TrimSpace(s) == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown level %q (available: debug, info, warn, error)", s)
	}
	return level, nil
}
