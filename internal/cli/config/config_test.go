package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/cubelsp/internal/testutil"
	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/validator"
)

// newFlags mirrors the flags the CLI registers.
func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.String("model", "", "")
	fs.String("scanner", "", "")
	fs.Duration("parser-timeout", 0, "")
	fs.String("match", "", "")
	fs.Bool("require-join-condition", false, "")
	fs.String("listen", "", "")
	fs.String("path", "", "")
	fs.String("log-level", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.StringP("output", "o", "", "")
	fs.Bool("watch", false, "")
	return fs
}

// inTempProject changes into a fresh directory for the test.
func inTempProject(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	t.Chdir(dir)
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := inTempProject(t)

	cfg, err := Load("", newFlags())
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Empty(t, cfg.ConfigFile)
	assert.Empty(t, cfg.Model)
	assert.Equal(t, "regex", cfg.Scanner.Kind)
	assert.Equal(t, []string{"python3", "parse_sql.py"}, cfg.Scanner.External.Command)
	assert.Equal(t, 2*time.Second, cfg.Scanner.External.Timeout)
	assert.Equal(t, "equal", cfg.Validation.Match)
	assert.False(t, cfg.Validation.RequireJoinCondition)
	assert.Equal(t, ":3000", cfg.Server.Listen)
	assert.Equal(t, "/lsp", cfg.Server.Path)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "auto", cfg.OutputFormat)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := inTempProject(t)
	testutil.WriteFile(t, dir, "cubelsp.yaml", `
model: schema/cubes.yaml
scanner:
  kind: external
  external:
    command: [python3, tools/parse_sql.py]
    timeout: 500ms
validation:
  match: contains
  require_join_condition: true
server:
  listen: 127.0.0.1:4000
output: json
`)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "cubelsp.yaml"), cfg.ConfigFile)
	assert.Equal(t, filepath.Join(dir, "schema", "cubes.yaml"), cfg.Model)
	assert.Equal(t, "external", cfg.Scanner.Kind)
	assert.Equal(t, []string{"python3", "tools/parse_sql.py"}, cfg.Scanner.External.Command)
	assert.Equal(t, 500*time.Millisecond, cfg.Scanner.External.Timeout)
	assert.Equal(t, "contains", cfg.Validation.Match)
	assert.True(t, cfg.Validation.RequireJoinCondition)
	assert.Equal(t, "127.0.0.1:4000", cfg.Server.Listen)
	assert.Equal(t, "/lsp", cfg.Server.Path, "unset keys keep their default")
	assert.Equal(t, "json", cfg.OutputFormat)
}

func TestLoad_UpwardSearch(t *testing.T) {
	dir := inTempProject(t)
	testutil.WriteFile(t, dir, "cubelsp.yml", "model: cubes.yaml\n")
	nested := filepath.Join(dir, "queries", "daily")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, "cubes.yaml"), cfg.Model)
}

func TestLoad_ExplicitConfigFile(t *testing.T) {
	dir := inTempProject(t)
	other := t.TempDir()
	path := testutil.WriteFile(t, other, "custom.yaml", "model: cubes.json\n")
	testutil.WriteFile(t, dir, "cubelsp.yaml", "model: ignored.yaml\n")

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Dir(path), cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "cubes.json"), cfg.Model)
}

func TestLoad_MissingExplicitConfigFile(t *testing.T) {
	inTempProject(t)

	_, err := Load("does-not-exist.yaml", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestLoad_Precedence(t *testing.T) {
	dir := inTempProject(t)
	testutil.WriteFile(t, dir, "cubelsp.yaml", `
scanner:
  kind: pgquery
validation:
  match: contains
server:
  listen: ":4000"
  path: /file
log_level: warn
`)
	testutil.WriteFile(t, dir, ".env", "CUBELSP_SERVER__LISTEN=:5000\nCUBELSP_SERVER__PATH=/dotenv\nUNRELATED=1\n")
	t.Setenv("CUBELSP_SERVER__PATH", "/env")
	t.Setenv("CUBELSP_LOG_LEVEL", "error")
	t.Setenv("CUBELSP_VALIDATION__MATCH", "equal")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--match", "contains", "--scanner", "regex"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Server.Listen, ".env overrides the file")
	assert.Equal(t, "/env", cfg.Server.Path, "environment overrides .env")
	assert.Equal(t, "error", cfg.LogLevel, "environment overrides the file")
	assert.Equal(t, "contains", cfg.Validation.Match, "flags override the environment")
	assert.Equal(t, "regex", cfg.Scanner.Kind, "flags override the file")
}

func TestLoad_UnchangedFlagsDoNotOverride(t *testing.T) {
	dir := inTempProject(t)
	testutil.WriteFile(t, dir, "cubelsp.yaml", "output: markdown\n")

	flags := newFlags()
	require.NoError(t, flags.Parse(nil))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "markdown", cfg.OutputFormat)
}

func TestLoad_EnvList(t *testing.T) {
	inTempProject(t)
	t.Setenv("CUBELSP_SCANNER__KIND", "external")
	t.Setenv("CUBELSP_SCANNER__EXTERNAL__COMMAND", "python3,bin/parse.py")
	t.Setenv("CUBELSP_SCANNER__EXTERNAL__TIMEOUT", "3s")

	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"python3", "bin/parse.py"}, cfg.Scanner.External.Command)
	assert.Equal(t, 3*time.Second, cfg.Scanner.External.Timeout)
}

func TestLoad_ModelFlagIsRelativeToWorkingDirectory(t *testing.T) {
	dir := inTempProject(t)
	testutil.WriteFile(t, dir, "cubelsp.yaml", "model: cubes.yaml\n")
	nested := filepath.Join(dir, "sub")
	require.NoError(t, os.MkdirAll(nested, 0o750))
	t.Chdir(nested)

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--model", "local.yaml"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(nested, "local.yaml"), cfg.Model)
}

func TestLoad_VerboseForcesDebug(t *testing.T) {
	inTempProject(t)
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"-v", "--log-level", "error"}))

	cfg, err := Load("", flags)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Invalid(t *testing.T) {
	dir := inTempProject(t)
	testutil.WriteFile(t, dir, "cubelsp.yaml", "scanner:\n  kind: antlr\n")

	_, err := Load("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
	assert.Contains(t, err.Error(), "antlr")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errSubstr string
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{
			name:      "unknown scanner",
			mutate:    func(c *Config) { c.Scanner.Kind = "yacc" },
			errSubstr: "scanner.kind",
		},
		{
			name:      "external without command",
			mutate:    func(c *Config) { c.Scanner.Kind = "external"; c.Scanner.External.Command = nil },
			errSubstr: "scanner.external.command is required",
		},
		{
			name:      "external without timeout",
			mutate:    func(c *Config) { c.Scanner.Kind = "external"; c.Scanner.External.Timeout = 0 },
			errSubstr: "scanner.external.timeout must be positive",
		},
		{
			name:   "empty command is fine for regex",
			mutate: func(c *Config) { c.Scanner.External.Command = nil },
		},
		{
			name:      "unknown match policy",
			mutate:    func(c *Config) { c.Validation.Match = "fuzzy" },
			errSubstr: "validation.match",
		},
		{
			name:      "unknown output",
			mutate:    func(c *Config) { c.OutputFormat = "yaml" },
			errSubstr: "output: unknown format",
		},
		{
			name:      "unknown log level",
			mutate:    func(c *Config) { c.LogLevel = "loud" },
			errSubstr: "log_level",
		},
		{
			name:      "relative server path",
			mutate:    func(c *Config) { c.Server.Path = "lsp" },
			errSubstr: "server.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.errSubstr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestConfig_Options(t *testing.T) {
	cfg := Default()
	cfg.Scanner.Kind = "PgQuery"
	cfg.Validation.Match = "contains"
	cfg.Validation.RequireJoinCondition = true

	scanOpts, err := cfg.ScannerOptions()
	require.NoError(t, err)
	assert.Equal(t, scanner.KindPgQuery, scanOpts.Kind)
	assert.Equal(t, scanner.DefaultExternalTimeout, scanOpts.ExternalTimeout)

	valOpts, err := cfg.ValidationOptions()
	require.NoError(t, err)
	assert.Equal(t, validator.Options{Match: validator.MatchContains, RequireCondition: true}, valOpts)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"WARN", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.NotNil(t, GetLogger(ctx))
	assert.Equal(t, Default(), GetConfig(ctx))

	logger := testutil.NewTestLogger(t)
	cfg := &Config{Model: "cubes.yaml"}
	ctx = WithConfig(WithLogger(ctx, logger), cfg)

	assert.Same(t, logger, GetLogger(ctx))
	assert.Same(t, cfg, GetConfig(ctx))
}
