// Package config provides configuration management for the cubelsp CLI.
//
// Values are layered, lowest to highest: built-in defaults, cubelsp.yaml,
// a .env file in the project root, CUBELSP_* environment variables and
// explicitly set command-line flags.
package config

import (
	"time"

	"github.com/leapstack-labs/cubelsp/pkg/scanner"
	"github.com/leapstack-labs/cubelsp/pkg/validator"
)

// Default configuration values.
const (
	DefaultScanner  = string(scanner.KindRegex)
	DefaultMatch    = string(validator.MatchEqual)
	DefaultListen   = ":3000"
	DefaultPath     = "/lsp"
	DefaultLogLevel = "info"
	DefaultOutput   = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// Config holds all CLI configuration options.
type Config struct {
	// Model is the cube definition file, resolved against ProjectRoot.
	Model        string           `koanf:"model"`
	Scanner      ScannerConfig    `koanf:"scanner"`
	Validation   ValidationConfig `koanf:"validation"`
	Server       ServerConfig     `koanf:"server"`
	LogLevel     string           `koanf:"log_level"`
	Verbose      bool             `koanf:"verbose"`
	OutputFormat string           `koanf:"output"`

	// ProjectRoot is the directory holding the config file, or the working
	// directory when none was found.
	ProjectRoot string `koanf:"-"`
	// ConfigFile is the config file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

// ScannerConfig selects the SQL scanner.
type ScannerConfig struct {
	Kind     string         `koanf:"kind"`
	External ExternalConfig `koanf:"external"`
}

// ExternalConfig configures the out-of-process parser.
type ExternalConfig struct {
	Command []string      `koanf:"command"`
	Timeout time.Duration `koanf:"timeout"`
}

// ValidationConfig tunes join validation.
type ValidationConfig struct {
	Match                string `koanf:"match"`
	RequireJoinCondition bool   `koanf:"require_join_condition"`
}

// ServerConfig configures the WebSocket server.
type ServerConfig struct {
	Listen string `koanf:"listen"`
	Path   string `koanf:"path"`
}

// defaults returns the default values keyed like the config file.
func defaults() map[string]any {
	return map[string]any{
		"model":                             "",
		"scanner.kind":                      DefaultScanner,
		"scanner.external.command":          append([]string(nil), scanner.DefaultExternalCommand...),
		"scanner.external.timeout":          scanner.DefaultExternalTimeout.String(),
		"validation.match":                  DefaultMatch,
		"validation.require_join_condition": false,
		"server.listen":                     DefaultListen,
		"server.path":                       DefaultPath,
		"log_level":                         DefaultLogLevel,
		"verbose":                           false,
		"output":                            DefaultOutput,
	}
}

// Default returns the configuration used when nothing was loaded.
func Default() *Config {
	return &Config{
		Scanner: ScannerConfig{
			Kind: DefaultScanner,
			External: ExternalConfig{
				Command: append([]string(nil), scanner.DefaultExternalCommand...),
				Timeout: scanner.DefaultExternalTimeout,
			},
		},
		Validation:   ValidationConfig{Match: DefaultMatch},
		Server:       ServerConfig{Listen: DefaultListen, Path: DefaultPath},
		LogLevel:     DefaultLogLevel,
		OutputFormat: DefaultOutput,
	}
}

// ScannerOptions converts the scanner section for scanner.New.
func (c *Config) ScannerOptions() (scanner.Options, error) {
	kind, err := scanner.ParseKind(c.Scanner.Kind)
	if err != nil {
		return scanner.Options{}, err
	}
	return scanner.Options{
		Kind:            kind,
		ExternalCommand: c.Scanner.External.Command,
		ExternalTimeout: c.Scanner.External.Timeout,
	}, nil
}

// ValidationOptions converts the validation section for the validator.
func (c *Config) ValidationOptions() (validator.Options, error) {
	match, err := validator.ParseMatchPolicy(c.Validation.Match)
	if err != nil {
		return validator.Options{}, err
	}
	return validator.Options{
		Match:            match,
		RequireCondition: c.Validation.RequireJoinCondition,
	}, nil
}
