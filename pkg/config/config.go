// Package config loads engine configuration from YAML or HCL documents.
// Parsers register themselves; Load picks one by file extension, applies
// defaults and validates the result.
package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/rs/zerolog"
	"github.com/zclconf/go-cty/cty"
	"gitlab.com/tozd/go/errors"
	"gopkg.in/yaml.v3"
)

// Parser is the interface for config parsers.
type Parser interface {
	// Parse parses the config from bytes.
	Parse(ctx context.Context, data []byte) (*Config, error)

	// CanParse checks if this parser can handle the given file.
	CanParse(filename string) bool
}

var parsers []Parser

// Register registers a parser.
func Register(p Parser) {
	parsers = append(parsers, p)
}

// GetParser returns a parser that can handle the given file.
func GetParser(filename string) Parser {
	for _, p := range parsers {
		if p.CanParse(filename) {
			return p
		}
	}
	return nil
}

// Config is the engine configuration.
type Config struct {
	// JournalPath is where the transaction journal lives: a log file for
	// the file backend, a directory for badger.
	JournalPath string `json:"journal_path" yaml:"journal_path" hcl:"journal_path,optional" validate:"required"`

	// JournalBackend selects the journal store implementation.
	JournalBackend string `json:"journal_backend" yaml:"journal_backend" hcl:"journal_backend,optional" validate:"oneof=file badger"`

	// ProgressIntervalMS throttles progress events per plan.
	ProgressIntervalMS int `json:"progress_interval_ms" yaml:"progress_interval_ms" hcl:"progress_interval_ms,optional" validate:"gte=0"`

	// CopyChunkSizeKB is the copy loop read size; cancellation is checked
	// once per chunk.
	CopyChunkSizeKB int `json:"copy_chunk_size_kb" yaml:"copy_chunk_size_kb" hcl:"copy_chunk_size_kb,optional" validate:"gte=0"`

	// DefaultFileConflict resolves file collisions when no interactive
	// decider is attached: prompt, skip, overwrite or keepboth.
	DefaultFileConflict string `json:"default_file_conflict" yaml:"default_file_conflict" hcl:"default_file_conflict,optional" validate:"oneof=prompt skip overwrite keepboth"`

	// MaxConcurrentPlans bounds how many plans execute at once.
	MaxConcurrentPlans int `json:"max_concurrent_plans" yaml:"max_concurrent_plans" hcl:"max_concurrent_plans,optional" validate:"gte=1"`

	// IgnorePatterns are doublestar globs excluded from every expansion.
	IgnorePatterns []string `json:"ignore_patterns,omitempty" yaml:"ignore_patterns,omitempty" hcl:"ignore_patterns,optional"`

	// FollowSymlinks makes directory expansion descend through symlinked
	// directories.
	FollowSymlinks bool `json:"follow_symlinks,omitempty" yaml:"follow_symlinks,omitempty" hcl:"follow_symlinks,optional"`
}

var validate = validator.New()

// Default returns the configuration used when no config file is present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.JournalPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = os.TempDir()
		}
		cfg.JournalPath = filepath.Join(home, ".fileops", "journal.log")
	}
	if cfg.JournalBackend == "" {
		cfg.JournalBackend = "file"
	}
	if cfg.ProgressIntervalMS == 0 {
		cfg.ProgressIntervalMS = 100
	}
	if cfg.CopyChunkSizeKB == 0 {
		cfg.CopyChunkSizeKB = 256
	}
	if cfg.DefaultFileConflict == "" {
		cfg.DefaultFileConflict = "prompt"
	}
	if cfg.MaxConcurrentPlans == 0 {
		cfg.MaxConcurrentPlans = 4
	}
}

// Validate applies defaults and checks the struct tags.
func (cfg *Config) Validate() error {
	cfg.applyDefaults()
	if err := validate.Struct(cfg); err != nil {
		return errors.Errorf("validating config: %w", err)
	}
	return nil
}

// ProgressInterval returns the progress throttle as a duration.
func (cfg *Config) ProgressInterval() time.Duration {
	return time.Duration(cfg.ProgressIntervalMS) * time.Millisecond
}

// CopyChunkSize returns the copy loop read size in bytes.
func (cfg *Config) CopyChunkSize() int {
	return cfg.CopyChunkSizeKB * 1024
}

// Load loads the configuration from a file.
func Load(ctx context.Context, path string) (*Config, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Str("path", path).Msg("loading configuration")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Errorf("reading config file: %w", err)
	}

	p := GetParser(path)
	if p == nil {
		return nil, errors.Errorf("no parser found for file: %s", path)
	}

	cfg, err := p.Parse(ctx, data)
	if err != nil {
		return nil, errors.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// YAMLParser implements the Parser interface for YAML files.
type YAMLParser struct{}

func init() {
	Register(&YAMLParser{})
}

func (p *YAMLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".yaml") || strings.HasSuffix(filename, ".yml")
}

func (p *YAMLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(string(data)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, errors.Errorf("parsing YAML: %w", err)
	}
	return &cfg, nil
}

// HCLParser implements the Parser interface for HCL files.
type HCLParser struct{}

func init() {
	Register(&HCLParser{})
}

func (p *HCLParser) CanParse(filename string) bool {
	return strings.HasSuffix(filename, ".hcl")
}

func (p *HCLParser) Parse(ctx context.Context, data []byte) (*Config, error) {
	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCL(data, "config.hcl")
	if diags.HasErrors() {
		return nil, errors.Errorf("parsing HCL: %s", diags.Error())
	}

	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{},
	}

	var cfg Config
	diags = gohcl.DecodeBody(hclFile.Body, evalCtx, &cfg)
	if diags.HasErrors() {
		return nil, errors.Errorf("decoding HCL: %s", diags.Error())
	}
	return &cfg, nil
}
