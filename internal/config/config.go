package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/angleyanalbedo/generatestcode/internal/data"
	"github.com/angleyanalbedo/generatestcode/internal/dataset"
	"github.com/angleyanalbedo/generatestcode/internal/dispatch"
	"github.com/angleyanalbedo/generatestcode/internal/export"
	"github.com/angleyanalbedo/generatestcode/internal/fingerprint"
	"github.com/angleyanalbedo/generatestcode/internal/incident"
	"github.com/angleyanalbedo/generatestcode/internal/llm"
	"github.com/angleyanalbedo/generatestcode/internal/logging"
	"github.com/angleyanalbedo/generatestcode/internal/verdict"
)

// EnvPrefix prefixes every environment override, e.g.
// STDISTILL_DISPATCH_MAX_CONCURRENCY=16.
const EnvPrefix = "STDISTILL"

// optionalKeys are omitted from the YAML when empty, so viper only learns
// about them through explicit env bindings.
var optionalKeys = []string{
	"generation.api_key",
	"evolution.catalog_file",
	"seeds.file",
	"verdict.include_path",
	"verdict.temp_dir",
	"golden.postgres_url",
	"prompts.file",
	"logging.file",
	"incidents.redis_password",
	"export.access_key",
	"export.secret_key",
	"export.region",
}

// Golden memory backends.
const (
	GoldenSQLite   = "sqlite"
	GoldenPostgres = "postgres"
	GoldenNone     = "none"
)

// Config holds all configuration of a distillation run. It is loaded from
// ~/.stdistill/config.yaml or --config and can be overridden by environment
// variables.
type Config struct {
	Project    ProjectConfig    `mapstructure:"project" yaml:"project"`
	Generation GenerationConfig `mapstructure:"generation" yaml:"generation"`
	Dispatch   DispatchConfig   `mapstructure:"dispatch" yaml:"dispatch"`
	Evolution  EvolutionConfig  `mapstructure:"evolution" yaml:"evolution"`
	Seeds      SeedsConfig      `mapstructure:"seeds" yaml:"seeds"`
	Verdict    VerdictConfig    `mapstructure:"verdict" yaml:"verdict"`
	Dedup      DedupConfig      `mapstructure:"dedup" yaml:"dedup"`
	Golden     GoldenConfig     `mapstructure:"golden" yaml:"golden"`
	Prompts    PromptsConfig    `mapstructure:"prompts" yaml:"prompts"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
	Status     StatusConfig     `mapstructure:"status" yaml:"status"`
	Incidents  IncidentsConfig  `mapstructure:"incidents" yaml:"incidents"`
	Export     ExportConfig     `mapstructure:"export" yaml:"export"`
}

// ProjectConfig names the run and its output files.
type ProjectConfig struct {
	Name string `mapstructure:"name" yaml:"name"`
	// DataDir holds the local golden memory database.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
	// Output maps dataset streams to JSONL files. An empty path disables a
	// stream; sft is required.
	Output dataset.Paths `mapstructure:"output" yaml:"output"`
}

// GenerationConfig configures the OpenAI-compatible backend.
type GenerationConfig struct {
	// BackendType is openai, vllm, tgi or llamacpp.
	BackendType string `mapstructure:"backend_type" yaml:"backend_type"`
	Endpoint    string `mapstructure:"endpoint" yaml:"endpoint"`
	// APIKey falls back to OPENAI_API_KEY when empty.
	APIKey            string        `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model             string        `mapstructure:"model" yaml:"model"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// DispatchConfig bounds concurrency, retries and self-correction.
type DispatchConfig struct {
	MaxConcurrency      int           `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	MaxRetries          int           `mapstructure:"max_retries" yaml:"max_retries"`
	BackoffInitial      time.Duration `mapstructure:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax          time.Duration `mapstructure:"backoff_max" yaml:"backoff_max"`
	SelfCorrectionDepth int           `mapstructure:"self_correction_depth" yaml:"self_correction_depth"`
}

// EvolutionConfig controls constraint injection.
type EvolutionConfig struct {
	MaxDepth     int  `mapstructure:"max_depth" yaml:"max_depth"`
	IncludeSeeds bool `mapstructure:"include_seeds" yaml:"include_seeds"`
	// CatalogFile replaces the built-in constraint catalog.
	CatalogFile string `mapstructure:"catalog_file" yaml:"catalog_file,omitempty"`
	// RandomSeed makes constraint selection reproducible; 0 walks the
	// catalog deterministically from each seed's index.
	RandomSeed int64 `mapstructure:"random_seed" yaml:"random_seed"`
}

// SeedsConfig controls where tasks come from and when the run stops.
type SeedsConfig struct {
	File             string `mapstructure:"file" yaml:"file,omitempty"`
	TargetCount      int    `mapstructure:"target_count" yaml:"target_count"`
	Brainstorm       bool   `mapstructure:"brainstorm" yaml:"brainstorm"`
	BrainstormCount  int    `mapstructure:"brainstorm_count" yaml:"brainstorm_count"`
	BrainstormRounds int    `mapstructure:"brainstorm_rounds" yaml:"brainstorm_rounds"`
}

// VerdictConfig configures both funnels.
type VerdictConfig struct {
	Compiler       string        `mapstructure:"compiler" yaml:"compiler"`
	IncludePath    string        `mapstructure:"include_path" yaml:"include_path,omitempty"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
	ExtraArgs      []string      `mapstructure:"extra_args" yaml:"extra_args,omitempty"`
	TempDir        string        `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`
	MaxNesting     int           `mapstructure:"max_nesting" yaml:"max_nesting"`
	MaxSourceBytes int           `mapstructure:"max_source_bytes" yaml:"max_source_bytes"`
	RequiredPOU    string        `mapstructure:"required_pou" yaml:"required_pou"`
	RequireVar     bool          `mapstructure:"require_var" yaml:"require_var"`
}

// DedupConfig configures the fingerprint index.
type DedupConfig struct {
	// Mode is exact, whitespace or comments.
	Mode string `mapstructure:"mode" yaml:"mode"`
	// Capacity bounds the index; 0 is unbounded.
	Capacity int `mapstructure:"capacity" yaml:"capacity"`
	// Negatives writes a record for every task that was never accepted.
	Negatives bool `mapstructure:"negatives" yaml:"negatives"`
}

// GoldenConfig configures persisted golden memory.
type GoldenConfig struct {
	// Backend is sqlite, postgres or none.
	Backend     string        `mapstructure:"backend" yaml:"backend"`
	PostgresURL string        `mapstructure:"postgres_url" yaml:"postgres_url,omitempty"`
	PingTimeout time.Duration `mapstructure:"ping_timeout" yaml:"ping_timeout"`
	Capacity    int           `mapstructure:"capacity" yaml:"capacity"`
}

// PromptsConfig points at an optional template override file.
type PromptsConfig struct {
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is debug, info, warn or error.
	Level string `mapstructure:"level" yaml:"level"`
	File  string `mapstructure:"file" yaml:"file,omitempty"`
	// JSON switches the console output to JSON lines.
	JSON bool `mapstructure:"json" yaml:"json"`
}

// StatusConfig configures the status endpoint. An empty address disables it.
type StatusConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// IncidentsConfig configures the incident stream. An empty address keeps
// incidents in the log only.
type IncidentsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password" yaml:"redis_password,omitempty"`
	RedisDB       int    `mapstructure:"redis_db" yaml:"redis_db"`
	Stream        string `mapstructure:"stream" yaml:"stream"`
	MaxLen        int64  `mapstructure:"max_len" yaml:"max_len"`
}

// ExportConfig configures dataset upload to S3-compatible storage.
type ExportConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	Region    string `mapstructure:"region" yaml:"region,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix"`
	// OnComplete uploads the dataset files after every finished run.
	OnComplete bool `mapstructure:"on_complete" yaml:"on_complete"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".stdistill")

	return &Config{
		Project: ProjectConfig{
			Name:    "stdistill",
			DataDir: dataDir,
			Output: dataset.Paths{
				SFT:     filepath.Join("output", "sft.jsonl"),
				DPO:     filepath.Join("output", "dpo.jsonl"),
				History: filepath.Join("output", "history.jsonl"),
			},
		},
		Generation: GenerationConfig{
			BackendType: llm.BackendVLLM,
			Endpoint:    "http://127.0.0.1:8000/v1",
			Model:       "Qwen2.5-Coder-7B-Instruct",
			Temperature: 0.7,
			MaxTokens:   2048,
			Timeout:     2 * time.Minute,
		},
		Dispatch: DispatchConfig{
			MaxConcurrency:      8,
			MaxRetries:          3,
			BackoffInitial:      time.Second,
			BackoffMax:          30 * time.Second,
			SelfCorrectionDepth: 3,
		},
		Evolution: EvolutionConfig{
			MaxDepth:     2,
			IncludeSeeds: true,
		},
		Seeds: SeedsConfig{
			TargetCount:      1000,
			Brainstorm:       true,
			BrainstormCount:  5,
			BrainstormRounds: 0,
		},
		Verdict: VerdictConfig{
			Compiler:       "iec2c",
			Timeout:        10 * time.Second,
			MaxNesting:     64,
			MaxSourceBytes: 256 * 1024,
			RequiredPOU:    "FUNCTION_BLOCK",
			RequireVar:     true,
		},
		Dedup: DedupConfig{
			Mode: string(fingerprint.ModeWhitespace),
		},
		Golden: GoldenConfig{
			Backend:     GoldenSQLite,
			PingTimeout: 5 * time.Second,
			Capacity:    50,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "stdistill.log"),
		},
		Incidents: IncidentsConfig{
			Stream: incident.DefaultStream,
			MaxLen: 10000,
		},
		Export: ExportConfig{
			Bucket: "stdistill",
			Prefix: "datasets",
		},
	}
}

// DefaultPath returns ~/.stdistill/config.yaml.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".stdistill", "config.yaml")
}

// Load reads configuration from the default location.
func Load() (*Config, error) {
	return LoadFromPath(DefaultPath())
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with default values.
// Keys missing from the file keep their defaults.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	defaults, err := yaml.Marshal(Default())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal defaults: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, fmt.Errorf("failed to read defaults: %w", err)
	}

	// Example: STDISTILL_GENERATION_API_KEY
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range optionalKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	v.SetConfigFile(path)
	if err := v.MergeInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Generation.APIKey == "" {
		cfg.Generation.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg.expandPaths()
	return &cfg, nil
}

func (c *Config) expandPaths() {
	c.Project.DataDir = expandPath(c.Project.DataDir)
	c.Project.Output.SFT = expandPath(c.Project.Output.SFT)
	c.Project.Output.DPO = expandPath(c.Project.Output.DPO)
	c.Project.Output.Negative = expandPath(c.Project.Output.Negative)
	c.Project.Output.History = expandPath(c.Project.Output.History)
	c.Evolution.CatalogFile = expandPath(c.Evolution.CatalogFile)
	c.Seeds.File = expandPath(c.Seeds.File)
	c.Verdict.IncludePath = expandPath(c.Verdict.IncludePath)
	c.Prompts.File = expandPath(c.Prompts.File)
	c.Logging.File = expandPath(c.Logging.File)
}

// SaveToPath writes the current configuration to a specific file path.
func (c *Config) SaveToPath(path string) error {
	path = expandPath(path)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return writeConfigFile(path, c)
}

// EnsureDirectories creates the data directory, the directories of every
// output file and the log directory.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.Project.DataDir}
	for _, f := range c.Project.Output.Files() {
		dirs = append(dirs, filepath.Dir(f))
	}
	if c.Logging.File != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks the configuration for common errors and inconsistencies.
func (c *Config) Validate() error {
	if c.Project.Output.SFT == "" {
		return fmt.Errorf("project.output.sft cannot be empty")
	}

	switch c.Generation.BackendType {
	case llm.BackendOpenAI, llm.BackendVLLM, llm.BackendTGI, llm.BackendLlamaCPP:
	default:
		return fmt.Errorf("invalid backend_type '%s', must be one of: openai, vllm, tgi, llamacpp", c.Generation.BackendType)
	}
	if c.Generation.Endpoint == "" {
		return fmt.Errorf("generation.endpoint cannot be empty")
	}
	if c.Generation.RequestsPerMinute < 0 {
		return fmt.Errorf("generation.requests_per_minute cannot be negative")
	}

	if c.Dispatch.MaxConcurrency < 1 {
		return fmt.Errorf("dispatch.max_concurrency must be at least 1")
	}
	if c.Dispatch.SelfCorrectionDepth < 1 {
		return fmt.Errorf("dispatch.self_correction_depth must be at least 1")
	}
	if c.Dispatch.MaxRetries < 0 {
		return fmt.Errorf("dispatch.max_retries cannot be negative")
	}

	if c.Evolution.MaxDepth < 0 {
		return fmt.Errorf("evolution.max_depth cannot be negative")
	}
	if c.Seeds.TargetCount < 0 || c.Seeds.BrainstormRounds < 0 {
		return fmt.Errorf("seeds.target_count and seeds.brainstorm_rounds cannot be negative")
	}
	if c.Seeds.Brainstorm && c.Seeds.BrainstormRounds == 0 && c.Seeds.TargetCount == 0 {
		return fmt.Errorf("unlimited brainstorming needs seeds.target_count")
	}

	if c.Verdict.Timeout <= 0 {
		return fmt.Errorf("verdict.timeout must be positive")
	}
	if _, err := fingerprint.ParseMode(c.Dedup.Mode); err != nil {
		return fmt.Errorf("dedup.mode: %w", err)
	}
	if c.Dedup.Capacity < 0 {
		return fmt.Errorf("dedup.capacity cannot be negative")
	}

	switch c.Golden.Backend {
	case GoldenSQLite, GoldenNone:
	case GoldenPostgres:
		if err := c.PostgresConfig().Validate(); err != nil {
			return fmt.Errorf("golden: %w", err)
		}
	default:
		return fmt.Errorf("invalid golden.backend '%s', must be one of: sqlite, postgres, none", c.Golden.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// ProviderConfig converts the generation section for the llm package.
func (c *Config) ProviderConfig() *llm.ProviderConfig {
	p := llm.DefaultConfig(c.Generation.BackendType)
	p.Endpoint = c.Generation.Endpoint
	if c.Generation.APIKey != "" {
		p.APIKey = c.Generation.APIKey
	}
	if c.Generation.Model != "" {
		p.Model = c.Generation.Model
	}
	p.Temperature = c.Generation.Temperature
	p.MaxTokens = c.Generation.MaxTokens
	if c.Generation.Timeout > 0 {
		p.Timeout = c.Generation.Timeout
	}
	p.RequestsPerMinute = c.Generation.RequestsPerMinute
	return p
}

// DispatchConfig converts the dispatch and generation sections.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		MaxConcurrency:      c.Dispatch.MaxConcurrency,
		MaxRetries:          c.Dispatch.MaxRetries,
		BackoffInitial:      c.Dispatch.BackoffInitial,
		BackoffMax:          c.Dispatch.BackoffMax,
		SelfCorrectionDepth: c.Dispatch.SelfCorrectionDepth,
		Model:               c.Generation.Model,
		Temperature:         c.Generation.Temperature,
		MaxTokens:           c.Generation.MaxTokens,
	}
}

// MatiecConfig converts the verdict section for the compiler adapter.
func (c *Config) MatiecConfig() verdict.MatiecConfig {
	return verdict.MatiecConfig{
		Binary:      c.Verdict.Compiler,
		IncludePath: c.Verdict.IncludePath,
		Timeout:     c.Verdict.Timeout,
		ExtraArgs:   c.Verdict.ExtraArgs,
		TempDir:     c.Verdict.TempDir,
	}
}

// FastOptions converts the verdict section for the fast check.
func (c *Config) FastOptions() verdict.FastOptions {
	return verdict.FastOptions{
		MaxDepth:       c.Verdict.MaxNesting,
		MaxSourceBytes: c.Verdict.MaxSourceBytes,
		RequiredPOU:    c.Verdict.RequiredPOU,
		RequireVar:     c.Verdict.RequireVar,
	}
}

// PostgresConfig converts the golden section for a shared store.
func (c *Config) PostgresConfig() data.PostgresConfig {
	return data.PostgresConfig{
		URL:          c.Golden.PostgresURL,
		PingTimeout:  c.Golden.PingTimeout,
		MaxOpenConns: 4,
		MaxIdleConns: 2,
	}
}

// RedisConfig converts the incidents section.
func (c *Config) RedisConfig() incident.RedisConfig {
	return incident.RedisConfig{
		Addr:     c.Incidents.RedisAddr,
		Password: c.Incidents.RedisPassword,
		DB:       c.Incidents.RedisDB,
		Stream:   c.Incidents.Stream,
		MaxLen:   c.Incidents.MaxLen,
	}
}

// UploaderConfig converts the export section.
func (c *Config) UploaderConfig() export.Config {
	return export.Config{
		Endpoint:  c.Export.Endpoint,
		AccessKey: c.Export.AccessKey,
		SecretKey: c.Export.SecretKey,
		Region:    c.Export.Region,
		UseSSL:    c.Export.UseSSL,
		Bucket:    c.Export.Bucket,
		Prefix:    c.Export.Prefix,
	}
}

// LoggingConfig converts the logging section. verbose forces debug level
// with caller information.
func (c *Config) LoggingConfig(verbose bool) *logging.Config {
	lc := logging.DefaultConfig()
	if verbose {
		lc = logging.VerboseConfig()
	} else {
		lc.Level = logging.ParseLevel(c.Logging.Level)
	}
	lc.FilePath = c.Logging.File
	lc.Console = !c.Logging.JSON
	return lc
}

// writeConfigFile writes a Config struct to a YAML file.
// Uses gopkg.in/yaml.v3 directly to ensure proper tag-based serialization.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// expandPath expands ~ to the user's home directory in a path string.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[1:])
	}
	return path
}
