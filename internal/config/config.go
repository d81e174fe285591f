// Package config loads reviewer settings from defaults, a TOML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
)

// DefaultFile is read when no --config flag is given and it exists.
const DefaultFile = "./reviewer.toml"

// Config is the full reviewer configuration.
type Config struct {
	LLM    LLM    `koanf:"llm"`
	GitHub GitHub `koanf:"github"`
	Review Review `koanf:"review"`
	Log    Log    `koanf:"log"`
}

type LLM struct {
	// Backend is "http" for the built-in chat completions client or
	// "langchain" for a langchaingo model.
	Backend     string        `koanf:"backend"`
	Provider    string        `koanf:"provider"`
	APIURL      string        `koanf:"api_url"`
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	Temperature float64       `koanf:"temperature"`
	Timeout     time.Duration `koanf:"timeout"`
}

type GitHub struct {
	Token         string  `koanf:"token"`
	Owner         string  `koanf:"owner"`
	Repo          string  `koanf:"repo"`
	APIURL        string  `koanf:"api_url"`
	RatePerSecond float64 `koanf:"rate_per_second"`
}

type Review struct {
	PullRequest  int    `koanf:"pull_request"`
	PromptLevel  string `koanf:"prompt_level"`
	PromptFile   string `koanf:"prompt_file"`
	RulesFile    string `koanf:"rules_file"`
	Concurrency  int    `koanf:"concurrency"`
	ProjectPath  string `koanf:"project_path"`
	TargetBranch string `koanf:"target_branch"`
	Local        bool   `koanf:"local"`
	// Direct compares the working tree with TargetBranch itself instead of
	// with the merge base. Local mode only.
	Direct       bool   `koanf:"direct"`
	// MaxFiles caps the files reviewed per run; zero means no cap.
	MaxFiles     int    `koanf:"max_files"`
	DryRun       bool   `koanf:"dry_run"`
}

type Log struct {
	Level string `koanf:"level"`
	File  string `koanf:"file"`
	Debug bool   `koanf:"debug"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"llm.backend":            "http",
		"llm.provider":           "openai",
		"llm.model":              "deepseek-r1-250120",
		"llm.temperature":        0.0,
		"llm.timeout":            "1000s",
		"github.api_url":         "https://api.github.com/",
		"github.rate_per_second": 1.0,
		"review.prompt_file":     "./prompt_level_configure.json",
		"review.concurrency":     runtime.NumCPU(),
		"review.project_path":    ".",
		"review.target_branch":   "origin/main",
		"review.max_files":       0,
		"log.level":              "info",
		"log.file":               "",
	}
}

// envAliases maps the variable names used by existing CI setups onto keys.
var envAliases = map[string]string{
	"LLM_API_KEY":      "llm.api_key",
	"LLM_API_URL":      "llm.api_url",
	"LLM_MODEL":        "llm.model",
	"GITHUB_TOKEN":     "github.token",
	"REPOSITORY_OWNER": "github.owner",
	"REPOSITORY_NAME":  "github.repo",
	"PROMPT_LEVEL":     "review.prompt_level",
}

const envPrefix = "REVIEWER_"

// envKey turns an environment variable name into a config key, or "" to
// ignore it. REVIEWER_LLM_API_KEY becomes llm.api_key.
func envKey(name string) string {
	if key, ok := envAliases[name]; ok {
		return key
	}
	if !strings.HasPrefix(name, envPrefix) {
		return ""
	}
	rest := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	return strings.Replace(rest, "_", ".", 1)
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"backend":       "llm.backend",
	"provider":      "llm.provider",
	"api-url":       "llm.api_url",
	"api-key":       "llm.api_key",
	"model":         "llm.model",
	"temperature":   "llm.temperature",
	"timeout":       "llm.timeout",
	"github-token":  "github.token",
	"owner":         "github.owner",
	"repo":          "github.repo",
	"github-url":    "github.api_url",
	"prompt-level":  "review.prompt_level",
	"prompt-file":   "review.prompt_file",
	"rules-file":    "review.rules_file",
	"concurrency":   "review.concurrency",
	"project-path":  "review.project_path",
	"target-branch": "review.target_branch",
	"local":         "review.local",
	"direct":        "review.direct",
	"max-files":     "review.max_files",
	"dry-run":       "review.dry_run",
	"log-level":     "log.level",
	"log-file":      "log.file",
	"debug":         "log.debug",
}

// RegisterFlags adds the reviewer flags to fs. Flag defaults are only used
// for help output; unset flags never override other sources.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "Path to a TOML config file (default "+DefaultFile+" if present)")
	fs.String("backend", "http", "LLM backend: http or langchain")
	fs.String("provider", "openai", "langchain provider: openai or ollama")
	fs.String("api-url", "", "Chat completions endpoint (env LLM_API_URL)")
	fs.String("api-key", "", "LLM API key (env LLM_API_KEY)")
	fs.String("model", "deepseek-r1-250120", "Model name (env LLM_MODEL)")
	fs.Float64("temperature", 0, "Sampling temperature")
	fs.Duration("timeout", 1000*time.Second, "Timeout for one model request")
	fs.String("github-token", "", "GitHub token (env GITHUB_TOKEN)")
	fs.String("owner", "", "Repository owner (env REPOSITORY_OWNER)")
	fs.String("repo", "", "Repository name (env REPOSITORY_NAME)")
	fs.String("github-url", "https://api.github.com/", "GitHub API base URL")
	fs.String("prompt-level", "", "Prompt level key (env PROMPT_LEVEL)")
	fs.String("prompt-file", "./prompt_level_configure.json", "JSON file with prompt levels")
	fs.String("rules-file", "", "Markdown rules file or directory appended to the prompt")
	fs.Int("concurrency", runtime.NumCPU(), "Files analyzed in parallel")
	fs.String("project-path", ".", "Path to the repository checkout")
	fs.String("target-branch", "origin/main", "Base ref for --local diffs")
	fs.Bool("local", false, "Review local changes against --target-branch instead of a pull request")
	fs.Bool("direct", false, "With --local, diff the working tree against --target-branch itself rather than its merge base")
	fs.Int("max-files", 0, "Review at most this many files (0 means all)")
	fs.Bool("dry-run", false, "Print reviews instead of posting them")
	fs.String("log-level", "info", "Console log level")
	fs.String("log-file", "", "Also write JSON logs to this file")
	fs.Bool("debug", false, "Debug logging")
}

// Load builds the configuration. fs may be nil; otherwise only flags the
// user actually set are applied.
func Load(fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	path := ""
	if fs != nil {
		if f := fs.Lookup("config"); f != nil {
			path = f.Value.String()
		}
	}
	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	} else if _, err := os.Stat(DefaultFile); err == nil {
		if err := k.Load(file.Provider(DefaultFile), toml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", DefaultFile, err)
		}
	}

	// Empty variables count as unset.
	fromEnv := env.ProviderWithValue("", ".", func(name, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return envKey(name), value
	})
	if err := k.Load(fromEnv, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if fs != nil {
		changed := map[string]interface{}{}
		fs.Visit(func(f *pflag.Flag) {
			if key, ok := flagKeys[f.Name]; ok {
				changed[key] = f.Value.String()
			}
		})
		if err := k.Load(confmap.Provider(changed, "."), nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.LLM.APIURL = strings.TrimSpace(cfg.LLM.APIURL)
	cfg.LLM.APIKey = strings.TrimSpace(cfg.LLM.APIKey)
	if cfg.Review.Concurrency < 1 {
		cfg.Review.Concurrency = runtime.NumCPU()
	}
	return &cfg, nil
}

// Validate checks the settings needed by the selected mode.
func Validate(cfg *Config) error {
	var errs error

	switch cfg.LLM.Backend {
	case "http":
		if cfg.LLM.APIURL == "" {
			errs = multierr.Append(errs, errors.New("llm.api_url is required (LLM_API_URL)"))
		}
		if cfg.LLM.APIKey == "" {
			errs = multierr.Append(errs, errors.New("llm.api_key is required (LLM_API_KEY)"))
		}
	case "langchain":
		switch cfg.LLM.Provider {
		case "openai":
			if cfg.LLM.APIKey == "" {
				errs = multierr.Append(errs, errors.New("llm.api_key is required for the openai provider"))
			}
		case "ollama":
		default:
			errs = multierr.Append(errs, fmt.Errorf("unknown llm.provider %q", cfg.LLM.Provider))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown llm.backend %q", cfg.LLM.Backend))
	}
	if cfg.LLM.Timeout <= 0 {
		errs = multierr.Append(errs, errors.New("llm.timeout must be positive"))
	}
	if cfg.Review.MaxFiles < 0 {
		errs = multierr.Append(errs, errors.New("review.max_files must not be negative"))
	}

	if !cfg.Review.Local {
		if cfg.Review.PullRequest <= 0 {
			errs = multierr.Append(errs, errors.New("pull request id must be greater than 0"))
		}
		if cfg.GitHub.Owner == "" {
			errs = multierr.Append(errs, errors.New("github.owner is required (REPOSITORY_OWNER)"))
		}
		if cfg.GitHub.Repo == "" {
			errs = multierr.Append(errs, errors.New("github.repo is required (REPOSITORY_NAME)"))
		}
		if cfg.GitHub.Token == "" && !cfg.Review.DryRun {
			errs = multierr.Append(errs, errors.New("github.token is required (GITHUB_TOKEN)"))
		}
	}
	return errs
}

// Mask hides all but the last four characters of a secret. Short secrets
// are hidden entirely.
func Mask(secret string) string {
	if len(secret) <= 10 {
		return "****"
	}
	return "****" + secret[len(secret)-4:]
}

// MarshalZerologObject logs the configuration with secrets masked.
func (c Config) MarshalZerologObject(e *zerolog.Event) {
	e.Str("llm_backend", c.LLM.Backend).
		Str("llm_provider", c.LLM.Provider).
		Str("llm_api_url", c.LLM.APIURL).
		Str("llm_api_key", Mask(c.LLM.APIKey)).
		Str("llm_model", c.LLM.Model).
		Dur("llm_timeout", c.LLM.Timeout).
		Str("github_owner", c.GitHub.Owner).
		Str("github_repo", c.GitHub.Repo).
		Str("github_token", Mask(c.GitHub.Token)).
		Int("pull_request", c.Review.PullRequest).
		Str("prompt_level", c.Review.PromptLevel).
		Int("concurrency", c.Review.Concurrency).
		Bool("local", c.Review.Local).
		Bool("direct", c.Review.Direct).
		Int("max_files", c.Review.MaxFiles).
		Bool("dry_run", c.Review.DryRun)
}
