package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jo-hoe/fixsmith/internal/common"
)

// Config is the root configuration loaded from YAML.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Queue   QueueConfig   `yaml:"queue"`
	Slack   SlackConfig   `yaml:"slack"`
	CodeGen CodeGenConfig `yaml:"codegen"`
	Repo    RepoConfig    `yaml:"repo"`
	GitHub  GitHubConfig  `yaml:"github"`
	Deploy  DeployConfig  `yaml:"deploy"`
}

// ServerConfig holds HTTP server and runtime settings.
type ServerConfig struct {
	Addr          string        `yaml:"address"`
	ReadTimeout   time.Duration `yaml:"readTimeout"`
	WriteTimeout  time.Duration `yaml:"writeTimeout"`
	IdleTimeout   time.Duration `yaml:"idleTimeout"`
	StorageDir    string        `yaml:"storageDir"`
	ShutdownGrace time.Duration `yaml:"shutdownGrace"` // time to wait for in-flight jobs before forced stop
	LogLevel      string        `yaml:"logLevel"`      // debug|info|warn|error
}

// QueueConfig controls the in-memory job queue.
type QueueConfig struct {
	Capacity    int `yaml:"capacity"`    // max buffered jobs
	MaxAttempts int `yaml:"maxAttempts"` // attempts per job before it is dropped
}

// SlackConfig holds credentials for the Slack Web API and webhook verification.
type SlackConfig struct {
	BotToken      string `yaml:"botToken"`      // xoxb- token; supports env expansion
	SigningSecret string `yaml:"signingSecret"` // for inbound event signature checks
	APIBaseURL    string `yaml:"apiBaseUrl"`    // optional, default https://slack.com/api
}

// CodeGenConfig selects provider and provider-specific options.
type CodeGenConfig struct {
	Provider string          `yaml:"provider"` // "mock" or "aiproxy"
	Mock     MockSettings    `yaml:"mock"`
	AIProxy  AIProxySettings `yaml:"aiproxy"`
}

// MockSettings config for the mock code generator.
type MockSettings struct {
	Delay time.Duration `yaml:"delay"`
}

// AIProxySettings config for the AI Proxy (OpenAI-compatible) code generator.
type AIProxySettings struct {
	BaseURL      string  `yaml:"baseUrl"`      // e.g. http://localhost:8900
	APIKey       string  `yaml:"apiKey"`       // optional
	Model        string  `yaml:"model"`        // e.g. gpt-5
	SystemPrompt string  `yaml:"systemPrompt"` // optional system message override
	Temperature  float32 `yaml:"temperature"`  // optional
	MaxTokens    int     `yaml:"maxTokens"`    // optional
}

// RepoConfig describes the single target repository all jobs operate on.
type RepoConfig struct {
	URL         string `yaml:"url"`         // remote clone URL
	BaseBranch  string `yaml:"baseBranch"`  // branch all work branches from and PRs target
	Username    string `yaml:"username"`    // basic auth user for clone/fetch/push
	Token       string `yaml:"token"`       // PAT; supports env expansion
	AuthorName  string `yaml:"authorName"`  // commit author
	AuthorEmail string `yaml:"authorEmail"` // commit author email
	CloneDir    string `yaml:"cloneDir"`    // optional, overrides default storageDir/repos
}

// GitHubConfig config for opening pull requests via the GitHub REST API.
type GitHubConfig struct {
	Owner      string   `yaml:"owner"`
	Name       string   `yaml:"name"`
	Token      string   `yaml:"token"`      // PAT; supports env expansion
	APIBaseURL string   `yaml:"apiBaseUrl"` // optional, default https://api.github.com
	PRLabels   []string `yaml:"prLabels"`   // applied to every opened PR
}

// DeployConfig config for the preview-deployment tracker.
type DeployConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Token          string        `yaml:"token"`          // Vercel API token
	ProjectID      string        `yaml:"projectId"`      // Vercel project to watch
	APIBaseURL     string        `yaml:"apiBaseUrl"`     // optional, default https://api.vercel.com
	TimeoutMinutes int           `yaml:"timeoutMinutes"` // wait budget per job
	PollInterval   time.Duration `yaml:"pollInterval"`   // time between status polls
}

// Load reads YAML config from path, expands environment variables, and validates it.
// If path is empty, it will attempt to read from env var FIXSMITH_CONFIG, then default to "config.yaml".
func Load(path string) (*Config, error) {
	if path == "" {
		if env := os.Getenv("FIXSMITH_CONFIG"); env != "" {
			path = env
		} else {
			path = "config.yaml"
		}
	}
	cleanPath := filepath.Clean(path)
	data, err := os.ReadFile(cleanPath) // #nosec G304 - reading sanitized config file path is expected
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	// Expand environment variables in file content.
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	// Ensure storage dir exists
	if cfg.Server.StorageDir != "" {
		if err := os.MkdirAll(cfg.Server.StorageDir, 0o750); err != nil {
			return nil, fmt.Errorf("ensure storage_dir: %w", err)
		}
	}
	// Default clone dir under storage dir if not set.
	if cfg.Repo.CloneDir == "" {
		cfg.Repo.CloneDir = filepath.Join(cfg.Server.StorageDir, common.ReposDirName)
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Server defaults
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.StorageDir == "" {
		cfg.Server.StorageDir = "data"
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 15 * time.Second
	}
	if strings.TrimSpace(cfg.Server.LogLevel) == "" {
		cfg.Server.LogLevel = "info"
	}

	// Queue defaults
	if cfg.Queue.Capacity <= 0 {
		cfg.Queue.Capacity = common.DefaultQueueCapacity
	}
	if cfg.Queue.MaxAttempts <= 0 {
		cfg.Queue.MaxAttempts = common.DefaultMaxAttempts
	}

	// Slack defaults
	if strings.TrimSpace(cfg.Slack.APIBaseURL) == "" {
		cfg.Slack.APIBaseURL = "https://slack.com/api"
	}

	// CodeGen defaults
	if cfg.CodeGen.Provider == "" {
		cfg.CodeGen.Provider = "mock"
	}
	if cfg.CodeGen.Mock.Delay == 0 {
		cfg.CodeGen.Mock.Delay = 2 * time.Second
	}
	if strings.EqualFold(cfg.CodeGen.Provider, "aiproxy") {
		if strings.TrimSpace(cfg.CodeGen.AIProxy.BaseURL) == "" {
			cfg.CodeGen.AIProxy.BaseURL = "http://localhost:8900"
		}
		if strings.TrimSpace(cfg.CodeGen.AIProxy.Model) == "" {
			cfg.CodeGen.AIProxy.Model = "gpt-5"
		}
	}

	// Repo defaults
	if strings.TrimSpace(cfg.Repo.BaseBranch) == "" {
		cfg.Repo.BaseBranch = "main"
	}
	if strings.TrimSpace(cfg.Repo.AuthorName) == "" {
		cfg.Repo.AuthorName = "fixsmith"
	}
	if strings.TrimSpace(cfg.Repo.AuthorEmail) == "" {
		cfg.Repo.AuthorEmail = "fixsmith@localhost"
	}

	// GitHub defaults
	if strings.TrimSpace(cfg.GitHub.APIBaseURL) == "" {
		cfg.GitHub.APIBaseURL = "https://api.github.com"
	}
	if len(cfg.GitHub.PRLabels) == 0 {
		cfg.GitHub.PRLabels = []string{"automated", "needs-review"}
	}

	// Deploy defaults
	if cfg.Deploy.Enabled {
		if strings.TrimSpace(cfg.Deploy.APIBaseURL) == "" {
			cfg.Deploy.APIBaseURL = "https://api.vercel.com"
		}
		if cfg.Deploy.TimeoutMinutes <= 0 {
			cfg.Deploy.TimeoutMinutes = 5
		}
		if cfg.Deploy.PollInterval <= 0 {
			cfg.Deploy.PollInterval = 10 * time.Second
		}
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Slack.BotToken) == "" {
		return errors.New("slack.botToken is required")
	}
	if strings.TrimSpace(cfg.Slack.SigningSecret) == "" {
		return errors.New("slack.signingSecret is required")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.CodeGen.Provider)) {
	case "mock":
	case "aiproxy":
	default:
		return fmt.Errorf("codegen.provider %q is not supported", cfg.CodeGen.Provider)
	}

	if strings.TrimSpace(cfg.Repo.URL) == "" {
		return errors.New("repo.url is required")
	}
	if strings.TrimSpace(cfg.Repo.Token) == "" {
		return errors.New("repo.token is required")
	}

	if strings.TrimSpace(cfg.GitHub.Owner) == "" {
		return errors.New("github.owner is required")
	}
	if strings.TrimSpace(cfg.GitHub.Name) == "" {
		return errors.New("github.name is required")
	}
	if strings.TrimSpace(cfg.GitHub.Token) == "" {
		return errors.New("github.token is required")
	}

	if cfg.Deploy.Enabled {
		if strings.TrimSpace(cfg.Deploy.Token) == "" {
			return errors.New("deploy.token is required when deploy is enabled")
		}
		if strings.TrimSpace(cfg.Deploy.ProjectID) == "" {
			return errors.New("deploy.projectId is required when deploy is enabled")
		}
	}
	return nil
}
