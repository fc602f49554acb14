package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/codecollab/agentpay/internal/registry"
)

type GlobalFlags struct {
	ConfigPath string
	JSON       bool
	Plain      bool
	Verbose    bool
	Timeout    string
	Retries    int
	NoCache    bool
	RPCURL     string
	Recipient  string
}

type Settings struct {
	OutputMode string
	Verbose    bool
	Timeout    time.Duration
	Retries    int

	QuoteBaseURL   string
	StatusBaseURL  string
	IndexerBaseURL string
	IndexerAPIKey  string
	RelayBaseURL   string
	RelayAPIKey    string
	TaskBaseURL    string

	RPCURL              string
	SettlementRecipient string
	PlatformAddress     string
	RouterAddress       string

	DefaultSlippageBps int64
	PermitDeadline     time.Duration
	PermitDeadlineCap  time.Duration
	ArmDelay           time.Duration

	CacheEnabled   bool
	CachePath      string
	CacheLockPath  string
	CacheFreshness time.Duration
	AutoRefresh    time.Duration

	PollInterval time.Duration
	PollAttempts int
}

type fileConfig struct {
	Output  string `yaml:"output"`
	Timeout string `yaml:"timeout"`
	Retries *int   `yaml:"retries"`

	Endpoints struct {
		Quote   string `yaml:"quote"`
		Status  string `yaml:"status"`
		Indexer string `yaml:"indexer"`
		Relay   string `yaml:"relay"`
		Task    string `yaml:"task"`
	} `yaml:"endpoints"`

	Keys struct {
		Indexer    string `yaml:"indexer"`
		IndexerEnv string `yaml:"indexer_env"`
		Relay      string `yaml:"relay"`
		RelayEnv   string `yaml:"relay_env"`
	} `yaml:"keys"`

	Settlement struct {
		Recipient string `yaml:"recipient"`
		Platform  string `yaml:"platform"`
		Router    string `yaml:"router"`
	} `yaml:"settlement"`

	RPCURL      string `yaml:"rpc_url"`
	SlippageBps *int64 `yaml:"slippage_bps"`

	Cache struct {
		Enabled   *bool  `yaml:"enabled"`
		Path      string `yaml:"path"`
		LockPath  string `yaml:"lock_path"`
		Freshness string `yaml:"freshness"`
	} `yaml:"cache"`

	AutoRefresh  string `yaml:"auto_refresh"`
	PollInterval string `yaml:"poll_interval"`
	PollAttempts *int   `yaml:"poll_attempts"`
}

const (
	EnvIndexerAPIKey = "AGENTPAY_INDEXER_API_KEY"
	EnvRelayAPIKey   = "AGENTPAY_RELAY_API_KEY"
	EnvRecipient     = "AGENTPAY_RECIPIENT"
	EnvRPCURL        = "AGENTPAY_RPC_URL"
)

func Load(flags GlobalFlags) (Settings, error) {
	// .env is optional; absence is not an error.
	_ = godotenv.Load()

	settings, err := defaultSettings()
	if err != nil {
		return Settings{}, err
	}

	cfgPath, err := resolveConfigPath(flags.ConfigPath)
	if err != nil {
		return Settings{}, err
	}
	if err := applyFileConfig(cfgPath, &settings); err != nil {
		return Settings{}, err
	}

	applyEnv(&settings)

	if err := applyFlags(flags, &settings); err != nil {
		return Settings{}, err
	}

	if settings.Timeout <= 0 {
		settings.Timeout = 10 * time.Second
	}
	if settings.Retries < 0 {
		settings.Retries = 0
	}
	if settings.PermitDeadline > settings.PermitDeadlineCap {
		settings.PermitDeadline = settings.PermitDeadlineCap
	}
	return settings, nil
}

func defaultSettings() (Settings, error) {
	cachePath, lockPath, err := defaultCachePaths()
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		OutputMode: "json",
		Timeout:    10 * time.Second,
		Retries:    2,

		QuoteBaseURL:   registry.QuoteBaseURL,
		StatusBaseURL:  registry.StatusBaseURL,
		IndexerBaseURL: registry.IndexerBaseURL,
		RelayBaseURL:   registry.RelayBaseURL,
		TaskBaseURL:    registry.TaskBaseURL,

		PlatformAddress: registry.PlatformSettlementAddress,
		RouterAddress:   registry.SwapRouterAddress,

		DefaultSlippageBps: 50,
		PermitDeadline:     10 * time.Minute,
		PermitDeadlineCap:  30 * time.Minute,
		ArmDelay:           1500 * time.Millisecond,

		CacheEnabled:   true,
		CachePath:      cachePath,
		CacheLockPath:  lockPath,
		CacheFreshness: 60 * time.Second,
		AutoRefresh:    30 * time.Second,

		PollInterval: 5 * time.Second,
		PollAttempts: 60,
	}, nil
}

func resolveConfigPath(input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "agentpay", "config.yaml"), nil
}

func defaultCachePaths() (string, string, error) {
	base := os.Getenv("XDG_CACHE_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", "", err
		}
		base = filepath.Join(home, ".cache")
	}
	dir := filepath.Join(base, "agentpay")
	return filepath.Join(dir, "cache.db"), filepath.Join(dir, "cache.lock"), nil
}

func applyFileConfig(path string, settings *Settings) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	var cfg fileConfig
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}

	if cfg.Output != "" {
		settings.OutputMode = strings.ToLower(cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("config timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cfg.Retries != nil {
		settings.Retries = *cfg.Retries
	}
	if cfg.Endpoints.Quote != "" {
		settings.QuoteBaseURL = cfg.Endpoints.Quote
	}
	if cfg.Endpoints.Status != "" {
		settings.StatusBaseURL = cfg.Endpoints.Status
	}
	if cfg.Endpoints.Indexer != "" {
		settings.IndexerBaseURL = cfg.Endpoints.Indexer
	}
	if cfg.Endpoints.Relay != "" {
		settings.RelayBaseURL = cfg.Endpoints.Relay
	}
	if cfg.Endpoints.Task != "" {
		settings.TaskBaseURL = cfg.Endpoints.Task
	}
	if cfg.Keys.Indexer != "" {
		settings.IndexerAPIKey = cfg.Keys.Indexer
	}
	if cfg.Keys.IndexerEnv != "" {
		settings.IndexerAPIKey = os.Getenv(cfg.Keys.IndexerEnv)
	}
	if cfg.Keys.Relay != "" {
		settings.RelayAPIKey = cfg.Keys.Relay
	}
	if cfg.Keys.RelayEnv != "" {
		settings.RelayAPIKey = os.Getenv(cfg.Keys.RelayEnv)
	}
	if cfg.Settlement.Recipient != "" {
		settings.SettlementRecipient = cfg.Settlement.Recipient
	}
	if cfg.Settlement.Platform != "" {
		settings.PlatformAddress = cfg.Settlement.Platform
	}
	if cfg.Settlement.Router != "" {
		settings.RouterAddress = cfg.Settlement.Router
	}
	if cfg.RPCURL != "" {
		settings.RPCURL = cfg.RPCURL
	}
	if cfg.SlippageBps != nil {
		settings.DefaultSlippageBps = *cfg.SlippageBps
	}
	if cfg.Cache.Enabled != nil {
		settings.CacheEnabled = *cfg.Cache.Enabled
	}
	if cfg.Cache.Path != "" {
		settings.CachePath = cfg.Cache.Path
	}
	if cfg.Cache.LockPath != "" {
		settings.CacheLockPath = cfg.Cache.LockPath
	}
	if cfg.Cache.Freshness != "" {
		d, err := time.ParseDuration(cfg.Cache.Freshness)
		if err != nil {
			return fmt.Errorf("config cache.freshness: %w", err)
		}
		settings.CacheFreshness = d
	}
	if cfg.AutoRefresh != "" {
		d, err := time.ParseDuration(cfg.AutoRefresh)
		if err != nil {
			return fmt.Errorf("config auto_refresh: %w", err)
		}
		settings.AutoRefresh = d
	}
	if cfg.PollInterval != "" {
		d, err := time.ParseDuration(cfg.PollInterval)
		if err != nil {
			return fmt.Errorf("config poll_interval: %w", err)
		}
		settings.PollInterval = d
	}
	if cfg.PollAttempts != nil {
		settings.PollAttempts = *cfg.PollAttempts
	}
	return nil
}

func applyEnv(settings *Settings) {
	if v := strings.TrimSpace(os.Getenv(EnvIndexerAPIKey)); v != "" {
		settings.IndexerAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRelayAPIKey)); v != "" {
		settings.RelayAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRecipient)); v != "" {
		settings.SettlementRecipient = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvRPCURL)); v != "" {
		settings.RPCURL = v
	}
}

func applyFlags(flags GlobalFlags, settings *Settings) error {
	if flags.JSON && flags.Plain {
		return fmt.Errorf("--json and --plain are mutually exclusive")
	}
	if flags.JSON {
		settings.OutputMode = "json"
	}
	if flags.Plain {
		settings.OutputMode = "plain"
	}
	settings.Verbose = flags.Verbose
	if flags.Timeout != "" {
		d, err := time.ParseDuration(flags.Timeout)
		if err != nil {
			return fmt.Errorf("--timeout: %w", err)
		}
		settings.Timeout = d
	}
	if flags.Retries >= 0 {
		settings.Retries = flags.Retries
	}
	if flags.NoCache {
		settings.CacheEnabled = false
	}
	if strings.TrimSpace(flags.RPCURL) != "" {
		settings.RPCURL = strings.TrimSpace(flags.RPCURL)
	}
	if strings.TrimSpace(flags.Recipient) != "" {
		settings.SettlementRecipient = strings.TrimSpace(flags.Recipient)
	}
	return nil
}
