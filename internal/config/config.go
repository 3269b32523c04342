package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures
// credentials, the influencer target list, quota goals and limits,
// engagement pacing, storage, and the LLM used for reply drafting.
type Config struct {
	Account     AccountConfig     `yaml:"account"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Targets     []string          `yaml:"targets"`
	Quota       QuotaConfig       `yaml:"quota"`
	Engagement  EngagementConfig  `yaml:"engagement"`
	Storage     StorageConfig     `yaml:"storage"`
	LLM         LLMConfig         `yaml:"llm"`
	MetricsAddr string            `yaml:"metricsAddr"`
	Debug       bool              `yaml:"debug"`
}

type AccountConfig struct {
	Username string `yaml:"username"`
}

type CredentialsConfig struct {
	// OAuth 1.0a user credentials. Empty fields are read from env:
	// API_KEY, API_SECRET, ACCESS_TOKEN, ACCESS_SECRET.
	APIKey       string `yaml:"apiKey"`
	APISecret    string `yaml:"apiSecret"`
	AccessToken  string `yaml:"accessToken"`
	AccessSecret string `yaml:"accessSecret"`
}

// QuotaConfig sets the activity ceilings. A value of zero disables
// that action kind; negative values are rejected at startup.
type QuotaConfig struct {
	DailyReplyGoal     int64 `yaml:"dailyReplyGoal"`
	DailyLikeGoal      int64 `yaml:"dailyLikeGoal"`
	Per15MinReplyLimit int64 `yaml:"per15MinReplyLimit"`
	Per15MinLikeLimit  int64 `yaml:"per15MinLikeLimit"`
}

type EngagementConfig struct {
	// Posts fetched per influencer per cycle; also the per-cycle
	// action cap for each target.
	TweetsPerUserPerCycle int `yaml:"tweetsPerUserPerCycle"`
	// Pause between scheduler ticks. The scheduler wakes earlier when
	// a 15-minute window is about to roll over.
	TickInterval Duration `yaml:"tickInterval"`
	// A cycle ends when every target had its turn or after this long.
	MaxCycleDuration Duration `yaml:"maxCycleDuration"`
	// Jittered pause after each performed action. Zero disables.
	ActionDelayMin Duration `yaml:"actionDelayMin"`
	ActionDelayMax Duration `yaml:"actionDelayMax"`
}

type StorageConfig struct {
	// Driver is one of json, sqlite, redis, memory.
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
	// Redis password falls back to env REDIS_PASSWORD.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDb"`
}

type LLMConfig struct {
	Provider string `yaml:"provider"` // "openai"
	Model    string `yaml:"model"`
	// If empty, read from env OPENAI_API_KEY.
	APIKey       string  `yaml:"apiKey"`
	SystemPrompt string  `yaml:"systemPrompt"`
	MaxTokens    int     `yaml:"maxTokens"`
	Temperature  float64 `yaml:"temperature"`
}

// Duration wraps time.Duration so YAML can carry values like "90s".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.New("duration must be a string like \"90s\"")
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.WithMessagef(err, "parse duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Account: AccountConfig{Username: ""},
		Targets: []string{},
		Quota: QuotaConfig{
			DailyReplyGoal:     200,
			DailyLikeGoal:      100,
			Per15MinReplyLimit: 50,
			Per15MinLikeLimit:  40,
		},
		Engagement: EngagementConfig{
			TweetsPerUserPerCycle: 5,
			TickInterval:          Duration(90 * time.Second),
			MaxCycleDuration:      Duration(30 * time.Minute),
			ActionDelayMin:        Duration(2 * time.Second),
			ActionDelayMax:        Duration(6 * time.Second),
		},
		Storage: StorageConfig{Driver: "json", Path: "./warble.state.json"},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   60,
			Temperature: 0.8,
		},
	}
}

// ResolveEnv fills in credential fields from environment variables if
// not set. A .env file in the working directory is honored first.
func (c *Config) ResolveEnv() {
	_ = godotenv.Load()
	if c.Credentials.APIKey == "" {
		c.Credentials.APIKey = os.Getenv("API_KEY")
	}
	if c.Credentials.APISecret == "" {
		c.Credentials.APISecret = os.Getenv("API_SECRET")
	}
	if c.Credentials.AccessToken == "" {
		c.Credentials.AccessToken = os.Getenv("ACCESS_TOKEN")
	}
	if c.Credentials.AccessSecret == "" {
		c.Credentials.AccessSecret = os.Getenv("ACCESS_SECRET")
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Storage.RedisPassword == "" {
		c.Storage.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}
}

// Load reads YAML config from path and resolves env credentials.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, errors.WithMessagef(err, "parse %s", path)
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// Validate rejects configurations the scheduler cannot run safely
// with. Errors here are fatal at startup; nothing is clamped or
// guessed.
func (c *Config) Validate() error {
	q := c.Quota
	if q.DailyReplyGoal < 0 || q.DailyLikeGoal < 0 || q.Per15MinReplyLimit < 0 || q.Per15MinLikeLimit < 0 {
		return errors.New("quota values must not be negative; use 0 to disable an action kind")
	}
	if len(c.Targets) == 0 {
		return errors.New("targets list is empty; add at least one influencer handle")
	}
	seen := map[string]bool{}
	for _, h := range c.Targets {
		if h == "" {
			return errors.New("targets list contains an empty handle")
		}
		if seen[h] {
			return errors.Errorf("duplicate target handle %q", h)
		}
		seen[h] = true
	}
	e := c.Engagement
	if e.TweetsPerUserPerCycle <= 0 {
		return errors.New("tweetsPerUserPerCycle must be positive")
	}
	if time.Duration(e.TickInterval) <= 0 {
		return errors.New("tickInterval must be positive")
	}
	if time.Duration(e.MaxCycleDuration) < 0 {
		return errors.New("maxCycleDuration must not be negative")
	}
	if time.Duration(e.ActionDelayMin) < 0 || time.Duration(e.ActionDelayMax) < time.Duration(e.ActionDelayMin) {
		return errors.New("action delays must satisfy 0 <= min <= max")
	}
	switch c.Storage.Driver {
	case "json", "sqlite":
		if c.Storage.Path == "" {
			return errors.Errorf("storage driver %q needs a path", c.Storage.Driver)
		}
	case "redis":
		if c.Storage.RedisAddr == "" {
			return errors.New("storage driver redis needs redisAddr")
		}
	case "memory":
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if q.DailyReplyGoal > 0 && c.LLM.Provider != "openai" {
		return errors.Errorf("replies are enabled but llm provider is %q; only openai drafts replies", c.LLM.Provider)
	}
	return nil
}

// ValidateCredentials checks the secrets the run command needs. Kept
// apart from Validate so read-only commands work without secrets.
func (c *Config) ValidateCredentials() error {
	cr := c.Credentials
	if cr.APIKey == "" || cr.APISecret == "" || cr.AccessToken == "" || cr.AccessSecret == "" {
		return errors.New("missing API credentials; set API_KEY, API_SECRET, ACCESS_TOKEN, ACCESS_SECRET")
	}
	if c.Quota.DailyReplyGoal > 0 && c.LLM.APIKey == "" {
		return errors.New("missing OPENAI_API_KEY; required while replies are enabled")
	}
	return nil
}
