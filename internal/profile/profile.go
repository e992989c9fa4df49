package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Profile is the configuration to start the recall server.
type Profile struct {
	// Mode can be "prod" or "dev"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where recall stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Model-call collaborator configuration
	AIBaseURL    string // RECALL_AI_BASE_URL (default: https://api.openai.com/v1)
	AIAPIKey     string // RECALL_AI_API_KEY
	AIChatModel  string // RECALL_AI_CHAT_MODEL (default: gpt-4o-mini)
	AIMaxRetries int    // RECALL_AI_MAX_RETRIES (default: 3)
	AITimeout    time.Duration

	// Memory engine tunables
	MaxContextTokens   int           // RECALL_MAX_CONTEXT_TOKENS (default: 4096)
	RecentMaxTurns     int           // RECALL_RECENT_MAX_TURNS (default: 12)
	SummarizeThreshold int           // RECALL_SUMMARIZE_THRESHOLD (default: 10)
	SummarizeDelay     time.Duration // RECALL_SUMMARIZE_DELAY (default: 5m)
	SummarizeIdle      time.Duration // RECALL_SUMMARIZE_IDLE (default: 24h)
	ReactivationIdle   time.Duration // RECALL_REACTIVATION_IDLE (default: 168h)
	ConsentTTL         time.Duration // RECALL_CONSENT_TTL (default: 168h)
	JobWorkers         int           // RECALL_JOB_WORKERS (default: 2)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true when the model-call collaborator is configured.
// Without it the engine still serves assembly; summarization, extraction and
// reactivation briefs stay dormant.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != ""
}

// FromEnv loads configuration from RECALL_* environment variables.
func (p *Profile) FromEnv() {
	v := viper.New()
	v.SetEnvPrefix("recall")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "dev")
	v.SetDefault("addr", "")
	v.SetDefault("port", 8230)
	v.SetDefault("data", "")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("dsn", "")
	v.SetDefault("ai_base_url", "https://api.openai.com/v1")
	v.SetDefault("ai_api_key", "")
	v.SetDefault("ai_chat_model", "gpt-4o-mini")
	v.SetDefault("ai_max_retries", 3)
	v.SetDefault("ai_timeout", "60s")
	v.SetDefault("max_context_tokens", 4096)
	v.SetDefault("recent_max_turns", 12)
	v.SetDefault("summarize_threshold", 10)
	v.SetDefault("summarize_delay", "5m")
	v.SetDefault("summarize_idle", "24h")
	v.SetDefault("reactivation_idle", "168h")
	v.SetDefault("consent_ttl", "168h")
	v.SetDefault("job_workers", 2)

	p.Mode = v.GetString("mode")
	p.Addr = v.GetString("addr")
	p.Port = v.GetInt("port")
	p.Data = v.GetString("data")
	p.Driver = v.GetString("driver")
	p.DSN = v.GetString("dsn")
	p.AIBaseURL = v.GetString("ai_base_url")
	p.AIAPIKey = v.GetString("ai_api_key")
	p.AIChatModel = v.GetString("ai_chat_model")
	p.AIMaxRetries = v.GetInt("ai_max_retries")
	p.AITimeout = v.GetDuration("ai_timeout")
	p.MaxContextTokens = v.GetInt("max_context_tokens")
	p.RecentMaxTurns = v.GetInt("recent_max_turns")
	p.SummarizeThreshold = v.GetInt("summarize_threshold")
	p.SummarizeDelay = v.GetDuration("summarize_delay")
	p.SummarizeIdle = v.GetDuration("summarize_idle")
	p.ReactivationIdle = v.GetDuration("reactivation_idle")
	p.ConsentTTL = v.GetDuration("consent_ttl")
	p.JobWorkers = v.GetInt("job_workers")
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "dev"
	}

	if p.Mode == "prod" && p.Data == "" {
		p.Data = "/var/opt/recall"
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return errors.Wrap(err, "invalid data directory")
	}
	p.Data = dataDir

	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("recall_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn is required for postgres driver")
	}

	return nil
}
