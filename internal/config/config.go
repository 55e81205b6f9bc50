package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	DBPath      string `envconfig:"DB_PATH" default:"checkin.db"`

	// HTTP server (webhook + management API)
	ListenAddr     string        `envconfig:"LISTEN_ADDR" default:":8080"`
	AuthMode       string        `envconfig:"AUTH_MODE" default:"api-key"` // api-key | jwt | none
	APIKey         string        `envconfig:"API_KEY"`
	JWTSecret      string        `envconfig:"JWT_SECRET"`
	JWTIssuer      string        `envconfig:"JWT_ISSUER"`
	RateLimitRPS   int           `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int           `envconfig:"RATE_LIMIT_BURST" default:"200"`
	CORSOrigins    string        `envconfig:"CORS_ORIGINS"`
	MaxMessageAge  time.Duration `envconfig:"MAX_MESSAGE_AGE" default:"6h"`

	// WhatsApp Cloud API
	WhatsAppVerifyToken string `envconfig:"WHATSAPP_VERIFY_TOKEN"`
	WhatsAppAppSecret   string `envconfig:"WHATSAPP_APP_SECRET"` // enables X-Hub-Signature-256 checks
	WhatsAppAPIBase     string `envconfig:"WHATSAPP_API_BASE" default:"https://graph.facebook.com/v17.0"`
	WhatsAppToken       string `envconfig:"WHATSAPP_TOKEN"` // fallback when an instance has no token of its own
	InstancesFile       string `envconfig:"INSTANCES_FILE"`
	DefaultInstance     string `envconfig:"DEFAULT_INSTANCE" default:"instance1"`

	// Slack (optional, Socket Mode)
	SlackBotToken   string `envconfig:"SLACK_BOT_TOKEN"`
	SlackAppToken   string `envconfig:"SLACK_APP_TOKEN"`
	SlackInstanceID string `envconfig:"SLACK_INSTANCE_ID" default:"slack"`

	// Sentiment classifier
	ClassifierProvider string        `envconfig:"CLASSIFIER_PROVIDER" default:"openai"` // openai | anthropic | none
	ClassifierBaseURL  string        `envconfig:"CLASSIFIER_BASE_URL" default:"https://api.deepseek.com/v1"`
	ClassifierAPIKey   string        `envconfig:"CLASSIFIER_API_KEY"`
	ClassifierModel    string        `envconfig:"CLASSIFIER_MODEL" default:"deepseek-chat"`
	ClassifierTimeout  time.Duration `envconfig:"CLASSIFIER_TIMEOUT" default:"5s"`

	// Operator escalation (Slack incoming webhook; empty logs only)
	EscalationWebhookURL string        `envconfig:"ESCALATION_WEBHOOK_URL"`
	EscalationCooldown   time.Duration `envconfig:"ESCALATION_COOLDOWN" default:"6h"`

	// Dedup
	DedupTTL      time.Duration `envconfig:"DEDUP_TTL" default:"30m"`
	DedupCapacity int           `envconfig:"DEDUP_CAPACITY" default:"10000"`

	// Scheduler
	SchedulerEnabled bool          `envconfig:"SCHEDULER_ENABLED" default:"true"`
	SchedulerTZ      string        `envconfig:"SCHEDULER_TZ" default:"Local"`
	SchedulerWorkers int           `envconfig:"SCHEDULER_WORKERS" default:"8"`
	MorningCron      string        `envconfig:"MORNING_CRON" default:"0 9 * * 1-5"`
	MiddayCron       string        `envconfig:"MIDDAY_CRON" default:"0 13 * * 1-5"`
	EveningCron      string        `envconfig:"EVENING_CRON" default:"0 19 * * 1-5"`
	WeeklyCron       string        `envconfig:"WEEKLY_CRON" default:"0 18 * * 0"`
	RedeliveryCron   string        `envconfig:"REDELIVERY_CRON" default:"@every 1m"`
	RetentionCron    string        `envconfig:"RETENTION_CRON" default:"@hourly"`
	ShutdownTimeout  time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

// Instance describes one tenant deployment and how to reach its users.
// AccessTokenEnv names an env var holding the token so the file itself
// carries no secrets.
type Instance struct {
	ID             string `yaml:"id"`
	PhoneNumberID  string `yaml:"phone_number_id"`
	AccessToken    string `yaml:"access_token"`
	AccessTokenEnv string `yaml:"access_token_env"`
}

// Token resolves the instance's access token, falling back to fallback.
func (i Instance) Token(fallback string) string {
	if i.AccessToken != "" {
		return i.AccessToken
	}
	if i.AccessTokenEnv != "" {
		if v := os.Getenv(i.AccessTokenEnv); v != "" {
			return v
		}
	}
	return fallback
}

// Instances maps WhatsApp phone number IDs to tenant instances.
type Instances struct {
	Instances []Instance `yaml:"instances"`
	byPhone   map[string]Instance
	byID      map[string]Instance
}

// SlackEnabled returns true if Slack tokens are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// ClassifierEnabled returns true if a remote classifier should be used.
func (c *Config) ClassifierEnabled() bool {
	p := strings.ToLower(strings.TrimSpace(c.ClassifierProvider))
	return p != "" && p != "none" && c.ClassifierAPIKey != ""
}

// IsDevelopment reports whether the agent runs in development mode.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.Environment, "development")
}

// CORSOriginList returns the parsed list of allowed CORS origins.
func (c *Config) CORSOriginList() []string {
	if c.CORSOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, o := range parts {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	switch strings.ToLower(c.AuthMode) {
	case "api-key":
		if c.APIKey == "" {
			return fmt.Errorf("AUTH_MODE=api-key requires API_KEY")
		}
	case "jwt":
		if c.JWTSecret == "" {
			return fmt.Errorf("AUTH_MODE=jwt requires JWT_SECRET")
		}
	case "none":
	default:
		return fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode)
	}
	if c.DedupTTL <= 0 {
		return fmt.Errorf("DEDUP_TTL must be positive")
	}
	if c.SchedulerWorkers <= 0 {
		return fmt.Errorf("SCHEDULER_WORKERS must be positive")
	}
	return nil
}

// Location resolves SchedulerTZ.
func (c *Config) Location() (*time.Location, error) {
	if c.SchedulerTZ == "" || c.SchedulerTZ == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.SchedulerTZ)
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TZ %q: %w", c.SchedulerTZ, err)
	}
	return loc, nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with a prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	return &cfg, nil
}

// LoadInstances reads the instances file. An empty path yields a registry
// holding only defaultID.
func LoadInstances(path, defaultID string) (*Instances, error) {
	reg := &Instances{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading instances file: %w", err)
		}
		if err := yaml.Unmarshal(data, reg); err != nil {
			return nil, fmt.Errorf("parsing instances file: %w", err)
		}
	}
	if err := reg.index(defaultID); err != nil {
		return nil, err
	}
	return reg, nil
}

// ParseInstances builds a registry from raw YAML.
func ParseInstances(data []byte, defaultID string) (*Instances, error) {
	reg := &Instances{}
	if err := yaml.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("parsing instances: %w", err)
	}
	if err := reg.index(defaultID); err != nil {
		return nil, err
	}
	return reg, nil
}

func (r *Instances) index(defaultID string) error {
	r.byPhone = make(map[string]Instance, len(r.Instances))
	r.byID = make(map[string]Instance, len(r.Instances))
	for _, inst := range r.Instances {
		if inst.ID == "" {
			return fmt.Errorf("instance entry with phone_number_id %q has no id", inst.PhoneNumberID)
		}
		if _, dup := r.byID[inst.ID]; dup {
			return fmt.Errorf("duplicate instance id %q", inst.ID)
		}
		r.byID[inst.ID] = inst
		if inst.PhoneNumberID != "" {
			r.byPhone[inst.PhoneNumberID] = inst
		}
	}
	if defaultID != "" {
		if _, ok := r.byID[defaultID]; !ok {
			def := Instance{ID: defaultID}
			r.Instances = append(r.Instances, def)
			r.byID[defaultID] = def
		}
	}
	return nil
}

// ByPhoneNumberID returns the instance owning phoneNumberID.
func (r *Instances) ByPhoneNumberID(phoneNumberID string) (Instance, bool) {
	inst, ok := r.byPhone[phoneNumberID]
	return inst, ok
}

// ByID returns the instance with the given id.
func (r *Instances) ByID(id string) (Instance, bool) {
	inst, ok := r.byID[id]
	return inst, ok
}

// All returns every configured instance.
func (r *Instances) All() []Instance {
	out := make([]Instance, len(r.Instances))
	copy(out, r.Instances)
	return out
}
