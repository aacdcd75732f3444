package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath = "config/default.yaml"
	ConfigPathEnv     = "EVENTGATE_CONFIG"
	DefaultPolicyName = "default"

	// HardMaxAttachments caps ingest.max_attachments regardless of configuration.
	HardMaxAttachments = 5
)

// Config is built once at startup and handed to components by value.
// Nothing below cmd/ reads the environment.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"` // console | json

	Storage   StorageConfig   `yaml:"storage"`
	Router    RouterConfig    `yaml:"router"`
	Detection DetectionConfig `yaml:"detection"`
	Detector  DetectorConfig  `yaml:"detector"`
	Cameras   CamerasConfig   `yaml:"cameras"`
	Email     EmailConfig     `yaml:"email"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Retry     RetryConfig     `yaml:"retry"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Journal   JournalConfig   `yaml:"journal"`
	NATS      NATSConfig      `yaml:"nats"`
	Redis     RedisConfig     `yaml:"redis"`
	Archive   ArchiveConfig   `yaml:"archive"`
	API       APIConfig       `yaml:"api"`
}

type StorageConfig struct {
	DataRoot string `yaml:"data_root"`
}

type RouterConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Workers      int           `yaml:"workers"`
	Watch        bool          `yaml:"watch"`
	Debounce     time.Duration `yaml:"debounce"`
	LockTTL      time.Duration `yaml:"lock_ttl"`
}

// DetectionConfig holds the process-wide gate settings.
type DetectionConfig struct {
	DetectorFloor     float64         `yaml:"detector_floor"`
	FallbackThreshold float64         `yaml:"fallback_threshold"`
	ClassThresholds   map[int]float64 `yaml:"class_thresholds"`
}

type DetectorConfig struct {
	URL       string        `yaml:"url"`
	Timeout   time.Duration `yaml:"timeout"`
	ImageSize int           `yaml:"image_size"`
}

type CamerasConfig struct {
	Default  CameraConfig            `yaml:"default"`
	Policies map[string]CameraConfig `yaml:"policies"`
}

type CameraConfig struct {
	DesiredClasses  []int    `yaml:"desired_classes"`
	EmailEnabled    bool     `yaml:"send_email"`
	EmailRecipients []string `yaml:"email_receivers"`
	ChatEnabled     bool     `yaml:"send_telegram"`
	ChatTargets     []string `yaml:"telegram_chat_ids"`
}

type EmailConfig struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Account     string        `yaml:"account"`
	Password    string        `yaml:"password"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Configured reports whether enough SMTP settings exist to build a real sender.
func (e EmailConfig) Configured() bool {
	return e.Host != "" && e.Account != "" && e.Password != ""
}

type TelegramConfig struct {
	BotToken    string        `yaml:"bot_token"`
	APIURL      string        `yaml:"api_url"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

type RetryConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"` // 0 disables the sweeper
	MaxAttempts   int           `yaml:"max_attempts"`   // 0 = unlimited
}

type IngestConfig struct {
	SpoolDir            string        `yaml:"spool_dir"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	MaxAttachments      int           `yaml:"max_attachments"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	SeenCacheSize       int           `yaml:"seen_cache_size"`
	SeenTTL             time.Duration `yaml:"seen_ttl"`
}

type JournalConfig struct {
	DSN string `yaml:"dsn"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	MaxRetries    int    `yaml:"max_retries"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	LockKey  string `yaml:"lock_key"`
}

type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseTLS    bool   `yaml:"use_tls"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in settings used when no file overrides them.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",
		Storage:   StorageConfig{DataRoot: "/data"},
		Router: RouterConfig{
			PollInterval: 10 * time.Second,
			Workers:      1,
			Watch:        true,
			Debounce:     500 * time.Millisecond,
			LockTTL:      30 * time.Second,
		},
		Detection: DetectionConfig{
			DetectorFloor:     0.1,
			FallbackThreshold: 0.3,
			ClassThresholds: map[int]float64{
				0: 0.5,  // person
				1: 0.2,  // bicycle
				2: 0.1,  // car
				3: 0.1,  // motorcycle
				5: 0.1,  // bus
				7: 0.1,  // truck
				8: 0.25, // boat
			},
		},
		Detector: DetectorConfig{
			URL:       "http://localhost:8000/detect",
			Timeout:   30 * time.Second,
			ImageSize: 640,
		},
		Cameras: CamerasConfig{
			Default: CameraConfig{
				DesiredClasses: []int{0, 1, 2, 3, 5, 6, 7, 8},
				EmailEnabled:   true,
				ChatEnabled:    true,
			},
		},
		Email:    EmailConfig{Port: 587, SendTimeout: 60 * time.Second},
		Telegram: TelegramConfig{APIURL: "https://api.telegram.org", SendTimeout: 30 * time.Second},
		Ingest: IngestConfig{
			PollInterval:        60 * time.Second,
			MaxAttachments:      3,
			SimilarityThreshold: 0.98,
			SeenCacheSize:       4096,
			SeenTTL:             24 * time.Hour,
		},
		NATS:  NATSConfig{SubjectPrefix: "eventgate.outcomes", MaxRetries: 3},
		Redis: RedisConfig{LockKey: "eventgate:inbox-lock"},
		API:   APIConfig{Addr: ":8090"},
	}
}

// PathFromEnv returns $EVENTGATE_CONFIG, or DefaultConfigPath when unset.
func PathFromEnv() string {
	if p := os.Getenv(ConfigPathEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

// Load reads .env (if present), the YAML file at path (if present) with
// ${VAR} expansion, and the dedicated secret overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded, using process environment")
	}

	cfg := Default()

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.ExpandEnv(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		log.Warn().Str("path", path).Msg("Config file not found, using defaults")
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	overrideString(&cfg.Storage.DataRoot, "EVENTGATE_DATA_ROOT")
	overrideString(&cfg.LogLevel, "LOG_LEVEL")

	overrideString(&cfg.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")

	overrideString(&cfg.Email.Host, "SMTP_SERVER_OUT")
	overrideString(&cfg.Email.Account, "EMAIL_ACCOUNT_OUT")
	overrideString(&cfg.Email.Password, "EMAIL_PASSWORD_OUT")
	if v := os.Getenv("EMAIL_PORT_OUT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Email.Port = port
		}
	}

	overrideString(&cfg.Detector.URL, "DETECTOR_URL")
	overrideString(&cfg.NATS.URL, "NATS_URL")
	overrideString(&cfg.Redis.Addr, "REDIS_ADDR")
	overrideString(&cfg.Journal.DSN, "JOURNAL_DSN")
}

func overrideString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate rejects settings that would make the gate or the loops misbehave.
func (c *Config) Validate() error {
	var errs []error

	if c.Storage.DataRoot == "" {
		errs = append(errs, errors.New("storage.data_root is required"))
	}
	if c.Router.PollInterval <= 0 {
		errs = append(errs, errors.New("router.poll_interval must be positive"))
	}
	if c.Router.Workers < 1 {
		c.Router.Workers = 1
	}
	if c.Redis.Addr != "" && c.Router.LockTTL <= 0 {
		errs = append(errs, errors.New("router.lock_ttl must be positive when redis.addr is set"))
	}
	if !inUnitRange(c.Detection.DetectorFloor) {
		errs = append(errs, fmt.Errorf("detection.detector_floor %v outside [0,1]", c.Detection.DetectorFloor))
	}
	if !inUnitRange(c.Detection.FallbackThreshold) {
		errs = append(errs, fmt.Errorf("detection.fallback_threshold %v outside [0,1]", c.Detection.FallbackThreshold))
	}
	for class, th := range c.Detection.ClassThresholds {
		if !inUnitRange(th) {
			errs = append(errs, fmt.Errorf("detection.class_thresholds[%d] %v outside [0,1]", class, th))
		}
	}
	if c.Ingest.MaxAttachments > HardMaxAttachments {
		c.Ingest.MaxAttachments = HardMaxAttachments
	}
	if c.Ingest.MaxAttachments < 1 {
		errs = append(errs, errors.New("ingest.max_attachments must be at least 1"))
	}
	if c.Retry.MaxAttempts < 0 {
		errs = append(errs, errors.New("retry.max_attempts cannot be negative"))
	}
	for name := range c.Cameras.Policies {
		if strings.TrimSpace(name) == "" {
			errs = append(errs, errors.New("cameras.policies contains an empty camera name"))
		}
	}

	return errors.Join(errs...)
}

func inUnitRange(v float64) bool {
	return v >= 0 && v <= 1
}
