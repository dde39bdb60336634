package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"kufar_watch/risk"
)

type Config struct {
	Telegram  TelegramConfig
	Scheduler SchedulerConfig
	Fetch     FetchConfig
	Proxy     ProxyConfig
	Notify    NotifyConfig
	Archive   ArchiveConfig
	Log       LogConfig

	DBPath      string
	DatabaseURL string

	AllowedHosts []string
	Phrases      risk.Phrases
}

type TelegramConfig struct {
	Token string
}

type SchedulerConfig struct {
	Interval      time.Duration
	Cron          string
	FirstRunDelay time.Duration
	Concurrency   int
}

type FetchConfig struct {
	MinDelay      time.Duration
	MaxDelay      time.Duration
	Timeout       time.Duration
	RatePerSecond float64
	RateBurst     int
	RespectRobots bool
}

type ProxyConfig struct {
	URL string
}

type NotifyConfig struct {
	MaxItemsPerMessage int
	DispatchDelay      time.Duration
	Currency           string
}

// ArchiveConfig points at S3-compatible storage for pages that failed to
// parse. Archiving is off when Bucket is empty.
type ArchiveConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

type LogConfig struct {
	Path     string
	MaxBytes int64
	Level    string
}

// watchFile is the optional YAML overlay for vocabulary and host allow-list.
type watchFile struct {
	AllowedHosts []string      `yaml:"allowed_hosts"`
	Phrases      *risk.Phrases `yaml:"phrases"`
}

var DefaultAllowedHosts = []string{"kufar.by", "www.kufar.by", "cars.kufar.by"}

const DefaultWatchFile = "config/watch.yaml"

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Telegram: TelegramConfig{
			Token: os.Getenv("BOT_TOKEN"),
		},
		Scheduler: SchedulerConfig{
			Interval:      getEnvDuration("SCRAPE_INTERVAL", 6*time.Minute),
			Cron:          os.Getenv("SCRAPE_CRON"),
			FirstRunDelay: getEnvDuration("FIRST_RUN_DELAY", 10*time.Second),
			Concurrency:   getEnvInt("PASS_CONCURRENCY", 1),
		},
		Fetch: FetchConfig{
			MinDelay:      getEnvDuration("FETCH_MIN_DELAY", time.Second),
			MaxDelay:      getEnvDuration("FETCH_MAX_DELAY", 3*time.Second),
			Timeout:       getEnvDuration("FETCH_TIMEOUT", 15*time.Second),
			RatePerSecond: getEnvFloat("FETCH_RATE_PER_SECOND", 0.5),
			RateBurst:     getEnvInt("FETCH_RATE_BURST", 1),
			RespectRobots: os.Getenv("RESPECT_ROBOTS") == "true",
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		Notify: NotifyConfig{
			MaxItemsPerMessage: getEnvInt("MAX_ITEMS_PER_MESSAGE", 3),
			DispatchDelay:      getEnvDuration("DISPATCH_DELAY", time.Second),
			Currency:           getEnv("CURRENCY", "BYN"),
		},
		Archive: ArchiveConfig{
			Bucket:          os.Getenv("ARCHIVE_BUCKET"),
			Region:          getEnv("ARCHIVE_REGION", "eu-central-1"),
			Endpoint:        os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKeyID:     os.Getenv("ARCHIVE_ACCESS_KEY"),
			SecretAccessKey: os.Getenv("ARCHIVE_SECRET_KEY"),
		},
		Log: LogConfig{
			Path:     getEnv("LOG_PATH", "daemon.log"),
			MaxBytes: int64(getEnvInt("LOG_MAX_BYTES", 2*1024*1024)),
			Level:    getEnv("LOG_LEVEL", "info"),
		},
		DBPath:       getEnv("DB_PATH", "kufar_bot.db"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		AllowedHosts: append([]string(nil), DefaultAllowedHosts...),
		Phrases:      risk.DefaultPhrases(),
	}

	if err := cfg.loadWatchFile(getEnv("WATCH_CONFIG", DefaultWatchFile)); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadWatchFile overlays the YAML file at path. A missing file is not an
// error; lists present in the file replace the defaults wholesale.
func (c *Config) loadWatchFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var wf watchFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return err
	}

	if len(wf.AllowedHosts) > 0 {
		c.AllowedHosts = wf.AllowedHosts
	}
	if wf.Phrases != nil {
		if len(wf.Phrases.High) > 0 {
			c.Phrases.High = wf.Phrases.High
		}
		if len(wf.Phrases.Medium) > 0 {
			c.Phrases.Medium = wf.Phrases.Medium
		}
		if len(wf.Phrases.OffPlatform) > 0 {
			c.Phrases.OffPlatform = wf.Phrases.OffPlatform
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
