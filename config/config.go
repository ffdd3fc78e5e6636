package config

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabaseURL string
	OpsDBPath   string
	LogLevel    string
	LogPath     string

	Scheduler SchedulerConfig
	Monitor   MonitorConfig
	Alerts    AlertsConfig
	Scoring   ScoringConfig
	API       APIConfig
	Feed      FeedConfig

	Filters map[string]*FilterConfig
}

type SchedulerConfig struct {
	Cron     string
	Interval time.Duration
	// DigestCron fires the weekly significant-price-drops digest.
	DigestCron string
}

type MonitorConfig struct {
	StaleAfter  time.Duration
	BatchLimit  int
	Concurrency int
}

type AlertsConfig struct {
	// MinDropNotify is the price drop (in currency units) at which the
	// trigger gate emits a notification request.
	MinDropNotify int64
	// DigestWindowDays / DigestMinDrop shape the weekly digest query.
	DigestWindowDays int
	DigestMinDrop    int64
	QueueSize        int
}

type ScoringConfig struct {
	HalfLifeDays float64
	AgingWeight  float64
}

type APIConfig struct {
	Addr string
}

type FeedConfig struct {
	// URL of the scraping collaborator's snapshot endpoint. When empty,
	// Path points at a JSON batch file instead.
	URL     string
	Path    string
	Timeout time.Duration
	Proxy   string
}

// FilterConfig mirrors one tracked marketplace search, loaded from
// config/filters/*.yaml. The scraping collaborator owns the URLs; the
// engine scopes feed fetches with the filter ids and serves the set over
// the API.
type FilterConfig struct {
	ID         string `yaml:"id" json:"id"`
	Name       string `yaml:"name" json:"name"`
	Brand      string `yaml:"brand" json:"brand"`
	URL        string `yaml:"url" json:"url"`
	MinYear    int    `yaml:"min_year" json:"min_year"`
	MaxMileage int    `yaml:"max_mileage" json:"max_mileage"`
	MaxPrice   int64  `yaml:"max_price" json:"max_price"`
}

// FilterIDs returns the configured filter ids in stable order.
func (c *Config) FilterIDs() []string {
	ids := make([]string, 0, len(c.Filters))
	for id := range c.Filters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		OpsDBPath:   getEnv("OPS_DB_PATH", "carwatch.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPath:     getEnv("LOG_PATH", "daemon.log"),
		Scheduler: SchedulerConfig{
			Cron:       os.Getenv("CHECK_CRON"),
			DigestCron: getEnv("DIGEST_CRON", "0 10 * * 0"),
		},
		Monitor: MonitorConfig{
			StaleAfter:  getEnvDuration("STALE_AFTER", 20*time.Hour),
			BatchLimit:  getEnvInt("BATCH_LIMIT", 200),
			Concurrency: getEnvInt("CHECK_CONCURRENCY", 8),
		},
		Alerts: AlertsConfig{
			MinDropNotify:    int64(getEnvInt("MIN_DROP_NOTIFY", 500)),
			DigestWindowDays: getEnvInt("DIGEST_WINDOW_DAYS", 7),
			DigestMinDrop:    int64(getEnvInt("DIGEST_MIN_DROP", 1000)),
			QueueSize:        getEnvInt("NOTIFY_QUEUE_SIZE", 256),
		},
		Scoring: ScoringConfig{
			HalfLifeDays: getEnvFloat("SCORE_HALF_LIFE_DAYS", 30),
			AgingWeight:  getEnvFloat("SCORE_AGING_WEIGHT", 0.001),
		},
		API: APIConfig{
			Addr: getEnv("API_ADDR", ":8080"),
		},
		Feed: FeedConfig{
			URL:     os.Getenv("FEED_URL"),
			Path:    os.Getenv("FEED_PATH"),
			Timeout: getEnvDuration("FEED_TIMEOUT", 30*time.Second),
			Proxy:   os.Getenv("FEED_PROXY"),
		},
		Filters: make(map[string]*FilterConfig),
	}

	if interval := os.Getenv("CHECK_INTERVAL"); interval != "" {
		d, err := time.ParseDuration(interval)
		if err == nil {
			cfg.Scheduler.Interval = d
		}
	}

	if err := cfg.loadFilterConfigs(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadFilterConfigs() error {
	configDir := "config/filters"
	entries, err := os.ReadDir(configDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}

		path := filepath.Join(configDir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		var filter FilterConfig
		if err := yaml.Unmarshal(data, &filter); err != nil {
			return err
		}

		c.Filters[filter.ID] = &filter
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
