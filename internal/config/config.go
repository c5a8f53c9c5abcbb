package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	xlog "job-status-stream/internal/log"
)

// FileEnv names the optional YAML file. Environment variables override its values.
const FileEnv = "STATUSWATCH_CONFIG"

var ErrMissing = errors.New("missing required setting")

type Config struct {
	APIBaseURL string `yaml:"api_base_url"`
	APIToken   string `yaml:"api_token"`
	HTTPAddr   string `yaml:"http_addr"`
	LogLevel   string `yaml:"log_level"`

	RedisAddr      string        `yaml:"redis_addr"`
	PostgresDSN    string        `yaml:"postgres_dsn"`
	StatusCacheTTL time.Duration `yaml:"status_cache_ttl"`

	Stream   StreamConfig `yaml:"stream"`
	Recorder struct {
		Workers int `yaml:"workers"`
		Buffer  int `yaml:"buffer"`
	} `yaml:"recorder"`

	WatchJobs []string `yaml:"watch_jobs"`
}

type StreamConfig struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	RetryBaseDelay     time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay      time.Duration `yaml:"retry_max_delay"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	VisibilityDebounce time.Duration `yaml:"visibility_debounce"`
	BatchWindow        time.Duration `yaml:"batch_window"`
	OpenRatePerSec     float64       `yaml:"open_rate_per_sec"`
}

func Defaults() Config {
	var c Config
	c.HTTPAddr = ":8090"
	c.LogLevel = "info"
	c.StatusCacheTTL = 24 * time.Hour
	c.Stream = StreamConfig{
		MaxAttempts:        5,
		RetryBaseDelay:     2 * time.Second,
		RetryMaxDelay:      2 * time.Second,
		HealthInterval:     10 * time.Second,
		VisibilityDebounce: 250 * time.Millisecond,
		BatchWindow:        time.Second,
		OpenRatePerSec:     5,
	}
	c.Recorder.Workers = 2
	c.Recorder.Buffer = 256
	return c
}

// Load reads the process environment.
func Load() (Config, error) {
	return LoadFrom(os.LookupEnv)
}

// LoadFrom builds the config from defaults, the YAML file named by FileEnv, and then
// the variables visible through lookup.
func LoadFrom(lookup func(string) (string, bool)) (Config, error) {
	c := Defaults()

	if path, ok := lookup(FileEnv); ok && path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &c); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	e := env{lookup: lookup}
	c.APIBaseURL = e.str("API_BASE_URL", c.APIBaseURL)
	c.APIToken = e.str("API_TOKEN", c.APIToken)
	c.HTTPAddr = e.str("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = e.str("LOG_LEVEL", c.LogLevel)
	c.RedisAddr = e.str("REDIS_ADDR", c.RedisAddr)
	c.PostgresDSN = e.str("POSTGRES_DSN", c.PostgresDSN)
	c.StatusCacheTTL = e.dur("STATUS_CACHE_TTL", c.StatusCacheTTL)

	c.Stream.MaxAttempts = e.integer("STREAM_MAX_ATTEMPTS", c.Stream.MaxAttempts)
	c.Stream.RetryBaseDelay = e.dur("STREAM_RETRY_BASE_DELAY", c.Stream.RetryBaseDelay)
	c.Stream.RetryMaxDelay = e.dur("STREAM_RETRY_MAX_DELAY", c.Stream.RetryMaxDelay)
	c.Stream.HealthInterval = e.dur("STREAM_HEALTH_INTERVAL", c.Stream.HealthInterval)
	c.Stream.VisibilityDebounce = e.dur("STREAM_VISIBILITY_DEBOUNCE", c.Stream.VisibilityDebounce)
	c.Stream.BatchWindow = e.dur("DISCONNECT_BATCH_WINDOW", c.Stream.BatchWindow)
	c.Stream.OpenRatePerSec = e.decimal("OPEN_RATE_PER_SEC", c.Stream.OpenRatePerSec)

	c.Recorder.Workers = e.integer("RECORDER_WORKERS", c.Recorder.Workers)
	c.Recorder.Buffer = e.integer("RECORDER_BUFFER", c.Recorder.Buffer)

	if v, ok := lookup("WATCH_JOBS"); ok && v != "" {
		c.WatchJobs = splitList(v)
	}

	if e.err != nil {
		return Config{}, e.err
	}
	return c, c.Validate()
}

func (c Config) Validate() error {
	var errs []error
	if c.APIBaseURL == "" {
		errs = append(errs, fmt.Errorf("%w: API_BASE_URL", ErrMissing))
	}
	if c.Stream.MaxAttempts < 1 {
		errs = append(errs, errors.New("STREAM_MAX_ATTEMPTS must be at least 1"))
	}
	if c.Stream.RetryBaseDelay <= 0 {
		errs = append(errs, errors.New("STREAM_RETRY_BASE_DELAY must be positive"))
	}
	if c.Stream.RetryMaxDelay < c.Stream.RetryBaseDelay {
		errs = append(errs, errors.New("STREAM_RETRY_MAX_DELAY must not be below the base delay"))
	}
	if c.Recorder.Workers < 1 {
		errs = append(errs, errors.New("RECORDER_WORKERS must be at least 1"))
	}
	return errors.Join(errs...)
}

// Log writes the effective settings, DSNs redacted and the token omitted.
func (c Config) Log(logger zerolog.Logger) {
	logger.Info().
		Str("api_base_url", c.APIBaseURL).
		Bool("api_token_set", c.APIToken != "").
		Str("http_addr", c.HTTPAddr).
		Str("redis_addr", c.RedisAddr).
		Str("postgres_dsn", RedactDSN(c.PostgresDSN)).
		Int("max_attempts", c.Stream.MaxAttempts).
		Dur("retry_base_delay", c.Stream.RetryBaseDelay).
		Dur("batch_window", c.Stream.BatchWindow).
		Int("recorder_workers", c.Recorder.Workers).
		Int(xlog.FieldCount, len(c.WatchJobs)).
		Msg("config loaded")
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password of a URL-style DSN: user:pass@ -> user:****@.
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}

type env struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *env) raw(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *env) str(key, def string) string {
	if v, ok := e.raw(key); ok {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return i
}

func (e *env) decimal(key string, def float64) float64 {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return f
}

// dur accepts Go durations ("1500ms") and bare milliseconds ("1500").
func (e *env) dur(key string, def time.Duration) time.Duration {
	v, ok := e.raw(key)
	if !ok {
		return def
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *env) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
