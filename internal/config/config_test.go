package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"job-status-stream/internal/config"
)

func lookupMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadFrom_Defaults(t *testing.T) {
	c, err := config.LoadFrom(lookupMap(map[string]string{"API_BASE_URL": "http://api/api"}))
	require.NoError(t, err)

	assert.Equal(t, "http://api/api", c.APIBaseURL)
	assert.Equal(t, ":8090", c.HTTPAddr)
	assert.Equal(t, 5, c.Stream.MaxAttempts)
	assert.Equal(t, 2*time.Second, c.Stream.RetryBaseDelay)
	assert.Equal(t, time.Second, c.Stream.BatchWindow)
	assert.Equal(t, 24*time.Hour, c.StatusCacheTTL)
	assert.Empty(t, c.WatchJobs)
}

func TestLoadFrom_EnvOverrides(t *testing.T) {
	c, err := config.LoadFrom(lookupMap(map[string]string{
		"API_BASE_URL":            "http://api",
		"STREAM_MAX_ATTEMPTS":     "3",
		"STREAM_RETRY_BASE_DELAY": "500",
		"STREAM_RETRY_MAX_DELAY":  "4s",
		"DISCONNECT_BATCH_WINDOW": "250ms",
		"OPEN_RATE_PER_SEC":       "1.5",
		"WATCH_JOBS":              " a, b ,,c ",
	}))
	require.NoError(t, err)

	assert.Equal(t, 3, c.Stream.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, c.Stream.RetryBaseDelay)
	assert.Equal(t, 4*time.Second, c.Stream.RetryMaxDelay)
	assert.Equal(t, 250*time.Millisecond, c.Stream.BatchWindow)
	assert.InDelta(t, 1.5, c.Stream.OpenRatePerSec, 0.001)
	assert.Equal(t, []string{"a", "b", "c"}, c.WatchJobs)
}

func TestLoadFrom_YAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "statuswatch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
api_base_url: http://from-file
http_addr: ":9000"
stream:
  max_attempts: 7
  batch_window: 2s
watch_jobs: [x, y]
`), 0o600))

	c, err := config.LoadFrom(lookupMap(map[string]string{
		config.FileEnv: path,
		"HTTP_ADDR":    ":9100",
	}))
	require.NoError(t, err)

	assert.Equal(t, "http://from-file", c.APIBaseURL)
	assert.Equal(t, ":9100", c.HTTPAddr)
	assert.Equal(t, 7, c.Stream.MaxAttempts)
	assert.Equal(t, 2*time.Second, c.Stream.BatchWindow)
	assert.Equal(t, 2*time.Second, c.Stream.RetryBaseDelay)
	assert.Equal(t, []string{"x", "y"}, c.WatchJobs)
}

func TestLoadFrom_Errors(t *testing.T) {
	_, err := config.LoadFrom(lookupMap(nil))
	assert.ErrorIs(t, err, config.ErrMissing)

	_, err = config.LoadFrom(lookupMap(map[string]string{"API_BASE_URL": "x", "STREAM_MAX_ATTEMPTS": "many"}))
	assert.ErrorContains(t, err, "STREAM_MAX_ATTEMPTS")

	_, err = config.LoadFrom(lookupMap(map[string]string{
		"API_BASE_URL":            "x",
		"STREAM_RETRY_BASE_DELAY": "5s",
		"STREAM_RETRY_MAX_DELAY":  "1s",
	}))
	assert.Error(t, err)

	_, err = config.LoadFrom(lookupMap(map[string]string{config.FileEnv: "/does/not/exist.yaml"}))
	assert.Error(t, err)
}

func TestRedactDSN(t *testing.T) {
	assert.Equal(t, "postgres://app:****@db:5432/status?sslmode=disable",
		config.RedactDSN("postgres://app:s3cret@db:5432/status?sslmode=disable"))
	assert.Equal(t, "postgres://db/status", config.RedactDSN("postgres://db/status"))
}
