package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ICS_URL", "https://example.com/cal.ics")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 300*time.Second, cfg.RefreshInterval)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr)
	assert.Equal(t, 2, cfg.Fetch.Concurrency)
	assert.Equal(t, 30*time.Second, cfg.Fetch.RequestTimeout)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 1.5, cfg.Fetch.BackoffFactor)
	assert.Equal(t, 365, cfg.Expansion.Days)
	assert.Equal(t, 200*time.Millisecond, cfg.Expansion.TimeBudget)
	assert.Equal(t, 250, cfg.Expansion.MaxOccurrences)
	assert.Equal(t, 50, cfg.Expansion.YieldEvery)
	assert.Equal(t, 1, cfg.Expansion.Workers)
	assert.Equal(t, time.Minute, cfg.Expansion.ExDateTolerance)
	assert.Equal(t, 50, cfg.WindowSize)
	assert.Equal(t, "America/Los_Angeles", cfg.DefaultTimezone)
	assert.Equal(t, []string{"Focus time", "Focus:"}, cfg.FocusPrefixes)
	assert.Equal(t, []string{"Following:"}, cfg.FollowUpPrefixes)
	assert.Equal(t, "sqlite", cfg.SkipStore.Type)
	assert.False(t, cfg.Production)
	assert.Empty(t, cfg.Warnings)

	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, "https://example.com/cal.ics", cfg.Sources[0].URL)
	assert.NotEmpty(t, cfg.Sources[0].ID)
	assert.Equal(t, "none", cfg.Sources[0].Auth.Kind)
	assert.Equal(t, 30*time.Second, cfg.Sources[0].Timeout)
}

func TestLoadNoSources(t *testing.T) {
	t.Setenv("ICS_URL", "")
	t.Setenv("ICS_SOURCES", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadSourceList(t *testing.T) {
	t.Setenv("ICS_SOURCES", "work=https://example.com/work.ics, https://example.com/home.ics?key=abc=def")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)

	assert.Equal(t, "work", cfg.Sources[0].ID)
	assert.Equal(t, "https://example.com/work.ics", cfg.Sources[0].URL)
	// A bare URL with "=" in its query must not be mistaken for name=url.
	assert.Equal(t, "https://example.com/home.ics?key=abc=def", cfg.Sources[1].URL)
}

func TestLoadIndexedSources(t *testing.T) {
	t.Setenv("ICS_SOURCE_0_URL", "https://example.com/a.ics")
	t.Setenv("ICS_SOURCE_0_NAME", "primary")
	t.Setenv("ICS_SOURCE_0_AUTH", "bearer")
	t.Setenv("ICS_SOURCE_0_TOKEN", "secret")
	t.Setenv("ICS_SOURCE_0_TIMEOUT", "5")
	t.Setenv("ICS_SOURCE_0_HEADERS", "X-Team: calendar, Accept-Language: en")
	t.Setenv("ICS_SOURCE_1_URL", "https://example.com/b.ics")
	t.Setenv("ICS_SOURCE_1_AUTH", "basic")
	t.Setenv("ICS_SOURCE_1_USERNAME", "u")
	t.Setenv("ICS_SOURCE_1_PASSWORD", "p")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)

	a := cfg.Sources[0]
	assert.Equal(t, "primary", a.ID)
	assert.Equal(t, "bearer", a.Auth.Kind)
	assert.Equal(t, "secret", a.Auth.Token)
	assert.Equal(t, 5*time.Second, a.Timeout)
	assert.Equal(t, map[string]string{"X-Team": "calendar", "Accept-Language": "en"}, a.Headers)

	b := cfg.Sources[1]
	assert.Equal(t, "basic", b.Auth.Kind)
	assert.Equal(t, "u", b.Auth.Username)
	assert.Equal(t, 30*time.Second, b.Timeout)
}

func TestLoadClampsAndWarnings(t *testing.T) {
	t.Setenv("ICS_URL", "https://example.com/cal.ics")
	t.Setenv("FETCH_CONCURRENCY", "9")
	t.Setenv("MAX_RETRIES", "many")
	t.Setenv("REFRESH_INTERVAL", "-5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Fetch.Concurrency)
	assert.Equal(t, 3, cfg.Fetch.MaxRetries)
	assert.Equal(t, 300*time.Second, cfg.RefreshInterval)
	assert.Len(t, cfg.Warnings, 3)
}

func TestLoadFlags(t *testing.T) {
	t.Setenv("ICS_URL", "https://example.com/cal.ics")
	t.Setenv("DEBUG", "1")
	t.Setenv("PRODUCTION", "true")
	t.Setenv("TEST_TIME", "2025-11-05T00:00:00Z")
	t.Setenv("ALEXA_BEARER_TOKEN", "tok")
	t.Setenv("SERVER_BIND", "127.0.0.1")
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.True(t, cfg.Production)
	assert.Equal(t, "2025-11-05T00:00:00Z", cfg.TestTime)
	assert.Equal(t, "tok", cfg.BearerToken)
	assert.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
}

func TestLoadWarnsOnPerSourceInterval(t *testing.T) {
	t.Setenv("ICS_SOURCE_0_URL", "https://example.com/work.ics")
	t.Setenv("ICS_SOURCE_0_REFRESH_INTERVAL", "60")

	cfg, err := Load()
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 1)
	assert.Equal(t, 60*time.Second, cfg.Sources[0].RefreshInterval)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "ICS_SOURCE_0_REFRESH_INTERVAL")
}
