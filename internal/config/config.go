package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type SourceAuth struct {
	Kind     string // none | basic | bearer
	Username string
	Password string
	Token    string
}

type Source struct {
	ID                 string
	URL                string
	Auth               SourceAuth
	Timeout            time.Duration // 0 = global REQUEST_TIMEOUT
	RefreshInterval    time.Duration // 0 = global REFRESH_INTERVAL
	Headers            map[string]string
	InsecureSkipVerify bool
}

type HTTPConfig struct {
	Addr string
}

type FetchConfig struct {
	Concurrency    int
	GlobalDeadline time.Duration
	RequestTimeout time.Duration
	MaxRetries     int
	BackoffFactor  float64
}

type ExpansionConfig struct {
	Days            int
	TimeBudget      time.Duration
	MaxOccurrences  int
	YieldEvery      int
	Workers         int
	ExDateTolerance time.Duration
}

type SkipStoreConfig struct {
	Type        string // memory | sqlite | postgres
	SQLitePath  string
	PostgresURL string
}

type Config struct {
	Sources          []Source
	RefreshInterval  time.Duration
	HTTP             HTTPConfig
	Fetch            FetchConfig
	Expansion        ExpansionConfig
	WindowSize       int
	DefaultTimezone  string
	UserEmail        string
	FocusPrefixes    []string
	FollowUpPrefixes []string
	BearerToken      string
	SkipStore        SkipStoreConfig
	LogLevel         string
	Debug            bool
	Production       bool
	TestTime         string

	// Warnings collects non-fatal issues found while parsing the
	// environment; main logs them once the logger exists.
	Warnings []string
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

type loader struct {
	warnings []string
}

func (l *loader) warnf(format string, args ...any) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, args...))
}

func (l *loader) intvar(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.warnf("%s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func (l *loader) floatvar(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		l.warnf("%s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

// seconds reads an integer number of seconds. def may be zero to mean
// "inherit" for per-source overrides.
func (l *loader) seconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		l.warnf("%s=%q is not a number of seconds, using %s", key, v, def)
		return def
	}
	return time.Duration(n) * time.Second
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseHeaders(v string) map[string]string {
	if v == "" {
		return nil
	}
	headers := make(map[string]string)
	for _, part := range strings.Split(v, ",") {
		if k, val, ok := strings.Cut(part, ":"); ok {
			headers[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
	}
	if len(headers) == 0 {
		return nil
	}
	return headers
}

func (l *loader) loadSources(defTimeout time.Duration) []Source {
	var sources []Source

	// Indexed form ICS_SOURCE_<i>_* carries per-source auth, headers and
	// interval overrides.
	for i := 0; i < 100; i++ {
		prefix := fmt.Sprintf("ICS_SOURCE_%d", i)
		url := getenv(prefix+"_URL", "")
		if url == "" {
			if len(sources) == 0 {
				continue
			}
			break
		}
		sources = append(sources, Source{
			ID:  getenv(prefix+"_NAME", ""),
			URL: url,
			Auth: SourceAuth{
				Kind:     strings.ToLower(getenv(prefix+"_AUTH", "none")),
				Username: getenv(prefix+"_USERNAME", ""),
				Password: getenv(prefix+"_PASSWORD", ""),
				Token:    getenv(prefix+"_TOKEN", ""),
			},
			Timeout: l.seconds(prefix+"_TIMEOUT", 0),
			// Parsed for forward compatibility; one global interval
			// drives the loop for now.
			RefreshInterval:    l.seconds(prefix+"_REFRESH_INTERVAL", 0),
			Headers:            parseHeaders(getenv(prefix+"_HEADERS", "")),
			InsecureSkipVerify: getenv(prefix+"_SKIP_VERIFY", "false") == "true",
		})
		if sources[len(sources)-1].RefreshInterval > 0 {
			l.warnf("%s_REFRESH_INTERVAL is not honored yet, the global REFRESH_INTERVAL drives all sources", prefix)
		}
	}

	// Flat forms: ICS_SOURCES is a comma list of url or name=url entries;
	// ICS_URL a single url.
	if v := getenv("ICS_SOURCES", ""); v != "" {
		for _, entry := range splitList(v) {
			name, url, ok := strings.Cut(entry, "=")
			if ok && !strings.Contains(name, "://") {
				sources = append(sources, Source{ID: strings.TrimSpace(name), URL: strings.TrimSpace(url)})
			} else {
				sources = append(sources, Source{URL: entry})
			}
		}
	} else if v := getenv("ICS_URL", ""); v != "" {
		sources = append(sources, Source{URL: v})
	}

	for i := range sources {
		if sources[i].ID == "" {
			sources[i].ID = "src-" + uuid.NewString()[:8]
		}
		if sources[i].Auth.Kind == "" {
			sources[i].Auth.Kind = "none"
		}
		if sources[i].Timeout == 0 {
			sources[i].Timeout = defTimeout
		}
	}
	return sources
}

func Load() (*Config, error) {
	if path := getenv("ENV_FILE", ""); path != "" {
		if err := godotenv.Load(path); err != nil {
			return nil, fmt.Errorf("ENV_FILE %s: %w", path, err)
		}
	} else {
		_ = godotenv.Load()
	}

	l := &loader{}

	concurrency := l.intvar("FETCH_CONCURRENCY", 2)
	if concurrency < 1 {
		l.warnf("FETCH_CONCURRENCY=%d below minimum, using 1", concurrency)
		concurrency = 1
	}
	if concurrency > 3 {
		l.warnf("FETCH_CONCURRENCY=%d above maximum, using 3", concurrency)
		concurrency = 3
	}

	requestTimeout := l.seconds("REQUEST_TIMEOUT", 30*time.Second)

	cfg := &Config{
		RefreshInterval: l.seconds("REFRESH_INTERVAL", 300*time.Second),
		HTTP: HTTPConfig{
			Addr: net.JoinHostPort(getenv("SERVER_BIND", "0.0.0.0"), getenv("SERVER_PORT", "8080")),
		},
		Fetch: FetchConfig{
			Concurrency:    concurrency,
			GlobalDeadline: 120 * time.Second,
			RequestTimeout: requestTimeout,
			MaxRetries:     l.intvar("MAX_RETRIES", 3),
			BackoffFactor:  l.floatvar("RETRY_BACKOFF_FACTOR", 1.5),
		},
		Expansion: ExpansionConfig{
			Days:            l.intvar("RRULE_EXPANSION_DAYS", 365),
			TimeBudget:      time.Duration(l.intvar("EXPANSION_TIME_BUDGET_MS_PER_RULE", 200)) * time.Millisecond,
			MaxOccurrences:  l.intvar("MAX_OCCURRENCES_PER_RULE", 250),
			YieldEvery:      l.intvar("EXPANSION_YIELD_FREQUENCY", 50),
			Workers:         l.intvar("RRULE_WORKER_CONCURRENCY", 1),
			ExDateTolerance: time.Duration(l.intvar("EXDATE_TOLERANCE_SECONDS", 60)) * time.Second,
		},
		WindowSize:       l.intvar("EVENT_WINDOW_SIZE", 50),
		DefaultTimezone:  getenv("DEFAULT_TIMEZONE", "America/Los_Angeles"),
		UserEmail:        getenv("USER_EMAIL", ""),
		FocusPrefixes:    splitList(getenv("FOCUS_SUBJECT_PREFIXES", "Focus time,Focus:")),
		FollowUpPrefixes: splitList(getenv("FOLLOW_UP_SUBJECT_PREFIXES", "Following:")),
		BearerToken:      getenv("ALEXA_BEARER_TOKEN", ""),
		SkipStore: SkipStoreConfig{
			Type:        getenv("SKIP_STORE", "sqlite"),
			SQLitePath:  getenv("SKIP_STORE_SQLITE_PATH", "./data/voicecal.db"),
			PostgresURL: getenv("SKIP_STORE_PG_URL", ""),
		},
		LogLevel:   getenv("LOG_LEVEL", "info"),
		Debug:      getenvBool("DEBUG"),
		Production: getenvBool("PRODUCTION"),
		TestTime:   getenv("TEST_TIME", ""),
	}

	cfg.Sources = l.loadSources(requestTimeout)
	if len(cfg.Sources) == 0 {
		return nil, errors.New("no calendar sources configured (set ICS_URL or ICS_SOURCES)")
	}

	cfg.Warnings = l.warnings
	return cfg, nil
}
