package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// New builds the process logger: timestamped JSON on stdout. level names a
// zerolog level; debug forces debug regardless of level.
func New(level string, debug bool) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if debug && lvl > zerolog.DebugLevel {
		lvl = zerolog.DebugLevel
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
	return logger
}
