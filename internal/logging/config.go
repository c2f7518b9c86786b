package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	EnvLogLevel     = "WLKIT_LOG_LEVEL"
	EnvLogTimestamp = "WLKIT_LOG_TIMESTAMP"
	EnvLogNoColor   = "WLKIT_LOG_NOCOLOR"

	// EnvWireDebug is the conventional protocol-trace toggle: any
	// non-empty value logs every request and event in readable form.
	EnvWireDebug = "WAYLAND_DEBUG"
)

type Profile int

const (
	ProfileRuntime Profile = iota
	ProfileTest
)

var (
	configureOnce sync.Once
	root          zerolog.Logger
)

func ConfigureRuntime() {
	Configure(ProfileRuntime)
}

func ConfigureTests() {
	Configure(ProfileTest)
}

func Configure(profile Profile) {
	configureOnce.Do(func() {
		level := zerolog.InfoLevel
		timestamp := true
		if profile == ProfileTest {
			level = zerolog.DebugLevel
			timestamp = false
		}
		noColor := false

		if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
			level = lvl
		}
		if v, ok := parseBool(os.Getenv(EnvLogTimestamp)); ok {
			timestamp = v
		}
		if v, ok := parseBool(os.Getenv(EnvLogNoColor)); ok {
			noColor = v
		}

		out := zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
			NoColor:    noColor,
		}
		ctx := zerolog.New(out).Level(level).With()
		if timestamp {
			ctx = ctx.Timestamp()
		}
		root = ctx.Logger()
	})
}

// Logger returns the configured root logger with a component field.
func Logger(component string) zerolog.Logger {
	Configure(ProfileRuntime)
	return root.With().Str("component", component).Logger()
}

func parseLevel(raw string) (zerolog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "":
		return zerolog.InfoLevel, false
	case "trace", "diagnostics":
		return zerolog.TraceLevel, true
	case "debug":
		return zerolog.DebugLevel, true
	case "info":
		return zerolog.InfoLevel, true
	case "warn", "warning":
		return zerolog.WarnLevel, true
	case "error":
		return zerolog.ErrorLevel, true
	case "disabled", "disable", "off", "none", "inactive":
		return zerolog.Disabled, true
	default:
		return zerolog.InfoLevel, false
	}
}

func parseBool(raw string) (bool, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}
