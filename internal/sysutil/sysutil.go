// Package sysutil holds small cross-cutting helpers with no domain
// knowledge: log level plumbing and string utilities shared by config and
// the HTTP layer.
package sysutil

import (
	"strings"

	"github.com/rs/zerolog"
)

// SetLogLevel sets the global zerolog level from a config string. "warning"
// is accepted as an alias for "warn"; empty and unrecognized values fall
// back to info so a bad LOG_LEVEL never silences the service.
func SetLogLevel(lvl string) {
	s := strings.ToLower(strings.TrimSpace(lvl))
	if s == "warning" {
		s = "warn"
	}
	parsed, err := zerolog.ParseLevel(s)
	if err != nil || s == "" || parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}

// IsTruthy reports whether an environment-style string means true.
// Accepted (case-insensitive): "1", "true", "yes", "y", "on".
func IsTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}

// FirstNonEmpty returns the first value that is not blank after trimming,
// preserving its original spacing. Empty string when all are blank.
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
