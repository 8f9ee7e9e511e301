package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration-valued config fields (service sleep payloads, sqlite busy
// timeout, record retention) are Go duration strings so sub-second
// values like "2ms" stay readable next to "24h" retention windows.

// ParseDurationField parses one such field. Empty means unset (0); a
// negative duration is rejected since no seqd knob can use one. path
// names the field in the error, e.g. "recorder.retention".
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with a fallback for
// unset or zero fields.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}
