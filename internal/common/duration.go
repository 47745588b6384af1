package common

import "time"

// Duration wraps time.Duration so it round-trips through YAML and JSON using
// the same textual form (e.g. "30s", "1h30m45s") instead of a raw integer of
// nanoseconds.
type Duration struct {
	time.Duration
}

// NewDuration builds a Duration from a time.Duration.
func NewDuration(d time.Duration) Duration {
	return Duration{Duration: d}
}

// UnmarshalText implements encoding.TextUnmarshaler, used by both
// encoding/json and yaml.v3 for scalar text values.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// String returns the textual form, e.g. "1h30m45s".
func (d Duration) String() string {
	return d.Duration.String()
}
