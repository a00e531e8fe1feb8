// Package duration parses and formats the compact duration strings used in
// season and game configs, e.g. "1d2h30m".
package duration

import (
	"fmt"
	"strings"
	"time"
)

// ErrInvalidFormat is returned for any syntactic violation of the duration
// grammar: empty input, unknown units, repeated or reordered units, spaces,
// signs, or fractional values.
var ErrInvalidFormat = fmt.Errorf("invalid duration format")

var units = []struct {
	suffix byte
	d      time.Duration
}{
	{'d', 24 * time.Hour},
	{'h', time.Hour},
	{'m', time.Minute},
	{'s', time.Second},
}

// Parse parses a compact duration string. Segments must appear in
// days-hours-minutes-seconds order with no repeats, e.g. "2h15m" or "1d30s".
func Parse(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty string", ErrInvalidFormat)
	}

	var total time.Duration
	// Index into units of the last segment seen; segments must strictly
	// descend so "30m1h" and "1h1h" are both rejected.
	last := -1
	i := 0
	for i < len(s) {
		start := i
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if start == i {
			return 0, fmt.Errorf("%w: expected digits at %q", ErrInvalidFormat, s[i:])
		}
		if i == len(s) {
			return 0, fmt.Errorf("%w: missing unit after %q", ErrInvalidFormat, s[start:i])
		}

		unit := unitIndex(s[i])
		if unit < 0 {
			return 0, fmt.Errorf("%w: unknown unit %q", ErrInvalidFormat, string(s[i]))
		}
		if unit <= last {
			return 0, fmt.Errorf("%w: unit %q out of order", ErrInvalidFormat, string(s[i]))
		}
		last = unit

		var value int64
		for _, c := range []byte(s[start:i]) {
			value = value*10 + int64(c-'0')
			if value > 1<<40 {
				return 0, fmt.Errorf("%w: value too large", ErrInvalidFormat)
			}
		}
		total += time.Duration(value) * units[unit].d
		i++
	}
	return total, nil
}

// Format renders d in canonical compact form. Zero is "0s"; otherwise units
// with zero value are omitted and units appear in d/h/m/s order. Carries are
// normalized, so Format(Parse("90m")) yields "1h30m".
func Format(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}

	var b strings.Builder
	for _, u := range units {
		if n := d / u.d; n > 0 {
			fmt.Fprintf(&b, "%d%c", n, u.suffix)
			d -= n * u.d
		}
	}
	if b.Len() == 0 {
		// Sub-second remainder only; configs never carry these, but keep
		// the round-trip total order intact.
		return "0s"
	}
	return b.String()
}

func unitIndex(c byte) int {
	for i, u := range units {
		if u.suffix == c {
			return i
		}
	}
	return -1
}
