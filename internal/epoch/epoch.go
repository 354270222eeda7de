// Package epoch provides the time model used for all scheduling.
//
// An Epoch is an absolute instant counted in TAI nanoseconds past J2000.
// TAI has no leap seconds, so epochs compare and subtract as plain integers;
// conversion to civil time is the caller's business.
//
// Keys order operations that share an instant. The order is total:
// time, then declared insertion priority, then the stable operation
// identifier, then the sub-index used for reactive (daemon) instances.
package epoch

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Epoch is an absolute instant in TAI nanoseconds past J2000.
type Epoch int64

// Duration is a signed span between two epochs.
type Duration = time.Duration

const (
	// J2000 is the reference epoch.
	J2000 Epoch = 0

	// Min and Max bound the representable range.
	Min Epoch = math.MinInt64
	Max Epoch = math.MaxInt64
)

// FromSeconds converts seconds past J2000 into an Epoch, rounding to the
// nearest nanosecond.
func FromSeconds(s float64) Epoch {
	return Epoch(math.Round(s * 1e9))
}

// Seconds returns the epoch as seconds past J2000.
func (e Epoch) Seconds() float64 {
	return float64(e) / 1e9
}

// Add returns e shifted by d, saturating at Min/Max.
func (e Epoch) Add(d Duration) Epoch {
	r := e + Epoch(d)
	if d > 0 && r < e {
		return Max
	}
	if d < 0 && r > e {
		return Min
	}
	return r
}

// Sub returns e - o.
func (e Epoch) Sub(o Epoch) Duration {
	return Duration(e - o)
}

// Before reports whether e is strictly earlier than o.
func (e Epoch) Before(o Epoch) bool { return e < o }

// After reports whether e is strictly later than o.
func (e Epoch) After(o Epoch) bool { return e > o }

// String formats the epoch as "J2000+<seconds>s".
func (e Epoch) String() string {
	switch e {
	case Min:
		return "-inf"
	case Max:
		return "+inf"
	}
	sign := "+"
	v := int64(e)
	if v < 0 {
		sign = "-"
		v = -v
	}
	secs := v / 1e9
	nanos := v % 1e9
	if nanos == 0 {
		return fmt.Sprintf("J2000%s%ds", sign, secs)
	}
	frac := strings.TrimRight(fmt.Sprintf("%09d", nanos), "0")
	return fmt.Sprintf("J2000%s%d.%ss", sign, secs, frac)
}

// Parse accepts either the String form ("J2000+12.5s") or a bare number
// of seconds past J2000 ("12.5").
func Parse(s string) (Epoch, error) {
	raw := strings.TrimSpace(s)
	switch raw {
	case "-inf":
		return Min, nil
	case "+inf", "inf":
		return Max, nil
	}
	raw = strings.TrimPrefix(raw, "J2000")
	raw = strings.TrimSuffix(raw, "s")
	if raw == "" {
		return J2000, nil
	}
	neg := false
	switch raw[0] {
	case '+':
		raw = raw[1:]
	case '-':
		neg = true
		raw = raw[1:]
	}
	whole, frac, _ := strings.Cut(raw, ".")
	secs, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse epoch %q: %w", s, err)
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			return 0, fmt.Errorf("parse epoch %q: more than nanosecond precision", s)
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse epoch %q: %w", s, err)
		}
	}
	if secs > math.MaxInt64/1_000_000_000-1 {
		return 0, fmt.Errorf("parse epoch %q: out of range", s)
	}
	v := secs*1e9 + nanos
	if neg {
		v = -v
	}
	return Epoch(v), nil
}
