// Package timeutil provides seconds-resolution NumericDate handling with leeway, used
// everywhere the engine compares exp/nbf/iat against "now".
package timeutil

import "time"

// NumericDate is a JWT/JWS/CWT NumericDate: seconds since the Unix epoch, truncated (not
// rounded) to whole seconds per RFC 7519 §2.
type NumericDate int64

// NewNumericDate truncates t to seconds-resolution NumericDate.
func NewNumericDate(t time.Time) NumericDate {
	return NumericDate(t.Unix())
}

// Time expands back to a time.Time in UTC.
func (n NumericDate) Time() time.Time {
	return time.Unix(int64(n), 0).UTC()
}

// TimeProvider is injected everywhere "now" is read, so tests can pin it instead of
// racing the wall clock.
type TimeProvider interface {
	Now() time.Time
}

// SystemClock is the production TimeProvider backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Fixed is a TimeProvider pinned to one instant, for tests.
type Fixed time.Time

func (f Fixed) Now() time.Time { return time.Time(f) }

// Valid reports whether now falls within [notBefore-leeway, notAfter+leeway]. A zero
// notBefore or notAfter is treated as unbounded on that side, matching exp/nbf being
// optional JWT claims.
func Valid(now, notBefore, notAfter time.Time, leeway time.Duration) bool {
	if !notBefore.IsZero() && now.Before(notBefore.Add(-leeway)) {
		return false
	}
	if !notAfter.IsZero() && now.After(notAfter.Add(leeway)) {
		return false
	}
	return true
}
