package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// ReportingZone is the zone provider date/time strings are reported in.
// Turkey has used a fixed UTC+03:00 offset without DST since 2016.
var ReportingZone = time.FixedZone("TRT", 3*60*60)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// dateTimeLayouts are the combined encodings seen across providers.
var dateTimeLayouts = []string{
	"2006.01.02 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02 15:04",
}

// dateLayouts are the date-only encodings seen across providers.
var dateLayouts = []string{
	"2006-01-02",
	"2006.01.02",
	"2006/01/02",
	"02.01.2006",
}

// ParseDateTime parses a combined provider date-time string and returns the
// canonical date and time strings plus the epoch-millisecond timestamp.
// A trailing "Z" or fractional seconds are tolerated.
func ParseDateTime(s string) (date, clockTime string, ts int64, err error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "Z")
	if i := strings.LastIndexByte(s, '.'); i >= len("2006-01-02 15:04:05") {
		s = s[:i]
	}
	for _, layout := range dateTimeLayouts {
		t, perr := time.ParseInLocation(layout, s, ReportingZone)
		if perr == nil {
			return t.Format(DateLayout), t.Format(TimeLayout), t.UnixMilli(), nil
		}
	}
	// Date-only values fall back to midnight.
	if d, derr := ParseDate(s); derr == nil {
		return d.Format(DateLayout), "00:00:00", d.UnixMilli(), nil
	}
	return "", "", 0, fmt.Errorf("unsupported date-time %q", s)
}

// ParseDate parses a provider date string in any of the known encodings,
// anchored at midnight in the reporting zone.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, ReportingZone); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported date %q", s)
}

// ParseTimestamp computes the canonical epoch-millisecond timestamp from a
// canonical date and time. It is the single derivation used everywhere, so
// FormatTimestamp(ParseTimestamp(d, t)) always returns (d, t).
func ParseTimestamp(date, clockTime string) (int64, error) {
	if strings.TrimSpace(clockTime) == "" {
		clockTime = "00:00:00"
	}
	_, _, ts, err := ParseDateTime(date + " " + clockTime)
	return ts, err
}

// FormatTimestamp renders an epoch-millisecond timestamp as canonical date
// and time strings in the reporting zone.
func FormatTimestamp(ts int64) (date, clockTime string) {
	t := time.UnixMilli(ts).In(ReportingZone)
	return t.Format(DateLayout), t.Format(TimeLayout)
}

// parseFloatOrZero parses a string as float64, returning 0 on failure.
// Decimal commas are accepted.
func parseFloatOrZero(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	s = strings.Replace(s, ",", ".", 1)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Float is a JSON number that providers may also send as a string. Values
// that fail to parse decode to zero rather than failing the payload.
type Float float64

// UnmarshalJSON accepts numbers, numeric strings, and null.
func (f *Float) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			*f = 0
			return nil //nolint:nilerr // malformed values default to zero
		}
		*f = Float(parseFloatOrZero(s))
		return nil
	}
	*f = Float(parseFloatOrZero(string(data)))
	return nil
}

// Float64 returns the value as a plain float64.
func (f Float) Float64() float64 { return float64(f) }

// NormalizeText trims whitespace and converts provider text to Unicode NFC so
// composed and decomposed Turkish characters compare equal.
func NormalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// FirstNonEmpty returns the first candidate that is non-empty after
// normalization, or fallback.
func FirstNonEmpty(fallback string, candidates ...string) string {
	for _, c := range candidates {
		if n := NormalizeText(c); n != "" {
			return n
		}
	}
	return fallback
}

// OptionalText normalizes s and returns nil when it is empty.
func OptionalText(s string) *string {
	n := NormalizeText(s)
	if n == "" {
		return nil
	}
	return &n
}

// Fingerprint is the composite key used to recognize the same physical event
// reported by more than one provider. Matching is exact.
type Fingerprint struct {
	Latitude  float64
	Longitude float64
	Magnitude float64
	Timestamp int64
}

// FingerprintOf returns the dedup key of an event.
func FingerprintOf(e Event) Fingerprint {
	return Fingerprint{
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Magnitude: e.Magnitude,
		Timestamp: e.Timestamp,
	}
}

// String returns a stable short hash of the fingerprint, usable as a
// message key.
func (f Fingerprint) String() string {
	input := fmt.Sprintf("%g|%g|%g|%d", f.Latitude, f.Longitude, f.Magnitude, f.Timestamp)
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:8])
}
