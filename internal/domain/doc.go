// Package domain models seismic events reported by Turkish earthquake data
// providers and the pure functions that reconcile, score, and filter them.
//
// # Providers
//
// Kandilli Observatory (via the orhanaydogdu.com.tr mirror) returns GeoJSON
// style entries: magnitude as "mag", a title such as "SINDIRGI (BALIKESIR)",
// a combined date-time string, and coordinates as [longitude, latitude].
//
// AFAD returns flat entries with separate date and time fields and numeric
// values that are sometimes encoded as strings.
//
// # Date and time
//
// Providers report local Turkey time. Encodings seen in the wild:
//
//	"2023.03.08 02:54:44"   dot-separated date, space, clock
//	"2023-03-08 02:54:44"   hyphen-separated date, space, clock
//	"2023-03-08T02:54:44"   ISO-8601 without offset
//
// Every encoding is reduced to a canonical date ("2006-01-02") and time
// ("15:04:05"). The epoch-millisecond timestamp is always derived from those
// two strings in [ReportingZone], so formatting a timestamp gives back the
// date and time it came from.
//
// # Malformed values
//
// Numeric fields that are missing or unparseable become zero and text fields
// fall back to a placeholder ([UnknownLocation]). This keeps a partially
// broken record visible instead of dropping it, at the cost of hiding bad
// data; [Float] implements the numeric side of that policy.
//
// # Deduplication
//
// The same physical event reported by two providers is recognized by its
// [Fingerprint]: latitude, longitude, magnitude and timestamp, compared
// exactly.
//
// # Anomaly heuristic
//
// An event is flagged when magnitude > 5.0 and depth < 10 km. The score,
// (magnitude*10 + (100-depth)) / 2, is an unbounded ranking aid and not a
// probability.
//
// # Filtering
//
// [ApplyFilters] is a pure function of a [FilterSpec] and an event list. It
// returns the matching events in input order plus freshly computed [Stats].
// Applying the same spec to its own output returns the same list.
package domain
