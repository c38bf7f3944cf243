package pgfs

import "time"

// postgresEpoch is January 1, 2000, 00:00:00 UTC expressed in Unix epoch
// seconds — POSTGRES_EPOCH_DATE in the original endian.h/pgsql.c.
const postgresEpoch = 946684800

// encodeTimestamp converts a time.Time to the signed 64-bit microsecond
// count since postgresEpoch used for dir.ctime/mtime/atime, matching
// convert_to_timestamp in pgsql.c. The wire encoding (big-endian bytes) is
// left to the Store implementation doing the actual parameter binding.
func encodeTimestamp(t time.Time) int64 {
	sec := t.Unix() - postgresEpoch
	usec := t.Nanosecond() / 1000
	return sec*1000000 + int64(usec)
}

// decodeTimestamp is the inverse of encodeTimestamp, matching
// convert_from_timestamp.
func decodeTimestamp(raw int64) time.Time {
	sec := postgresEpoch + raw/1000000
	usec := raw % 1000000
	if usec < 0 {
		usec += 1000000
		sec--
	}
	return time.Unix(sec, usec*1000).UTC()
}

// truncateToPgMicros rounds t down to the microsecond precision a Postgres
// TIMESTAMP column actually stores, by round-tripping it through the same
// encode/decode pair the wire format uses. pgStore applies this before
// every write so the value handed back on the next read matches what was
// passed in. pgfake does not apply it: the in-memory fake stores times with
// whatever precision they are given.
func truncateToPgMicros(t time.Time) time.Time {
	return decodeTimestamp(encodeTimestamp(t))
}
