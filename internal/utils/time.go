package utils

import "time"

func NowUTC() time.Time {
	return time.Now().UTC()
}

// RFC3339 formats t in UTC, as returned by the health endpoints.
func RFC3339(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// FromMillis converts epoch milliseconds back to UTC. Zero or negative
// input means the value was never set.
func FromMillis(ms int64) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
