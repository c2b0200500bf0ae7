package model

import "fmt"

var intervalMillis = map[string]int64{
	"1s":  1_000,
	"1m":  60_000,
	"3m":  3 * 60_000,
	"5m":  5 * 60_000,
	"15m": 15 * 60_000,
	"30m": 30 * 60_000,
	"1h":  3_600_000,
	"2h":  2 * 3_600_000,
	"4h":  4 * 3_600_000,
	"6h":  6 * 3_600_000,
	"8h":  8 * 3_600_000,
	"12h": 12 * 3_600_000,
	"1d":  86_400_000,
}

// IntervalMillis returns the bucket width for an exchange interval code.
func IntervalMillis(code string) (int64, error) {
	ms, ok := intervalMillis[code]
	if !ok {
		return 0, fmt.Errorf("unsupported interval %q", code)
	}
	return ms, nil
}

// BucketKey returns the start of the bucket containing ts.
func BucketKey(ts, intervalMs int64) int64 {
	k := ts / intervalMs * intervalMs
	if ts < 0 && ts%intervalMs != 0 {
		k -= intervalMs
	}
	return k
}
