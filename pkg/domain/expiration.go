package domain

import (
	"time"
)

// Never marks a paste without expiry.
const Never time.Duration = 0

const (
	day = 24 * time.Hour
	// Months are 30 days and years 365; calendar lengths are not tracked.
	month = 30 * day
	year  = 365 * day
)

const DefaultExpirationKey = "7d"

type Expiration struct {
	Key      string        `json:"key"`
	Label    string        `json:"label"`
	Duration time.Duration `json:"-"`
}

var Expirations = []Expiration{
	{Key: "1d", Label: "1 day", Duration: day},
	{Key: "2d", Label: "2 days", Duration: 2 * day},
	{Key: "7d", Label: "1 week", Duration: 7 * day},
	{Key: "1m", Label: "1 month", Duration: month},
	{Key: "3m", Label: "3 months", Duration: 3 * month},
	{Key: "6m", Label: "6 months", Duration: 6 * month},
	{Key: "1y", Label: "1 year", Duration: year},
	{Key: "never", Label: "never", Duration: Never},
}

// LookupExpiration resolves a preset key. Unknown or empty keys fall back
// to DefaultExpirationKey and ok is false.
func LookupExpiration(key string) (time.Duration, bool) {
	for _, e := range Expirations {
		if e.Key == key {
			return e.Duration, true
		}
	}
	return 7 * day, false
}

// ExpiresAt converts an expiration into an absolute deadline, nil for Never.
func ExpiresAt(now time.Time, expiration time.Duration) *time.Time {
	if expiration == Never {
		return nil
	}
	t := now.Add(expiration)
	return &t
}
