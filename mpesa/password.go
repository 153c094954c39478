package mpesa

import (
	"encoding/base64"
	"time"
)

const timestampLayout = "20060102150405"

// eat is East Africa Time. The tz database is preferred; the fixed zone covers
// hosts without it (Kenya has no DST).
var eat = func() *time.Location {
	if loc, err := time.LoadLocation("Africa/Nairobi"); err == nil {
		return loc
	}
	return time.FixedZone("EAT", 3*60*60)
}()

// Timestamp formats t as yyyyMMddHHmmss in East Africa Time.
func Timestamp(t time.Time) string {
	return t.In(eat).Format(timestampLayout)
}

// ParseTimestamp parses a yyyyMMddHHmmss value in East Africa Time.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(timestampLayout, s, eat)
}

// Password is base64(shortCode + passkey + timestamp).
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}
