package mpesa

import (
	"encoding/base64"
	"testing"
	"time"
)

func TestTimestampUsesEAT(t *testing.T) {
	utc := time.Date(2024, 3, 1, 21, 30, 5, 0, time.UTC)
	if got := Timestamp(utc); got != "20240302003005" {
		t.Fatalf("Timestamp = %s, want 20240302003005", got)
	}
}

func TestPassword(t *testing.T) {
	got := Password("174379", "passkey", "20240302003005")
	raw, err := base64.StdEncoding.DecodeString(got)
	if err != nil {
		t.Fatalf("password is not base64: %v", err)
	}
	if string(raw) != "174379passkey20240302003005" {
		t.Fatalf("unexpected password payload %q", raw)
	}
}

func TestParseTimestampRoundTrip(t *testing.T) {
	ts, err := ParseTimestamp("20191219102115")
	if err != nil {
		t.Fatal(err)
	}
	if Timestamp(ts) != "20191219102115" {
		t.Fatalf("round trip mismatch: %s", Timestamp(ts))
	}
	if ts.UTC().Hour() != 7 {
		t.Fatalf("expected 07 UTC, got %d", ts.UTC().Hour())
	}
}
