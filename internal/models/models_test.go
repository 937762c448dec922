package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimestampRoundTrip(t *testing.T) {
	in := NewTimestamp(time.Date(2025, 3, 1, 9, 30, 0, 123456000, time.UTC))
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `"2025-03-01T09:30:00.123456Z"` {
		t.Fatalf("unexpected encoding %s", b)
	}
	var out Timestamp
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !out.Equal(in.Time) {
		t.Fatalf("got %v want %v", out.Time, in.Time)
	}
}

func TestTimestampOffsetless(t *testing.T) {
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"2025-02-28T08:15:00.123456"`), &ts); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ts.Location() != time.Local || ts.Hour() != 8 || ts.Nanosecond() != 123456000 {
		t.Fatalf("unexpected parse %v", ts.Time)
	}
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Fatal("expected error for garbage timestamp")
	}
}

func TestSessionOptionalFieldsOmitted(t *testing.T) {
	b, err := json.Marshal(Session{SessionID: "s", Timestamp: NewTimestamp(time.Unix(0, 0).UTC()), Status: StatusStarted})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"session_id":"s","timestamp":"1970-01-01T00:00:00Z","status":"started","pages_processed":0,"invoices_collected":0}`
	if string(b) != want {
		t.Fatalf("got %s\nwant %s", b, want)
	}
}

func TestCacheEntryTime(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 500000000, time.UTC)
	e := CacheEntry{TS: EpochSeconds(at)}
	if d := e.Time().Sub(at); d < -time.Microsecond || d > time.Microsecond {
		t.Fatalf("round trip drifted by %v", d)
	}
}

func TestInvoiceAccepted(t *testing.T) {
	for status, want := range map[string]bool{"Paid": true, "Partially Paid": true, "Draft": false, "paid": false, "": false} {
		if got := (Invoice{Status: status}).Accepted(); got != want {
			t.Errorf("Accepted(%q) = %v, want %v", status, got, want)
		}
	}
}
