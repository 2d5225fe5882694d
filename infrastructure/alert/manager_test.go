package alert

import (
	"testing"
	"time"
)

type countChannel struct {
	sent []Alert
}

func (c *countChannel) Send(a Alert) error { c.sent = append(c.sent, a); return nil }
func (c *countChannel) Name() string       { return "count" }

func TestFireThrottlesByMessage(t *testing.T) {
	ch := &countChannel{}
	m := NewManager([]Channel{ch}, time.Hour)

	m.Fire(Alert{Level: "WARNING", Message: "same"})
	m.Fire(Alert{Level: "WARNING", Message: "same"})
	m.Fire(Alert{Level: "WARNING", Message: "other"})

	if len(ch.sent) != 2 {
		t.Fatalf("sent %d alerts, want 2 (duplicate throttled)", len(ch.sent))
	}
}

func TestThrottlerResetAllowsResend(t *testing.T) {
	tr := NewThrottler(time.Hour)
	if !tr.Allow("k") {
		t.Fatal("first send must pass")
	}
	if tr.Allow("k") {
		t.Fatal("second send within interval must be throttled")
	}
	tr.Reset("k")
	if !tr.Allow("k") {
		t.Fatal("reset must re-arm the key")
	}
}

func TestFireStampsTimestamp(t *testing.T) {
	ch := &countChannel{}
	m := NewManager([]Channel{ch}, 0)
	m.Fire(Alert{Level: "INFO", Message: "ping"})
	if len(ch.sent) != 1 || ch.sent[0].Timestamp.IsZero() {
		t.Fatal("fired alert must carry a timestamp")
	}
}
