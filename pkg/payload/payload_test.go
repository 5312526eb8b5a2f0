package payload

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validPayload() Payload {
	return Payload{
		UserID:    "u1",
		Channel:   "api",
		Text:      "hello",
		Nonce:     "7e8bfa6f-8f0a-4b52-9e9c-2f4a4c1d9a01",
		Timestamp: time.Now().UnixMilli(),
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Payload)
		want   error
	}{
		{"valid", func(p *Payload) {}, nil},
		{"missing userId", func(p *Payload) { p.UserID = "" }, ErrUserIDMissing},
		{"missing channel", func(p *Payload) { p.Channel = "" }, ErrChannelMissing},
		{"missing text", func(p *Payload) { p.Text = "" }, ErrTextMissing},
		{"missing nonce", func(p *Payload) { p.Nonce = "" }, ErrNonceMissing},
		{"zero timestamp", func(p *Payload) { p.Timestamp = 0 }, ErrTimestampMissing},
		{"negative timestamp", func(p *Payload) { p.Timestamp = -5 }, ErrTimestampMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPayload()
			tt.mutate(&p)
			if err := p.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsFirstFailure(t *testing.T) {
	p := Payload{} // everything missing
	if err := p.Validate(); !errors.Is(err, ErrUserIDMissing) {
		t.Errorf("Validate() = %v, want %v", err, ErrUserIDMissing)
	}
}

func TestNew(t *testing.T) {
	before := time.Now().UnixMilli()
	p := New("chat", "alice", "hi", map[string]any{"endpoint": "inbound"})
	after := time.Now().UnixMilli()

	if err := p.Validate(); err != nil {
		t.Fatalf("New produced invalid payload: %v", err)
	}
	if p.Nonce == "" {
		t.Error("New did not assign a nonce")
	}
	if p.Timestamp < before || p.Timestamp > after {
		t.Errorf("timestamp %d outside [%d, %d]", p.Timestamp, before, after)
	}

	q := New("chat", "alice", "hi", nil)
	if q.Nonce == p.Nonce {
		t.Error("two payloads share a nonce")
	}
}

func TestWireShape(t *testing.T) {
	p := validPayload()
	p.Metadata = map[string]any{"model": "m"}

	raw, err := json.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"userId", "channel", "text", "metadata", "nonce", "timestamp"} {
		if _, ok := m[key]; !ok {
			t.Errorf("wire JSON missing key %q", key)
		}
	}

	// Metadata omitted when empty.
	p.Metadata = nil
	raw, _ = json.Marshal(p)
	m = map[string]any{}
	_ = json.Unmarshal(raw, &m)
	if _, ok := m["metadata"]; ok {
		t.Error("empty metadata should be omitted")
	}
}
