// Package payload defines the signed channel payload, the single wire
// contract between channel adapters and the guardian.
package payload

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Payload is the canonical message every adapter produces. The raw JSON
// bytes of this struct are what gets HMAC-signed; the guardian verifies
// the signature over the exact bytes it received.
type Payload struct {
	UserID    string         `json:"userId"`
	Channel   string         `json:"channel"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Nonce     string         `json:"nonce"`
	Timestamp int64          `json:"timestamp"` // unix milliseconds
}

// Validation errors. The message doubles as the wire error kind.
var (
	ErrUserIDMissing    = errors.New("userId_missing")
	ErrChannelMissing   = errors.New("channel_missing")
	ErrTextMissing      = errors.New("text_missing")
	ErrNonceMissing     = errors.New("nonce_missing")
	ErrTimestampMissing = errors.New("timestamp_missing")
)

// New builds a payload for channel/user/text with a fresh nonce and the
// current wall clock.
func New(channel, userID, text string, metadata map[string]any) Payload {
	return Payload{
		UserID:    userID,
		Channel:   channel,
		Text:      text,
		Metadata:  metadata,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
	}
}

// Validate checks the presence invariants and returns the first failure.
// Field order matches the wire struct so error reporting is stable.
func (p *Payload) Validate() error {
	switch {
	case p.UserID == "":
		return ErrUserIDMissing
	case p.Channel == "":
		return ErrChannelMissing
	case p.Text == "":
		return ErrTextMissing
	case p.Nonce == "":
		return ErrNonceMissing
	case p.Timestamp <= 0:
		return ErrTimestampMissing
	}
	return nil
}
