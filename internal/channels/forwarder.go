package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openpalm/openpalm/pkg/payload"
	"github.com/openpalm/openpalm/pkg/signing"
)

// signatureHeader must match the guardian's expectation.
const signatureHeader = "x-channel-signature"

// forwardTimeout bounds the full guardian round trip, which includes
// the assistant call.
const forwardTimeout = 120 * time.Second

// Reply is the guardian's 200 response.
type Reply struct {
	RequestID string `json:"requestId"`
	SessionID string `json:"sessionId"`
	Answer    string `json:"answer"`
	UserID    string `json:"userId"`
}

// GuardianError is a classified rejection from the guardian (4xx/5xx
// with an error kind in the body).
type GuardianError struct {
	Status    int
	Kind      string
	RequestID string
}

func (e *GuardianError) Error() string {
	return fmt.Sprintf("guardian: %s (status %d)", e.Kind, e.Status)
}

// Forwarder signs payloads for one channel and posts them to the
// guardian. Safe for concurrent use.
type Forwarder struct {
	guardianURL string
	channel     string
	secret      []byte
	client      *http.Client
}

// NewForwarder builds the forwarder for a channel. It refuses to start
// without a shared secret; a channel that cannot sign must not come up.
func NewForwarder(guardianURL, channel, secret string) (*Forwarder, error) {
	if secret == "" {
		return nil, fmt.Errorf("channel %s: CHANNEL_%s_SECRET is empty", channel, strings.ToUpper(channel))
	}
	return &Forwarder{
		guardianURL: strings.TrimRight(guardianURL, "/"),
		channel:     channel,
		secret:      []byte(secret),
		client:      &http.Client{Timeout: forwardTimeout},
	}, nil
}

// Channel returns the channel this forwarder signs for.
func (f *Forwarder) Channel() string { return f.channel }

// NewPayload stamps a payload for this channel with a fresh nonce and
// the current clock.
func (f *Forwarder) NewPayload(userID, text string, metadata map[string]any) payload.Payload {
	return payload.New(f.channel, userID, text, metadata)
}

// Forward signs p and posts it to the guardian inbound endpoint. A
// classified guardian rejection comes back as *GuardianError; transport
// failures return the underlying error.
func (f *Forwarder) Forward(ctx context.Context, p payload.Payload) (*Reply, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("forward: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.guardianURL+"/channel/inbound", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("forward: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(signatureHeader, signing.Sign(f.secret, body))

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forward: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("forward: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ge struct {
			Error     string `json:"error"`
			RequestID string `json:"requestId"`
		}
		if err := json.Unmarshal(raw, &ge); err != nil || ge.Error == "" {
			return nil, &GuardianError{Status: resp.StatusCode, Kind: "guardian_error"}
		}
		return nil, &GuardianError{Status: resp.StatusCode, Kind: ge.Error, RequestID: ge.RequestID}
	}

	var reply Reply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("forward: decode reply: %w", err)
	}
	return &reply, nil
}

// IsGuardianRejection reports whether err is a classified guardian
// rejection rather than a transport failure, and returns it.
func IsGuardianRejection(err error) (*GuardianError, bool) {
	var ge *GuardianError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}
