// Package assistant is the REST client for the LLM assistant backend.
// The backend is a black box exposing two endpoints: session create and
// message send. Replies arrive as typed parts; the client joins the
// text parts into one answer string.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openpalm/openpalm/internal/config"
)

const createTimeout = 10 * time.Second

// sessionIDRe guards against a compromised backend handing back a path
// traversal or header injection in the session id.
var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Client talks to the assistant backend. Safe for concurrent use.
type Client struct {
	baseURL   string
	basicAuth string // "user:pass" or empty
	client    *http.Client
}

// New builds a client from config. The message timeout defaults to
// 120 s because LLM inference is slow; session create is always 10 s.
func New(cfg config.AssistantConfig) *Client {
	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.URL, "/"),
		basicAuth: cfg.BasicAuth,
		client:    &http.Client{Timeout: timeout},
	}
}

type createSessionRequest struct {
	Title string `json:"title"`
}

type createSessionResponse struct {
	ID string `json:"id"`
}

type messagePart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type sendMessageRequest struct {
	Parts []messagePart `json:"parts"`
}

type sendMessageResponse struct {
	Info  map[string]any `json:"info"`
	Parts []messagePart  `json:"parts"`
}

// CreateSession opens a new assistant session and returns its id.
func (c *Client) CreateSession(ctx context.Context, title string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, createTimeout)
	defer cancel()

	var resp createSessionResponse
	err := c.post(ctx, "/session", createSessionRequest{Title: title}, &resp)
	if err != nil {
		return "", fmt.Errorf("assistant: create session: %w", err)
	}
	if !sessionIDRe.MatchString(resp.ID) {
		return "", fmt.Errorf("assistant: create session: malformed session id %q", resp.ID)
	}
	return resp.ID, nil
}

// SendMessage posts text to a session and returns the joined text parts
// of the reply.
func (c *Client) SendMessage(ctx context.Context, sessionID, text string) (string, error) {
	if !sessionIDRe.MatchString(sessionID) {
		return "", fmt.Errorf("assistant: send message: malformed session id %q", sessionID)
	}

	var resp sendMessageResponse
	req := sendMessageRequest{Parts: []messagePart{{Type: "text", Text: text}}}
	err := c.post(ctx, "/session/"+sessionID+"/message", req, &resp)
	if err != nil {
		return "", fmt.Errorf("assistant: send message: %w", err)
	}

	var texts []string
	for _, part := range resp.Parts {
		if part.Type == "text" && part.Text != "" {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n"), nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.basicAuth != "" {
		if user, pass, ok := strings.Cut(c.basicAuth, ":"); ok {
			req.SetBasicAuth(user, pass)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, snippet)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
