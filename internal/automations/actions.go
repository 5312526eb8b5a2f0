package automations

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"time"
)

// defaultActionTimeout bounds an action that sets no timeout.
const defaultActionTimeout = 30 * time.Second

// httpRetries is how many times transport-level failures are retried.
// Non-2xx responses are definitive and never retried.
const httpRetries = 3

// Runner executes automation actions. api actions target the local
// admin API with the admin token auto-injected; http actions hit
// arbitrary URLs with no ambient auth; shell actions spawn argv
// directly with no shell interpolation.
type Runner struct {
	AdminPort  int
	AdminToken string
	Client     *http.Client
}

// Run dispatches one action and returns its failure, if any.
func (r *Runner) Run(ctx context.Context, action Action) error {
	timeout := defaultActionTimeout
	if action.TimeoutSec > 0 {
		timeout = time.Duration(action.TimeoutSec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch action.Type {
	case ActionAPI:
		url := fmt.Sprintf("http://localhost:%d%s", r.AdminPort, action.Path)
		return r.doHTTP(ctx, action, url, true)
	case ActionHTTP:
		return r.doHTTP(ctx, action, action.URL, false)
	case ActionShell:
		return r.doShell(ctx, action)
	default:
		return fmt.Errorf("unknown action type %q", action.Type)
	}
}

func (r *Runner) doHTTP(ctx context.Context, action Action, url string, adminAuth bool) error {
	method := strings.ToUpper(action.Method)
	if method == "" {
		method = http.MethodPost
	}
	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for attempt := 1; attempt <= httpRetries; attempt++ {
		var body io.Reader
		if action.Body != "" {
			body = strings.NewReader(action.Body)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, body)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if action.Body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		if adminAuth {
			req.Header.Set("x-admin-token", r.AdminToken)
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("status %d from %s %s", resp.StatusCode, method, url)
		}
		return nil
	}
	return fmt.Errorf("%s %s: %w", method, url, lastErr)
}

// doShell spawns command[0] with command[1:] as argv. Values are never
// interpreted by a shell, so metacharacters in arguments stay literal.
func (r *Runner) doShell(ctx context.Context, action Action) error {
	cmd := exec.CommandContext(ctx, action.Command[0], action.Command[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("command timed out")
		}
		snippet := strings.TrimSpace(string(out))
		if len(snippet) > 256 {
			snippet = snippet[:256]
		}
		return fmt.Errorf("command failed: %w: %s", err, snippet)
	}
	return nil
}
