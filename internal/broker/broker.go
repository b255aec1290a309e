// Package broker is the HTTP client that long-polls the broker for tasks
// and submits claim/result updates (spec.md §6's broker HTTP protocol).
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/samply/focus-go/internal/identity"
	"github.com/samply/focus-go/internal/logging"
	"github.com/samply/focus-go/internal/task"
)

// Client talks to one broker instance on behalf of a single app identity.
type Client struct {
	baseURL string
	self    identity.AppIdentity
	apiKey  string
	http    *http.Client
	log     logging.Logger
}

// New builds a broker client. httpClient is the shared, pre-configured
// client (TLS trust store, proxy env, user agent — spec.md §4.4); Focus
// constructs one at startup and passes it to every adapter, including this
// one.
func New(baseURL string, self identity.AppIdentity, apiKey string, httpClient *http.Client, log logging.Logger) *Client {
	return &Client{baseURL: baseURL, self: self, apiKey: apiKey, http: httpClient, log: log}
}

func (c *Client) authHeader() string {
	return fmt.Sprintf("ApiKey %s %s", c.self.String(), c.apiKey)
}

// ErrTransient wraps a broker call that failed in a way worth retrying:
// a non-2xx status or a network-level failure.
type ErrTransient struct {
	Op     string
	Status int
	Detail string
}

func (e *ErrTransient) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("broker: %s: status %d: %s", e.Op, e.Status, e.Detail)
	}
	return fmt.Sprintf("broker: %s: %s", e.Op, e.Detail)
}

// CheckHealth probes GET {base}/v1/health; any 2xx means the broker is up.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrTransient{Op: "health", Detail: err.Error()}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &ErrTransient{Op: "health", Status: resp.StatusCode}
	}
	return nil
}

// PollTasks long-polls GET {base}/v1/tasks?filter=todo&wait_count=1&wait_time=10s.
// 200 and 206 both carry a JSON array of tasks; any other status is
// transient per spec.md §6.
func (c *Client) PollTasks(ctx context.Context) ([]task.Task, error) {
	url := c.baseURL + "/v1/tasks?filter=todo&wait_count=1&wait_time=10s"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ErrTransient{Op: "poll", Detail: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		body, _ := io.ReadAll(resp.Body)
		return nil, &ErrTransient{Op: "poll", Status: resp.StatusCode, Detail: string(body)}
	}

	var tasks []task.Task
	if err := json.NewDecoder(resp.Body).Decode(&tasks); err != nil {
		return nil, &ErrTransient{Op: "poll", Detail: err.Error()}
	}
	return tasks, nil
}

// Answer submits a Claimed/Succeeded/PermFailed result via
// PUT {base}/v1/tasks/{task-id}/results/{self-app-id}. 201/204 is success,
// 400 is logged and swallowed (the broker considers the result malformed
// but retrying would not help), any other code is transient (spec.md §6).
func (c *Client) Answer(ctx context.Context, r task.Result) error {
	body, err := json.Marshal(r)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("%s/v1/tasks/%s/results/%s", c.baseURL, r.ID, c.self.String())
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrTransient{Op: "answer", Detail: err.Error()}
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusNoContent:
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		c.log.Warn("broker: answer rejected as malformed", "task_id", r.ID, "body", string(respBody))
		return nil
	default:
		return &ErrTransient{Op: "answer", Status: resp.StatusCode, Detail: string(respBody)}
	}
}

// AnswerWithRetry retries Answer up to 3600 times with a 2-second constant
// delay on transient transport failures (spec.md §4.1c).
func (c *Client) AnswerWithRetry(ctx context.Context, r task.Result) error {
	const maxTries = 3600
	const delay = 2 * time.Second

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), maxTries)

	return backoff.Retry(func() error {
		err := c.Answer(ctx, r)
		if err == nil {
			return nil
		}
		if _, transient := err.(*ErrTransient); transient {
			c.log.Warn("broker: answer failed, retrying", "task_id", r.ID, "error", err)
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(policy, ctx))
}
