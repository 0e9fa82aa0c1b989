package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"stagewright/internal/actor"
	"stagewright/internal/transition"
)

// Identity headers carried on every API request.
const (
	HeaderActorID      = "X-Actor-ID"
	HeaderOrganization = "X-Organization"
	HeaderPrivilege    = "X-Privilege"
	HeaderRequestID    = "X-Request-ID"
)

// ErrAPIUnavailable reports that the daemon could not be reached.
var ErrAPIUnavailable = errors.New("stagewright API unavailable")

// Client talks to a running daemon over HTTP.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// NewClient builds a client for the daemon bound at bind. An empty bind
// yields a nil client.
func NewClient(bind, token string, timeout time.Duration) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}, token: strings.TrimSpace(token)}, nil
}

// Status fetches daemon runtime information.
func (c *Client) Status(ctx context.Context) (DaemonStatus, error) {
	var out DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out, nil)
	return out, err
}

// Workflow fetches the stage graph.
func (c *Client) Workflow(ctx context.Context) (Workflow, error) {
	var out Workflow
	err := c.do(ctx, http.MethodGet, "/api/stages", nil, nil, &out, nil)
	return out, err
}

// Describe fetches a single project.
func (c *Client) Describe(ctx context.Context, id string) (Project, error) {
	var out Project
	err := c.do(ctx, http.MethodGet, projectPath(id), nil, nil, &out, nil)
	return out, err
}

// Invalidate drops the daemon's cached copy of a project.
func (c *Client) Invalidate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id, "cache"), nil, nil, nil, nil)
}

// History fetches the project's ledger.
func (c *Client) History(ctx context.Context, id string, verify bool) (HistoryResponse, error) {
	var out HistoryResponse
	var query url.Values
	if verify {
		query = url.Values{"verify": []string{"1"}}
	}
	err := c.do(ctx, http.MethodGet, projectPath(id, "history"), query, nil, &out, nil)
	return out, err
}

// Available lists reachable stages with their validation results.
func (c *Client) Available(ctx context.Context, id string) (AvailabilityResponse, error) {
	var out AvailabilityResponse
	err := c.do(ctx, http.MethodGet, projectPath(id, "transitions"), nil, nil, &out, nil)
	return out, err
}

// Validate checks a proposed move without applying it.
func (c *Client) Validate(ctx context.Context, id, stage string) (ValidationResult, error) {
	var out ValidationResult
	err := c.do(ctx, http.MethodPost, projectPath(id, "transitions", "validate"), nil, TransitionRequest{Stage: stage}, &out, nil)
	return out, err
}

// CanTransition answers whether the caller could move the project to stage now.
func (c *Client) CanTransition(ctx context.Context, id, stage string) (CanTransitionResponse, error) {
	var out CanTransitionResponse
	err := c.do(ctx, http.MethodGet, projectPath(id, "transitions", stage), nil, nil, &out, nil)
	return out, err
}

// Transition executes a transition on the daemon.
func (c *Client) Transition(ctx context.Context, id string, req TransitionRequest) (TransitionOutcome, error) {
	var out TransitionOutcome
	var failed *TransitionOutcome
	err := c.do(ctx, http.MethodPost, projectPath(id, "transitions"), nil, req, &out, &failed)
	if err != nil && failed != nil {
		return *failed, err
	}
	return out, err
}

// TestNotification asks the daemon to publish a test notification.
func (c *Client) TestNotification(ctx context.Context) (NotificationResult, error) {
	var out NotificationResult
	err := c.do(ctx, http.MethodPost, "/api/notifications/test", nil, nil, &out, nil)
	return out, err
}

func projectPath(id string, parts ...string) string {
	segments := append([]string{"api", "projects", url.PathEscape(id)}, parts...)
	for i := 3; i < len(segments); i++ {
		segments[i] = url.PathEscape(segments[i])
	}
	return "/" + strings.Join(segments, "/")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, out any, failed **TransitionOutcome) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("build request path: %w", err)
	}
	endpoint := c.base.ResolveReference(ref)
	if len(query) > 0 {
		endpoint.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if who, ok := actor.FromContext(ctx); ok {
		req.Header.Set(HeaderActorID, who.ID)
		req.Header.Set(HeaderOrganization, who.Organization)
		req.Header.Set(HeaderPrivilege, string(who.Privilege))
	}
	if id, ok := actor.RequestIDFromContext(ctx); ok {
		req.Header.Set(HeaderRequestID, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: %v", ErrAPIUnavailable, err)
		}
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	var payload ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil || payload.Error.Kind == "" {
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if failed != nil {
		*failed = payload.Outcome
	}
	return remoteError(payload.Error)
}

// remoteError rebuilds a transition error from its wire form so callers can
// classify remote and in-process failures the same way.
func remoteError(e Error) error {
	reasons := e.Reasons
	if len(reasons) == 0 && e.Message != "" {
		reasons = []string{e.Message}
	}
	return &transition.Error{
		Kind:              transition.Kind(e.Kind),
		Reasons:           reasons,
		MutationCommitted: e.MutationCommitted,
		LedgerRecorded:    e.LedgerRecorded,
	}
}
