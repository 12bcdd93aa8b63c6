// Package client talks to the monitoring backend over HTTP. It implements
// the engine's Remote, Feed, and session Fetcher collaborators.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"

	"github.com/rcourtman/pulse-findings/internal/approval"
	"github.com/rcourtman/pulse-findings/internal/findings"
	"github.com/rcourtman/pulse-findings/internal/investigation"
	"github.com/rcourtman/pulse-findings/internal/remediation"
)

var (
	resolverOnce sync.Once
	resolver     *dnscache.Resolver
)

// dialContext resolves through a shared DNS cache so refresh cycles do not
// hammer the resolver.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	resolverOnce.Do(func() {
		resolver = &dnscache.Resolver{}
		go func() {
			t := time.NewTicker(5 * time.Minute)
			defer t.Stop()
			for range t.C {
				resolver.Refresh(true)
			}
		}()
	})
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	var dialer net.Dialer
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, lastErr
}

// Client is the HTTP backend client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// New creates a client for the backend at baseURL. token may be empty.
func New(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:         dialContext,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-API-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("%s %s: backend returned %d: %s", method, path, resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// Feed implementation.

func (c *Client) LoadAlerts(ctx context.Context) ([]findings.RawAlert, error) {
	var out []findings.RawAlert
	if err := c.do(ctx, http.MethodGet, "/api/alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadAIFindings(ctx context.Context) ([]findings.RawAIFinding, error) {
	var out []findings.RawAIFinding
	if err := c.do(ctx, http.MethodGet, "/api/ai/findings", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadPlans(ctx context.Context) ([]*remediation.Plan, error) {
	var out []*remediation.Plan
	if err := c.do(ctx, http.MethodGet, "/api/ai/remediation/plans", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadApprovals(ctx context.Context) ([]*approval.Request, error) {
	var out []*approval.Request
	if err := c.do(ctx, http.MethodGet, "/api/ai/approvals", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) LoadSessions(ctx context.Context) ([]*investigation.Session, error) {
	var out []*investigation.Session
	if err := c.do(ctx, http.MethodGet, "/api/ai/investigations", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FetchSession implements investigation.Fetcher.
func (c *Client) FetchSession(ctx context.Context, sessionID string) (*investigation.Session, error) {
	var out investigation.Session
	if err := c.do(ctx, http.MethodGet, "/api/ai/investigations/"+sessionID, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remote implementation: lifecycle actions.

func (c *Client) AcknowledgeFinding(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/api/ai/findings/"+id+"/acknowledge", nil, nil)
}

func (c *Client) DismissFinding(ctx context.Context, id string, reason findings.DismissedReason, note string) error {
	body := map[string]string{"reason": string(reason)}
	if note != "" {
		body["note"] = note
	}
	return c.do(ctx, http.MethodPost, "/api/ai/findings/"+id+"/dismiss", body, nil)
}

func (c *Client) SnoozeFinding(ctx context.Context, id string, hours float64) error {
	return c.do(ctx, http.MethodPost, "/api/ai/findings/"+id+"/snooze",
		map[string]float64{"hours": hours}, nil)
}

func (c *Client) SetFindingNote(ctx context.Context, id, text string) error {
	return c.do(ctx, http.MethodPost, "/api/ai/findings/"+id+"/note",
		map[string]string{"note": text}, nil)
}

// Remote implementation: fix approvals.

func (c *Client) ApproveInvestigationFix(ctx context.Context, approvalID string) (*findings.ExecutionResult, error) {
	var out findings.ExecutionResult
	if err := c.do(ctx, http.MethodPost, "/api/ai/approvals/"+approvalID+"/approve", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DenyInvestigationFix(ctx context.Context, approvalID, reason string) error {
	body := map[string]string{}
	if reason != "" {
		body["reason"] = reason
	}
	return c.do(ctx, http.MethodPost, "/api/ai/approvals/"+approvalID+"/deny", body, nil)
}

func (c *Client) ReapproveInvestigationFix(ctx context.Context, findingID string) (string, error) {
	var out struct {
		ApprovalID string `json:"approval_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ai/findings/"+findingID+"/reapprove-fix", nil, &out); err != nil {
		return "", err
	}
	if out.ApprovalID == "" {
		return "", fmt.Errorf("backend returned no approval id for finding %s", findingID)
	}
	log.Debug().Str("findingID", findingID).Str("approvalID", out.ApprovalID).Msg("Fix re-approved")
	return out.ApprovalID, nil
}

// Remote implementation: legacy remediation plans.

func (c *Client) ApproveRemediationPlan(ctx context.Context, planID string) (string, error) {
	var out struct {
		ExecutionID string `json:"execution_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/ai/remediation/plans/"+planID+"/approve", nil, &out); err != nil {
		return "", err
	}
	if out.ExecutionID == "" {
		return "", fmt.Errorf("backend returned no execution id for plan %s", planID)
	}
	return out.ExecutionID, nil
}

func (c *Client) ExecuteRemediationPlan(ctx context.Context, executionID string) (*findings.ExecutionResult, error) {
	var out findings.ExecutionResult
	if err := c.do(ctx, http.MethodPost, "/api/ai/remediation/executions/"+executionID+"/execute", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
