package iam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// EXTERNAL POLICY CLIENT
// ============================================================================

// ExternalPolicyClient talks to an out-of-process policy engine speaking the
// OPA data API. Evaluate is fail-closed: every transport, status, or decode
// problem reads as a deny for the rule that asked.
type ExternalPolicyClient struct {
	baseURL string
	client  *http.Client
}

// NewExternalPolicyClient targets baseURL (e.g. "http://opa:8181"). A zero
// timeout defaults to 2s; the timeout bounds the whole round-trip.
func NewExternalPolicyClient(baseURL string, timeout time.Duration) *ExternalPolicyClient {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ExternalPolicyClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// Evaluate posts the input context to <base>/v1/data/<policyPath> and
// interprets the response's "result" field: a literal bool is used directly,
// an object consults its "allow" key, anything else non-nil is truthy.
func (c *ExternalPolicyClient) Evaluate(ctx context.Context, policyPath string, input map[string]any) bool {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return false
	}
	url := c.baseURL + "/v1/data/" + strings.Trim(policyPath, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}

	var decoded struct {
		Result any `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return false
	}
	return truthyResult(decoded.Result)
}

// PushPolicy uploads raw policy source to <base>/v1/policies/<pathKey>.
func (c *ExternalPolicyClient) PushPolicy(ctx context.Context, pathKey, source string) error {
	url := c.baseURL + "/v1/policies/" + strings.Trim(pathKey, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, strings.NewReader(source))
	if err != nil {
		return fmt.Errorf("build policy push request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("push policy %s: %w", pathKey, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push policy %s: engine returned %d: %s", pathKey, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func truthyResult(result any) bool {
	switch v := result.(type) {
	case nil:
		return false
	case bool:
		return v
	case map[string]any:
		if allow, ok := v["allow"]; ok {
			return truthy(allow)
		}
		return len(v) > 0
	default:
		return truthy(result)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	default:
		return true
	}
}
