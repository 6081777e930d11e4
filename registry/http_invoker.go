package registry

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

// HTTPInvoker is the default JSON-over-HTTP transport: one POST to the
// service endpoint per invocation with the Request body, decoding a Response.
//
// Transport errors are returned unwrapped so the registry's failure
// classifier can inspect them.
type HTTPInvoker struct {
	client *http.Client
}

// NewHTTPInvoker creates the transport. timeout bounds the whole exchange;
// the registry additionally applies its per-call context timeout.
func NewHTTPInvoker(timeout time.Duration) *HTTPInvoker {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPInvoker{client: &http.Client{Timeout: timeout}}
}

// Invoke implements Invoker.
func (h *HTTPInvoker) Invoke(ctx context.Context, endpoint string, req *Request) (*Response, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("service returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &out, nil
}
