package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hugomdz/consultavirtual/internal/reliability"
	"github.com/hugomdz/consultavirtual/internal/report"
)

// NetworkError is the single error type every transport or HTTP failure from
// the inference backend normalizes into.
type NetworkError struct {
	Op      string // "submit" or "history"
	Status  int    // 0 when the request never produced a response
	Message string
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("backend %s: status %d: %s", e.Op, e.Status, e.Message)
	}
	return fmt.Sprintf("backend %s: %s", e.Op, e.Message)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether re-submitting the same request could plausibly
// succeed. Informational only; the client never retries.
func (e *NetworkError) Retryable() bool {
	if e.Status == 0 {
		return true
	}
	return reliability.IsRetryableHTTPStatus(e.Status)
}

// QueryResponse is the backend's answer to one consulta.
type QueryResponse struct {
	Respuesta string         `json:"respuesta"`
	Reporte   *report.Report `json:"reporte,omitempty"`
	Timestamp string         `json:"timestamp,omitempty"`
}

// Querier is the narrow contract the orchestrator needs from the backend.
type Querier interface {
	SubmitQuery(ctx context.Context, sessionID, text string) (QueryResponse, error)
	FetchHistory(ctx context.Context) ([]report.HistoryEntry, error)
}

// Client talks to the consulta inference service over HTTP.
type Client struct {
	baseURL      string
	historyLimit int
	client       *http.Client
}

func NewClient(baseURL string, timeout time.Duration, historyLimit int) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if historyLimit <= 0 {
		historyLimit = 10
	}
	return &Client{
		baseURL:      strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		historyLimit: historyLimit,
		client:       &http.Client{Timeout: timeout},
	}
}

type submitRequest struct {
	Consulta  string `json:"consulta"`
	SessionID string `json:"session_id,omitempty"`
}

// SubmitQuery issues one POST /api/consulta. No retries: failures surface
// immediately and re-submission is the user's call.
func (c *Client) SubmitQuery(ctx context.Context, sessionID, text string) (QueryResponse, error) {
	payload, err := json.Marshal(submitRequest{Consulta: text, SessionID: sessionID})
	if err != nil {
		return QueryResponse{}, &NetworkError{Op: "submit", Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/consulta", bytes.NewReader(payload))
	if err != nil {
		return QueryResponse{}, &NetworkError{Op: "submit", Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return QueryResponse{}, &NetworkError{Op: "submit", Message: err.Error(), Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return QueryResponse{}, errorFromResponse("submit", res)
	}

	var out QueryResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return QueryResponse{}, &NetworkError{Op: "submit", Status: res.StatusCode, Message: "decode response", Err: err}
	}
	// The report carries its own timestamp; older backend builds only set the
	// top-level one.
	if out.Reporte != nil && out.Reporte.Timestamp == "" {
		out.Reporte.Timestamp = out.Timestamp
	}
	return out, nil
}

type historyResponse struct {
	Reportes []report.HistoryEntry `json:"reportes"`
}

// FetchHistory issues one GET /api/historial and returns the newest entries,
// capped at the configured limit.
func (c *Client) FetchHistory(ctx context.Context) ([]report.HistoryEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/historial", nil)
	if err != nil {
		return nil, &NetworkError{Op: "history", Message: "create request", Err: err}
	}

	res, err := c.client.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "history", Message: err.Error(), Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, errorFromResponse("history", res)
	}

	var out historyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, &NetworkError{Op: "history", Status: res.StatusCode, Message: "decode response", Err: err}
	}
	entries := out.Reportes
	if len(entries) > c.historyLimit {
		entries = entries[:c.historyLimit]
	}
	return entries, nil
}

func errorFromResponse(op string, res *http.Response) *NetworkError {
	body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
	message := strings.TrimSpace(string(body))

	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && strings.TrimSpace(apiErr.Error) != "" {
		message = strings.TrimSpace(apiErr.Error)
	}
	if message == "" {
		message = res.Status
	}
	return &NetworkError{Op: op, Status: res.StatusCode, Message: message}
}
