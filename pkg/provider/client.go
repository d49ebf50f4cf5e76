package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"
)

// Message is one history entry sent upstream for context.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const maxContextMessages = 10

// Client wraps a single call to the external answer service. It performs
// exactly one attempt per Ask; retry policy belongs to the caller.
type Client struct {
	baseURL string
	apiKey  string
	topK    int
	client  *http.Client
}

func NewClient(baseURL, apiKey string, topK int, connectTimeout, totalTimeout time.Duration) *Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		topK:    topK,
		client: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
	}
}

// --- Request/Response structs (internal to this package) ---

type askRequest struct {
	Question  string `json:"question"`
	TopK      int    `json:"top_k"`
	SessionID string `json:"session_id,omitempty"`
}

type askResponse struct {
	Answer    string `json:"answer"`
	Reference string `json:"reference,omitempty"`
}

type askErrorBody struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Ask sends one question to the answer service and normalizes the outcome.
// History is truncated to the most recent entries; the caller must not pass
// an empty query. Context carries cancellation from the owning connection.
func (c *Client) Ask(ctx context.Context, query, sessionID string, history []Message) Result {
	// The wire contract keys context off session_id; history is accepted so
	// contract drift stays localized here, and is bounded before any use.
	if len(history) > maxContextMessages {
		history = history[len(history)-maxContextMessages:]
	}

	payload := askRequest{
		Question:  query,
		TopK:      c.topK,
		SessionID: sessionID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Kind: KindMalformedResponse, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/ask", bytes.NewBuffer(body))
	if err != nil {
		return Result{Kind: KindNetworkError, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Kind: KindTimeout, Err: err}
		}
		return Result{Kind: KindNetworkError, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{
			Kind:   KindUpstreamError,
			Status: resp.StatusCode,
			Detail: extractErrorDetail(resp.Body),
		}
	}

	var out askResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{Kind: KindMalformedResponse, Err: err}
	}

	return Result{
		Kind:      KindSuccess,
		Answer:    out.Answer,
		Reference: out.Reference,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

const maxRawDetailLen = 512

// extractErrorDetail pulls a human-readable message out of a structured error
// body, falling back to the truncated raw body.
func extractErrorDetail(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64*1024))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var parsed askErrorBody
	if err := json.Unmarshal(raw, &parsed); err == nil {
		if parsed.Detail != "" {
			return parsed.Detail
		}
		if parsed.Error != "" {
			return parsed.Error
		}
	}

	detail := string(raw)
	if len(detail) > maxRawDetailLen {
		detail = detail[:maxRawDetailLen]
	}
	return detail
}
