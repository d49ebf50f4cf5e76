package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestClient(baseURL string) *Client {
	return NewClient(baseURL, "test-key", 3, 2*time.Second, 5*time.Second)
}

func TestAskSuccess(t *testing.T) {
	var gotReq askRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ask", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		err := json.NewDecoder(r.Body).Decode(&gotReq)
		assert.NoError(t, err)

		json.NewEncoder(w).Encode(askResponse{
			Answer:    "The sky is blue.",
			Reference: "physics.pdf p.12",
		})
	}))
	defer srv.Close()

	res := newTestClient(srv.URL).Ask(context.Background(), "Why is the sky blue?", "sess-1", nil)

	assert.Equal(t, KindSuccess, res.Kind)
	assert.True(t, res.OK())
	assert.Equal(t, "The sky is blue.", res.Answer)
	assert.Equal(t, "physics.pdf p.12", res.Reference)

	assert.Equal(t, "Why is the sky blue?", gotReq.Question)
	assert.Equal(t, 3, gotReq.TopK)
	assert.Equal(t, "sess-1", gotReq.SessionID)
}

func TestAskUpstreamErrorDetail(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantDetail string
	}{
		{"detail field", 500, `{"detail":"index unavailable"}`, "index unavailable"},
		{"error field", 502, `{"error":"bad gateway"}`, "bad gateway"},
		{"raw body fallback", 503, "plain text failure", "plain text failure"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			res := newTestClient(srv.URL).Ask(context.Background(), "q", "s", nil)

			assert.Equal(t, KindUpstreamError, res.Kind)
			assert.False(t, res.OK())
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, tt.wantDetail, res.Detail)
		})
	}
}

func TestAskMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	res := newTestClient(srv.URL).Ask(context.Background(), "q", "s", nil)

	assert.Equal(t, KindMalformedResponse, res.Kind)
	assert.Error(t, res.Err)
}

func TestAskTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "k", 3, time.Second, 50*time.Millisecond)
	res := client.Ask(context.Background(), "q", "s", nil)

	assert.Equal(t, KindTimeout, res.Kind)
	assert.Error(t, res.Err)
}

func TestAskContextDeadlineIsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := newTestClient(srv.URL).Ask(ctx, "q", "s", nil)
	assert.Equal(t, KindTimeout, res.Kind)
}

func TestAskNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	res := newTestClient(srv.URL).Ask(context.Background(), "q", "s", nil)

	assert.Equal(t, KindNetworkError, res.Kind)
	assert.Error(t, res.Err)
}

func TestAskSingleAttempt(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	newTestClient(srv.URL).Ask(context.Background(), "q", "s", nil)
	assert.Equal(t, 1, attempts, "Ask must not retry")
}
