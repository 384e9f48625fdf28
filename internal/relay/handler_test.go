package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/shineum/epub-relay/internal/email"
	"github.com/shineum/epub-relay/internal/fetch"
)

type fakeFetcher struct {
	calls atomic.Int32
	fn    func(ctx context.Context, url string) (*fetch.Content, error)
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (*fetch.Content, error) {
	f.calls.Add(1)
	return f.fn(ctx, url)
}

func bytesFetcher(data []byte) *fakeFetcher {
	return &fakeFetcher{fn: func(context.Context, string) (*fetch.Content, error) {
		return &fetch.Content{Data: data, StatusCode: http.StatusOK}, nil
	}}
}

type fakeProvider struct {
	calls atomic.Int32
	err   error

	mu   sync.Mutex
	sent []*email.Email
}

func (p *fakeProvider) Send(_ context.Context, msg *email.Email) error {
	p.calls.Add(1)
	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return p.err
}

func (p *fakeProvider) Name() string {
	return "fake"
}

var testConfig = Config{
	Recipient: "reader@kindle.com",
	Sender:    "me@gmail.com",
	Subject:   "Kindle EPUB",
	Body:      "Here is your EPUB for Kindle",
}

func newTestHandler(t *testing.T, f Fetcher, p *fakeProvider) *Handler {
	t.Helper()
	h, err := New(testConfig, f, p)
	if err != nil {
		t.Fatalf("New: unexpected error: %v", err)
	}
	return h
}

func serve(h http.Handler, method, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, "/api/sendUrl", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("response is not a JSON object: %q: %v", rec.Body.String(), err)
	}
	return got
}

func assertCORS(t *testing.T, rec *httptest.ResponseRecorder) {
	t.Helper()
	want := map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Methods": "GET,POST,OPTIONS",
		"Access-Control-Allow-Headers": "Content-Type",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s: got %q, want %q", k, got, v)
		}
	}
}

func TestServeHTTP_Options(t *testing.T) {
	t.Parallel()

	f := bytesFetcher([]byte("epub"))
	p := &fakeProvider{}
	rec := serve(newTestHandler(t, f, p), http.MethodOptions, `{"url":"x"}`)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("body: got %q, want empty", rec.Body.String())
	}
	assertCORS(t, rec)
	if f.calls.Load() != 0 || p.calls.Load() != 0 {
		t.Errorf("OPTIONS must not fetch or send: fetch=%d send=%d", f.calls.Load(), p.calls.Load())
	}
}

func TestServeHTTP_MethodNotAllowed(t *testing.T) {
	t.Parallel()

	methods := []string{http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodPatch, http.MethodHead}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			t.Parallel()

			f := bytesFetcher([]byte("epub"))
			p := &fakeProvider{}
			rec := serve(newTestHandler(t, f, p), method, `{"url":"https://example.com/a.epub","filename":"a.epub"}`)

			if rec.Code != http.StatusMethodNotAllowed {
				t.Errorf("status: got %d, want %d", rec.Code, http.StatusMethodNotAllowed)
			}
			assertCORS(t, rec)
			if method != http.MethodHead {
				if got := decodeBody(t, rec)["error"]; got != "Method not allowed" {
					t.Errorf("error: got %q, want %q", got, "Method not allowed")
				}
			}
			if f.calls.Load() != 0 || p.calls.Load() != 0 {
				t.Errorf("%s must not fetch or send", method)
			}
		})
	}
}

func TestServeHTTP_MissingFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "empty object", body: `{}`},
		{name: "url only", body: `{"url":"https://example.com/a.epub"}`},
		{name: "filename only", body: `{"filename":"a.epub"}`},
		{name: "empty url", body: `{"url":"","filename":"a.epub"}`},
		{name: "empty filename", body: `{"url":"https://example.com/a.epub","filename":""}`},
		{name: "empty body", body: ``},
		{name: "null", body: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := bytesFetcher([]byte("epub"))
			p := &fakeProvider{}
			rec := serve(newTestHandler(t, f, p), http.MethodPost, tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := decodeBody(t, rec)["error"]; got != "Missing URL or filename" {
				t.Errorf("error: got %q, want %q", got, "Missing URL or filename")
			}
			assertCORS(t, rec)
			if f.calls.Load() != 0 || p.calls.Load() != 0 {
				t.Error("invalid request must not fetch or send")
			}
		})
	}
}

func TestServeHTTP_InvalidJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "truncated", body: `{"url":`},
		{name: "not json", body: `url=x&filename=y`},
		{name: "array", body: `["a","b"]`},
		{name: "numeric url", body: `{"url":5,"filename":"a.epub"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := bytesFetcher([]byte("epub"))
			p := &fakeProvider{}
			rec := serve(newTestHandler(t, f, p), http.MethodPost, tt.body)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want %d", rec.Code, http.StatusBadRequest)
			}
			if got := decodeBody(t, rec)["error"]; got != "Invalid JSON body" {
				t.Errorf("error: got %q, want %q", got, "Invalid JSON body")
			}
			if f.calls.Load() != 0 || p.calls.Load() != 0 {
				t.Error("invalid request must not fetch or send")
			}
		})
	}
}

func TestServeHTTP_Success(t *testing.T) {
	t.Parallel()

	content := []byte("PK\x03\x04 epub bytes \x00\xff")
	f := bytesFetcher(content)
	p := &fakeProvider{}

	var gotURL string
	inner := f.fn
	f.fn = func(ctx context.Context, url string) (*fetch.Content, error) {
		gotURL = url
		return inner(ctx, url)
	}

	rec := serve(newTestHandler(t, f, p), http.MethodPost,
		`{"url":"https://example.com/books/1.epub","filename":"MyBook.epub"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want %d (body %q)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if got := decodeBody(t, rec)["message"]; got != "EPUB sent to Kindle via Node.js!" {
		t.Errorf("message: got %q", got)
	}
	assertCORS(t, rec)
	if gotURL != "https://example.com/books/1.epub" {
		t.Errorf("fetched URL: got %q", gotURL)
	}
	if f.calls.Load() != 1 || p.calls.Load() != 1 {
		t.Fatalf("calls: fetch=%d send=%d, want 1 each", f.calls.Load(), p.calls.Load())
	}

	msg := p.sent[0]
	if msg.From != "me@gmail.com" {
		t.Errorf("From: got %q", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0] != "reader@kindle.com" {
		t.Errorf("To: got %v", msg.To)
	}
	if msg.Subject != "Kindle EPUB" {
		t.Errorf("Subject: got %q", msg.Subject)
	}
	if msg.TextBody != "Here is your EPUB for Kindle" {
		t.Errorf("TextBody: got %q", msg.TextBody)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "MyBook.epub" {
		t.Errorf("attachment filename: got %q", att.Filename)
	}
	if att.ContentType != "application/epub+zip" {
		t.Errorf("attachment content type: got %q", att.ContentType)
	}
	if !bytes.Equal(att.Content, content) {
		t.Errorf("attachment content: got %q, want %q", att.Content, content)
	}

	requestID := rec.Header().Get(HeaderRequestID)
	if requestID == "" {
		t.Fatal("missing X-Request-ID header")
	}
	if msg.MessageID != "<"+requestID+"@epub-relay>" {
		t.Errorf("MessageID: got %q, want it to carry request ID %q", msg.MessageID, requestID)
	}
}

func TestServeHTTP_ReusesRequestID(t *testing.T) {
	t.Parallel()

	h := newTestHandler(t, bytesFetcher(nil), &fakeProvider{})

	const id = "6f1c1a52-3a38-4c8e-9f3c-5f4b3d2a1e0f"
	req := httptest.NewRequest(http.MethodOptions, "/api/sendUrl", nil)
	req.Header.Set(HeaderRequestID, id)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got != id {
		t.Errorf("X-Request-ID: got %q, want %q", got, id)
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/sendUrl", nil)
	req.Header.Set(HeaderRequestID, "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get(HeaderRequestID); got == "not-a-uuid" || got == "" {
		t.Errorf("X-Request-ID: got %q, want a generated UUID", got)
	}
}

func TestServeHTTP_FetchFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{name: "not found", err: &fetch.StatusError{StatusCode: 404}, wantMsg: "Failed to fetch EPUB: 404"},
		{name: "server error", err: &fetch.StatusError{StatusCode: 503}, wantMsg: "Failed to fetch EPUB: 503"},
		{name: "network", err: errors.New("dial tcp: connection refused"), wantMsg: "dial tcp: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := &fakeFetcher{fn: func(context.Context, string) (*fetch.Content, error) {
				return nil, tt.err
			}}
			p := &fakeProvider{}
			rec := serve(newTestHandler(t, f, p), http.MethodPost,
				`{"url":"https://example.com/missing.epub","filename":"a.epub"}`)

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("status: got %d, want %d", rec.Code, http.StatusInternalServerError)
			}
			if got := decodeBody(t, rec)["error"]; got != tt.wantMsg {
				t.Errorf("error: got %q, want %q", got, tt.wantMsg)
			}
			assertCORS(t, rec)
			if p.calls.Load() != 0 {
				t.Error("provider must not be called after a fetch failure")
			}
			if f.calls.Load() != 1 {
				t.Errorf("fetch calls: got %d, want 1 (no retry)", f.calls.Load())
			}
		})
	}
}

func TestServeHTTP_SendFailure(t *testing.T) {
	t.Parallel()

	f := bytesFetcher([]byte("epub"))
	p := &fakeProvider{err: errors.New("SMTP authentication failed: 535 5.7.8 Username and Password not accepted")}
	rec := serve(newTestHandler(t, f, p), http.MethodPost,
		`{"url":"https://example.com/a.epub","filename":"a.epub"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusInternalServerError)
	}
	if got := decodeBody(t, rec)["error"]; got != p.err.Error() {
		t.Errorf("error: got %q, want %q", got, p.err.Error())
	}
	assertCORS(t, rec)
	if p.calls.Load() != 1 {
		t.Errorf("send calls: got %d, want 1 (no retry)", p.calls.Load())
	}
}

func TestServeHTTP_ConcurrentIdenticalRequests(t *testing.T) {
	t.Parallel()

	f := bytesFetcher([]byte("epub"))
	p := &fakeProvider{}
	h := newTestHandler(t, f, p)

	const body = `{"url":"https://example.com/a.epub","filename":"a.epub"}`

	var wg sync.WaitGroup
	codes := make([]int, 2)
	for i := range codes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			codes[i] = serve(h, http.MethodPost, body).Code
		}()
	}
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("request %d: status %d, want %d", i, code, http.StatusOK)
		}
	}
	if f.calls.Load() != 2 || p.calls.Load() != 2 {
		t.Errorf("calls: fetch=%d send=%d, want 2 each (no dedup)", f.calls.Load(), p.calls.Load())
	}
}

func TestMethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	MethodNotAllowed(rec, httptest.NewRequest("PROPFIND", "/api/sendUrl", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want %d", rec.Code, http.StatusMethodNotAllowed)
	}
	if got := decodeBody(t, rec)["error"]; got != "Method not allowed" {
		t.Errorf("error: got %q", got)
	}
	assertCORS(t, rec)
}

func TestNew_RequiresDependencies(t *testing.T) {
	t.Parallel()

	if _, err := New(testConfig, nil, &fakeProvider{}); err == nil {
		t.Error("expected error for nil fetcher, got nil")
	}
	if _, err := New(testConfig, bytesFetcher(nil), nil); err == nil {
		t.Error("expected error for nil provider, got nil")
	}
}
