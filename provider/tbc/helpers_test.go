package tbc

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opencensus.io/trace"

	"github.com/gebv/tbcpay/services/auditor"
)

type recordedRequest struct {
	Path   string
	Header http.Header
	Body   []byte
	Form   url.Values
}

// fakeBank imitates the bank API. Handlers for application endpoints are set per test.
type fakeBank struct {
	srv *httptest.Server

	mu         sync.Mutex
	tokenCalls int
	requests   []recordedRequest
	issuedAt   func() int64
	tokenGate  chan struct{}

	tokenHandler http.HandlerFunc
	handlers     map[string]http.HandlerFunc
}

func newFakeBank(t *testing.T) *fakeBank {
	b := &fakeBank{
		handlers: map[string]http.HandlerFunc{},
		issuedAt: func() int64 { return time.Now().Unix() },
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBank) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recordedRequest{Path: r.URL.Path, Header: r.Header.Clone(), Body: body}
	if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
		rec.Form, _ = url.ParseQuery(string(body))
	}

	b.mu.Lock()
	b.requests = append(b.requests, rec)
	var h http.HandlerFunc
	if r.URL.Path == oAuthEndpoint {
		b.tokenCalls++
		h = b.tokenHandler
	} else {
		h = b.handlers[r.URL.Path]
	}
	gate := b.tokenGate
	b.mu.Unlock()

	if r.URL.Path == oAuthEndpoint {
		if gate != nil {
			<-gate
		}
		if h == nil {
			h = b.defaultToken
		}
	}
	if h == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h(w, r)
}

func (b *fakeBank) defaultToken(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	n := b.tokenCalls
	issuedAt := b.issuedAt()
	b.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token": "token-" + strconv.Itoa(n),
		"issued_at":    issuedAt,
		"expires_in":   3600,
	})
}

func (b *fakeBank) handle(path string, h http.HandlerFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[path] = h
}

func (b *fakeBank) tokenCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokenCalls
}

func (b *fakeBank) recorded() []recordedRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]recordedRequest, len(b.requests))
	copy(out, b.requests)
	return out
}

func (b *fakeBank) lastTo(path string) recordedRequest {
	reqs := b.recorded()
	for i := len(reqs) - 1; i >= 0; i-- {
		if reqs[i].Path == path {
			return reqs[i]
		}
	}
	return recordedRequest{}
}

func (b *fakeBank) config() Config {
	return Config{
		EntrypointURL: b.srv.URL,
		APIKey:        "api-key",
		APISecret:     "api-secret",
		MerchantKey:   "merchant-key",
		CampaignID:    "191",
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Add(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []auditor.Record
}

func (a *recordingAuditor) Log(ctx context.Context, rec auditor.Record, payload interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, rec)
}

func (a *recordingAuditor) all() []auditor.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]auditor.Record(nil), a.records...)
}

func decodeBody(t *testing.T, b []byte) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &out))
	return out
}

type spanRecorder struct {
	mu    sync.Mutex
	spans []*trace.SpanData
}

// recordSpans samples every span until the end of the test.
func recordSpans(t *testing.T) *spanRecorder {
	r := &spanRecorder{}
	trace.RegisterExporter(r)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	t.Cleanup(func() {
		trace.UnregisterExporter(r)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(1e-4)})
	})
	return r
}

func (r *spanRecorder) ExportSpan(sd *trace.SpanData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, sd)
}

func (r *spanRecorder) byName(name string) *trace.SpanData {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sd := range r.spans {
		if sd.Name == name {
			return sd
		}
	}
	return nil
}
