package installments

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/labstack/echo"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opencensus.io/trace"

	"github.com/gebv/tbcpay"
	"github.com/gebv/tbcpay/httputils"
	"github.com/gebv/tbcpay/interceptors/auth"
	"github.com/gebv/tbcpay/provider/tbc"
)

type fakeInstallments struct {
	err error

	cart       *tbcpay.Ledger
	invoiceID  string
	sessionID  string
	priceTotal tbcpay.Amount
	requestID  string
}

func (f *fakeInstallments) Apply(ctx context.Context, cart *tbcpay.Ledger, invoiceID string, priceTotal tbcpay.Amount) (*tbc.Application, error) {
	f.cart, f.invoiceID, f.priceTotal = cart, invoiceID, priceTotal
	f.requestID = httputils.RequestID(ctx)
	if f.err != nil {
		return nil, f.err
	}
	if cart.Len() == 0 {
		return nil, tbcpay.ErrNoProducts
	}
	if !cart.ValidateTotal(priceTotal) {
		return nil, errors.Wrap(tbcpay.ErrPriceMismatch, "total")
	}
	return &tbc.Application{
		Result: tbc.RemoteResult{StatusCode: 200, Message: "ok"},
		Session: &tbc.ApplicationSession{
			InvoiceID:   invoiceID,
			SessionID:   "sess-1",
			RedirectURI: "https://bank.test/?sessionId=sess-1",
		},
	}, nil
}

func (f *fakeInstallments) Confirm(ctx context.Context, invoiceID, sessionID string, priceTotal tbcpay.Amount) (*tbc.RemoteResult, error) {
	f.invoiceID, f.sessionID, f.priceTotal = invoiceID, sessionID, priceTotal
	if f.err != nil {
		return nil, f.err
	}
	return &tbc.RemoteResult{StatusCode: 409, Message: "already confirmed"}, nil
}

func (f *fakeInstallments) Cancel(ctx context.Context, sessionID string) (*tbc.RemoteResult, error) {
	f.sessionID = sessionID
	if f.err != nil {
		return nil, f.err
	}
	return &tbc.RemoteResult{StatusCode: 200, Message: "ok"}, nil
}

func serve(t *testing.T, e *echo.Echo, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

const applyBody = `{
	"invoiceId": "inv-1",
	"priceTotal": 15.5,
	"products": [
		{"name": "A", "price": 10, "quantity": 1},
		{"name": "B", "price": 5.5, "quantity": 2}
	]
}`

func TestServer_Apply(t *testing.T) {
	f := &fakeInstallments{}
	e := NewServer(f, Config{AppVersion: "test"}).Echo()

	rec := serve(t, e, http.MethodPost, ApplicationsPath, applyBody, map[string]string{
		httputils.HeaderRequestID: "req-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{
		"status_code":  200.0,
		"message":      "ok",
		"session_id":   "sess-1",
		"redirect_uri": "https://bank.test/?sessionId=sess-1",
	}, decode(t, rec))
	assert.Equal(t, "req-1", rec.Header().Get(httputils.HeaderRequestID))
	assert.Equal(t, "req-1", f.requestID)

	assert.Equal(t, "inv-1", f.invoiceID)
	assert.Equal(t, tbcpay.Amount(1550), f.priceTotal)
	assert.Equal(t, []tbcpay.LineItem{
		{Name: "A", Price: 1000, Quantity: 1},
		{Name: "B", Price: 550, Quantity: 2},
	}, f.cart.Items())
}

func TestServer_ApplyErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		code int
	}{
		{"bad json", `{"invoiceId":`, nil, http.StatusBadRequest},
		{"bad total", `{"invoiceId":"x","priceTotal":"abc","products":[]}`, nil, http.StatusBadRequest},
		{"quantity as string", `{"invoiceId":"x","priceTotal":1,"products":[{"name":"A","price":1,"quantity":"1"}]}`, nil, http.StatusBadRequest},
		{"price as string", `{"invoiceId":"x","priceTotal":1,"products":[{"name":"A","price":"1","quantity":1}]}`, nil, http.StatusBadRequest},
		{"no products", `{"invoiceId":"x","priceTotal":0,"products":[]}`, nil, http.StatusUnprocessableEntity},
		{"price mismatch", `{"invoiceId":"x","priceTotal":15,"products":[{"name":"A","price":15.5,"quantity":1}]}`, nil, http.StatusUnprocessableEntity},
		{"auth failure", applyBody, errors.Wrap(tbc.ErrAuthFailure, "status code 401"), http.StatusBadGateway},
		{"malformed response", applyBody, errors.Wrap(tbc.ErrMalformedResponse, "status code 502"), http.StatusBadGateway},
		{"transport", applyBody, errors.New("Failed do request"), http.StatusBadGateway},
		{"not configured", applyBody, tbc.ErrProviderNotSet, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewServer(&fakeInstallments{err: tt.err}, Config{}).Echo()
			rec := serve(t, e, http.MethodPost, ApplicationsPath, tt.body, nil)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode(t, rec)["message"])
		})
	}
}

func TestServer_ConfirmAndCancel(t *testing.T) {
	f := &fakeInstallments{}
	e := NewServer(f, Config{}).Echo()

	rec := serve(t, e, http.MethodPost, ApplicationsPath+"/sess-9/confirm", `{"invoiceId":"inv-9","priceTotal":"99.99"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"status_code": 409.0, "message": "already confirmed"}, decode(t, rec))
	assert.Equal(t, "sess-9", f.sessionID)
	assert.Equal(t, "inv-9", f.invoiceID)
	assert.Equal(t, tbcpay.Amount(9999), f.priceTotal)

	rec = serve(t, e, http.MethodPost, ApplicationsPath+"/sess-10/cancel", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"status_code": 200.0, "message": "ok"}, decode(t, rec))
	assert.Equal(t, "sess-10", f.sessionID)
}

func TestServer_AccessToken(t *testing.T) {
	e := NewServer(&fakeInstallments{}, Config{AccessToken: "secret"}).Echo()

	rec := serve(t, e, http.MethodPost, ApplicationsPath+"/s/cancel", ``, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(t, e, http.MethodPost, ApplicationsPath+"/s/cancel", ``, map[string]string{auth.AccessTokenHeader: "wrong"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, e, http.MethodPost, ApplicationsPath+"/s/cancel", ``, map[string]string{auth.AccessTokenHeader: "secret"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

// The server in front of a real provider and a stub bank.
func TestServer_WithProvider(t *testing.T) {
	var gotApply map[string]interface{}
	bank := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/oauth/token":
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"access_token": "t", "issued_at": 4102444800, "expires_in": 3600,
			})
		case "/v1/online-installments/applications":
			_ = json.NewDecoder(r.Body).Decode(&gotApply)
			w.Header().Set("Location", "https://bank.test/?sessionId=s-1")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"sessionId":"s-1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"status":404,"detail":"unknown session"}`))
		}
	}))
	defer bank.Close()

	p := tbc.NewProvider(tbc.Config{
		EntrypointURL: bank.URL,
		APIKey:        "k",
		APISecret:     "s",
		MerchantKey:   "m",
		CampaignID:    "191",
	})
	e := NewServer(p, Config{}).Echo()

	rec := serve(t, e, http.MethodPost, ApplicationsPath, applyBody, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "s-1", decode(t, rec)["session_id"])
	assert.Equal(t, 15.5, gotApply["priceTotal"])
	assert.Len(t, gotApply["products"], 2)

	rec = serve(t, e, http.MethodPost, ApplicationsPath+"/other/cancel", ``, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"status_code": 404.0, "message": "unknown session"}, decode(t, rec))
}

type spanRecorder struct {
	mu    sync.Mutex
	spans []*trace.SpanData
}

func (r *spanRecorder) ExportSpan(sd *trace.SpanData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spans = append(r.spans, sd)
}

func TestServer_RequestSpan(t *testing.T) {
	r := &spanRecorder{}
	trace.RegisterExporter(r)
	trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})
	defer func() {
		trace.UnregisterExporter(r)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.ProbabilitySampler(1e-4)})
	}()

	e := NewServer(&fakeInstallments{}, Config{}).Echo()
	rec := serve(t, e, http.MethodPost, ApplicationsPath, `{"invoiceId":"x","priceTotal":0,"products":[]}`, map[string]string{
		httputils.HeaderRequestID: "req-span",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Len(t, r.spans, 1)
	sd := r.spans[0]
	assert.Equal(t, "installments.POST."+ApplicationsPath, sd.Name)
	assert.Equal(t, "req-span", sd.Attributes["request_id"])
	assert.Equal(t, int64(http.StatusUnprocessableEntity), sd.Attributes["status_code"])
	assert.NotEqual(t, int32(trace.StatusCodeOK), sd.Status.Code)
}
