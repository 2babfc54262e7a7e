// Package tbc is a client for TBC Bank online installments: OAuth client-credentials
// authentication and the apply / confirm / cancel lifecycle of an installment
// application.
package tbc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay"
	"github.com/gebv/tbcpay/provider"
)

type Option func(*settings)

type settings struct {
	httpClient *http.Client
	store      provider.SessionStore
	cache      TokenCache
	auditor    Auditor
	report     FaultReporter
	now        func() time.Time
	l          *zap.Logger
}

// WithHTTPClient sets the transport. Timeouts are whatever the client has.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithSessionStore keeps the token in st under DefaultNamespace.
func WithSessionStore(st provider.SessionStore) Option {
	return func(s *settings) { s.store = st }
}

// WithTokenCache overrides WithSessionStore.
func WithTokenCache(c TokenCache) Option {
	return func(s *settings) { s.cache = c }
}

func WithAuditor(a Auditor) Option {
	return func(s *settings) { s.auditor = a }
}

func WithFaultReporter(r FaultReporter) Option {
	return func(s *settings) { s.report = r }
}

func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.l = l }
}

// NewProvider returns the installment client. Without WithSessionStore or
// WithTokenCache the token lives in process memory.
func NewProvider(cfg Config, opts ...Option) *Provider {
	s := settings{
		httpClient: &http.Client{},
		now:        time.Now,
		l:          zap.L().Named("tbc_provider"),
	}
	for _, o := range opts {
		o(&s)
	}
	if s.cache == nil {
		if s.store == nil {
			s.store = provider.NewMemoryStore()
		}
		s.cache = NewTokenCache(s.store, DefaultNamespace)
	}
	if s.report == nil {
		l := s.l
		s.report = func(ctx context.Context, err error) {
			l.Error("Failed oauth token exchange.", zap.Error(err))
		}
	}

	m := newMetrics()
	c := &client{
		httpClient: s.httpClient,
		baseURL:    cfg.EntrypointURL,
		auditor:    s.auditor,
		m:          m,
		l:          s.l,
	}
	return &Provider{
		cfg: cfg,
		c:   c,
		m:   m,
		tm: &TokenManager{
			cfg:    cfg,
			c:      c,
			cache:  s.cache,
			now:    s.now,
			report: s.report,
			l:      s.l.Named("oauth"),
		},
		l: s.l,
	}
}

type Provider struct {
	cfg Config
	c   *client
	m   *metrics
	tm  *TokenManager
	l   *zap.Logger
}

func (p *Provider) Tokens() *TokenManager {
	return p.tm
}

// Apply submits the cart as an installment application.
//
// ErrNoProducts and ErrPriceMismatch are returned before anything is sent.
// A rejection by the bank, in a success or an error envelope, comes back as
// Application.Result with a nil error.
func (p *Provider) Apply(
	ctx context.Context,
	cart *tbcpay.Ledger,
	invoiceID string,
	priceTotal tbcpay.Amount,
) (*Application, error) {
	if cart == nil || cart.Len() == 0 {
		return nil, tbcpay.ErrNoProducts
	}
	if !cart.ValidateTotal(priceTotal) {
		return nil, errors.Wrapf(tbcpay.ErrPriceMismatch, "cart total %s, got %s", cart.Total(), priceTotal)
	}
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}

	token, err := p.tm.Token(ctx)
	if err != nil {
		return nil, err
	}
	in := &applicationRequest{
		MerchantKey: p.cfg.MerchantKey,
		PriceTotal:  priceTotal,
		CampaignID:  p.cfg.CampaignID,
		InvoiceID:   invoiceID,
		Products:    cart.Items(),
	}
	res, err := p.c.POSTJson(ctx, "apply", applicationsEndpoint, token, in)
	if err != nil {
		return nil, errors.Wrap(err, "Failed http post request")
	}

	result, env, err := normalize(res)
	if err != nil {
		p.l.Warn(
			"apply: bad response from tbc",
			zap.Int("status_code", res.StatusCode),
			zap.ByteString("body", res.Body),
			zap.Error(err),
		)
		return nil, err
	}

	app := &Application{Result: *result}
	if res.success() && env != nil && env.SessionID != "" {
		app.Session = &ApplicationSession{
			InvoiceID:   invoiceID,
			SessionID:   env.SessionID,
			RedirectURI: res.Header.Get("Location"),
		}
	}
	p.l.Info("apply: done",
		zap.String("invoice_id", invoiceID),
		zap.Int("status_code", result.StatusCode),
		zap.Bool("session", app.Session != nil),
	)
	return app, nil
}

// Confirm confirms the application identified by sessionID. The cart and the total
// are not checked again.
func (p *Provider) Confirm(
	ctx context.Context,
	invoiceID string,
	sessionID string,
	priceTotal tbcpay.Amount,
) (*RemoteResult, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	token, err := p.tm.Token(ctx)
	if err != nil {
		return nil, err
	}
	in := &applicationRequest{
		MerchantKey: p.cfg.MerchantKey,
		PriceTotal:  priceTotal,
		CampaignID:  p.cfg.CampaignID,
		InvoiceID:   invoiceID,
	}
	res, err := p.c.POSTJson(ctx, "confirm", sessionPath(applicationConfirmEndpoint, sessionID), token, in)
	if err != nil {
		return nil, errors.Wrap(err, "Failed http post request")
	}
	return p.result("confirm", res)
}

// Cancel cancels the application identified by sessionID.
func (p *Provider) Cancel(ctx context.Context, sessionID string) (*RemoteResult, error) {
	if sessionID == "" {
		return nil, ErrEmptySessionID
	}
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	token, err := p.tm.Token(ctx)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	form.Set("merchantKey", p.cfg.MerchantKey)
	res, err := p.c.POSTForm(ctx, "cancel", sessionPath(applicationCancelEndpoint, sessionID), token, form, map[string]string{
		"merchantKey": p.cfg.MerchantKey,
		"sessionId":   sessionID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "Failed http post request")
	}
	return p.result("cancel", res)
}

func (p *Provider) result(op string, res *response) (*RemoteResult, error) {
	result, _, err := normalize(res)
	if err != nil {
		p.l.Warn(
			op+": bad response from tbc",
			zap.Int("status_code", res.StatusCode),
			zap.ByteString("body", res.Body),
			zap.Error(err),
		)
		return nil, err
	}
	return result, nil
}

// normalize maps a bank response to a RemoteResult.
//
//   - a body with "status" gives {status, detail}, whatever the HTTP code;
//   - a 2xx body without "status", or an empty 2xx body, gives {200, "ok"};
//   - a non-2xx body without "status" gives the HTTP code and detail (or status text);
//   - a body that is not JSON is ErrMalformedResponse.
func normalize(res *response) (*RemoteResult, *envelope, error) {
	if len(bytes.TrimSpace(res.Body)) == 0 {
		if res.success() {
			return &RemoteResult{StatusCode: resultOKCode, Message: resultOKMessage}, nil, nil
		}
		return &RemoteResult{StatusCode: res.StatusCode, Message: http.StatusText(res.StatusCode)}, nil, nil
	}

	var env envelope
	if err := json.Unmarshal(res.Body, &env); err != nil {
		return nil, nil, errors.Wrapf(ErrMalformedResponse, "status code %d: %v", res.StatusCode, err)
	}
	switch {
	case env.Status != nil:
		return &RemoteResult{StatusCode: int(*env.Status), Message: env.Detail}, &env, nil
	case res.success():
		return &RemoteResult{StatusCode: resultOKCode, Message: resultOKMessage}, &env, nil
	default:
		msg := env.Detail
		if msg == "" {
			msg = http.StatusText(res.StatusCode)
		}
		return &RemoteResult{StatusCode: res.StatusCode, Message: msg}, &env, nil
	}
}

func (p *Provider) Describe(ch chan<- *prometheus.Desc) {
	p.m.Describe(ch)
}

func (p *Provider) Collect(ch chan<- prometheus.Metric) {
	p.m.Collect(ch)
}

// check interfaces
var (
	_ prometheus.Collector = (*Provider)(nil)
)
