package tbc

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// FaultReporter is told about failed token exchanges. The default logs them.
type FaultReporter func(ctx context.Context, err error)

// TokenManager supplies a bearer token for calls to the bank, exchanging client
// credentials for a new one when the cache is empty or the cached token is stale.
//
// Concurrent callers in one process share a single exchange per cache key.
// Processes sharing a Redis store may still exchange concurrently; the last
// saved token wins.
type TokenManager struct {
	cfg    Config
	c      *client
	cache  TokenCache
	sfg    singleflight.Group
	now    func() time.Time
	report FaultReporter
	l      *zap.Logger
}

// Token returns the cached token, refreshing it first when needed.
//
// If a refresh fails while an older token is cached, the failure is reported and the
// older token is returned; the bank will reject it and the caller gets that
// rejection as a normal result. If nothing is cached the error is returned.
//
// The shared refresh is not canceled with ctx: callers that joined it keep
// waiting for it. A caller whose ctx is done returns ctx.Err() right away.
func (m *TokenManager) Token(ctx context.Context) (string, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := m.sfg.DoChan(m.cache.Key(), func() (interface{}, error) {
		return m.token(flightCtx)
	})
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *TokenManager) token(ctx context.Context) (string, error) {
	cached, err := m.cache.Load(ctx)
	if err != nil && !errors.Is(err, ErrTokenNotCached) {
		m.l.Warn("token: load cached", zap.String("key", m.cache.Key()), zap.Error(err))
	}
	if cached != nil && !cached.Stale(m.now()) {
		return cached.AccessToken, nil
	}

	tok, err := m.Exchange(ctx)
	if err != nil {
		m.report(ctx, err)
		if cached != nil {
			m.l.Warn("token: refresh failed, using stale token",
				zap.Int64("expires_at", cached.ExpiresAt()),
				zap.Error(err),
			)
			return cached.AccessToken, nil
		}
		return "", err
	}

	if err := m.cache.Save(ctx, tok); err != nil {
		m.l.Warn("token: save", zap.String("key", m.cache.Key()), zap.Error(err))
	}
	return tok.AccessToken, nil
}

// Exchange performs the client-credentials grant. It does not touch the cache.
// Any failure is returned as ErrAuthFailure.
func (m *TokenManager) Exchange(ctx context.Context) (*Token, error) {
	form := url.Values{}
	form.Set("client_id", m.cfg.APIKey)
	form.Set("client_secret", m.cfg.APISecret)
	form.Set("merchant-key", m.cfg.MerchantKey)
	form.Set("grant_type", "client_credentials")
	form.Set("scope", oAuthScope)

	res, err := m.c.POSTForm(ctx, "token", oAuthEndpoint, "", form, map[string]string{
		"grant_type": "client_credentials",
		"scope":      oAuthScope,
	})
	if err != nil {
		m.c.m.exchanges.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %w", ErrAuthFailure, err)
	}
	if !res.success() {
		m.c.m.exchanges.WithLabelValues("rejected").Inc()
		m.l.Warn(
			"token: bad status",
			zap.Int("status_code", res.StatusCode),
			zap.ByteString("body", res.Body),
		)
		return nil, fmt.Errorf("%w: status code %d", ErrAuthFailure, res.StatusCode)
	}

	tok, absent, err := parseTokenResponse(res.Body)
	if err != nil {
		m.c.m.exchanges.WithLabelValues("malformed").Inc()
		m.l.Warn(
			"token: bad unmarshal response from tbc",
			zap.ByteString("body", res.Body),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: unmarshal: %w", ErrAuthFailure, err)
	}
	if len(absent) > 0 {
		m.l.Warn("token: fields absent in response", zap.Strings("fields", absent))
	}
	m.c.m.exchanges.WithLabelValues("ok").Inc()
	m.l.Debug("token: exchanged",
		zap.Int64("issued_at", tok.IssuedAt),
		zap.Int64("expires_in", tok.ExpiresIn),
	)
	return tok, nil
}

// Invalidate drops the cached token so the next call exchanges a new one.
func (m *TokenManager) Invalidate(ctx context.Context) error {
	return m.cache.Clear(ctx)
}

// Cached returns the cached token without refreshing it.
func (m *TokenManager) Cached(ctx context.Context) (*Token, error) {
	return m.cache.Load(ctx)
}
