package tbc

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/gebv/tbcpay/provider"
)

// DefaultNamespace is the session store key holding the cached token.
const DefaultNamespace = "tbc-installment"

var ErrTokenNotCached = errors.New("token not cached")

// TokenCache keeps the current access token. The token is saved as a whole, so
// value, issue time and lifetime always change together.
type TokenCache interface {
	Key() string
	Load(ctx context.Context) (*Token, error)
	Save(ctx context.Context, t *Token) error
	Clear(ctx context.Context) error
}

// NewTokenCache stores the token under namespace in s.
// An empty namespace means DefaultNamespace.
func NewTokenCache(s provider.SessionStore, namespace string) *StoreTokenCache {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &StoreTokenCache{s: s, key: namespace}
}

type StoreTokenCache struct {
	s   provider.SessionStore
	key string
}

func (c *StoreTokenCache) Key() string {
	return c.key
}

func (c *StoreTokenCache) Load(ctx context.Context) (*Token, error) {
	b, err := c.s.Get(ctx, c.key)
	if err != nil {
		if errors.Is(err, provider.ErrNotFound) {
			return nil, ErrTokenNotCached
		}
		return nil, errors.Wrap(err, "Failed load token")
	}
	var t Token
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, errors.Wrap(err, "Failed unmarshal cached token")
	}
	return &t, nil
}

func (c *StoreTokenCache) Save(ctx context.Context, t *Token) error {
	b, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "Failed marshal token")
	}
	return errors.Wrap(c.s.Set(ctx, c.key, b, 0), "Failed save token")
}

func (c *StoreTokenCache) Clear(ctx context.Context) error {
	return errors.Wrap(c.s.Delete(ctx, c.key), "Failed clear token")
}

var _ TokenCache = (*StoreTokenCache)(nil)
