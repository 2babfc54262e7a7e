package tbc

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// staleMargin is subtracted from the current time before comparing it with the
// token expiry: a token is stale when issuedAt + expiresIn <= now - staleMargin.
const staleMargin = 1000 // seconds

// issuedAt values above this are milliseconds.
const millisThreshold = 100000000000

// Token is an OAuth access token with the values the bank reported for it.
// Missing values are zero, so a token without issued_at or expires_in is stale on
// the next check and gets exchanged again.
type Token struct {
	AccessToken string `json:"access_token"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (t *Token) ExpiresAt() int64 {
	return t.IssuedAt + t.ExpiresIn
}

func (t *Token) Stale(now time.Time) bool {
	return t.ExpiresAt() <= now.Unix()-staleMargin
}

// parseTokenResponse reads access_token, issued_at and expires_in. Fields that are
// missing or not understood are left zero; only a body that is not a JSON object
// is an error. It reports which fields were absent.
func parseTokenResponse(body []byte) (*Token, []string, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, nil, err
	}
	var (
		tok    Token
		absent []string
	)
	if v, ok := raw["access_token"]; !ok || json.Unmarshal(v, &tok.AccessToken) != nil || tok.AccessToken == "" {
		absent = append(absent, "access_token")
	}
	if n, ok := lenientInt(raw["issued_at"]); ok {
		if n > millisThreshold {
			n /= 1000
		}
		tok.IssuedAt = n
	} else {
		absent = append(absent, "issued_at")
	}
	if n, ok := lenientInt(raw["expires_in"]); ok {
		tok.ExpiresIn = n
	} else {
		absent = append(absent, "expires_in")
	}
	return &tok, absent, nil
}

func lenientInt(v json.RawMessage) (int64, bool) {
	if len(v) == 0 {
		return 0, false
	}
	s := string(bytes.Trim(bytes.TrimSpace(v), `"`))
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f), true
	}
	return 0, false
}
