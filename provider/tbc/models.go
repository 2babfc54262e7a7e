package tbc

import (
	"bytes"
	"strconv"

	"github.com/gebv/tbcpay"
)

const (
	resultOKCode    = 200
	resultOKMessage = "ok"
)

// RemoteResult is the normalized outcome of apply, confirm and cancel.
// A rejection by the bank (credit declined, limit exceeded) is a RemoteResult,
// not an error.
type RemoteResult struct {
	StatusCode int    `json:"status_code"`
	Message    string `json:"message"`
}

func (r RemoteResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// ApplicationSession is issued by the bank for a created application.
// Callers keep SessionID to confirm or cancel later.
type ApplicationSession struct {
	InvoiceID   string `json:"invoice_id"`
	SessionID   string `json:"session_id"`
	RedirectURI string `json:"redirect_uri"`
}

// Application is the result of Apply. Session is nil when the bank did not
// return a session id.
type Application struct {
	Result  RemoteResult        `json:"result"`
	Session *ApplicationSession `json:"session,omitempty"`
}

type applicationRequest struct {
	MerchantKey string            `json:"merchantKey"`
	PriceTotal  tbcpay.Amount     `json:"priceTotal"`
	CampaignID  string            `json:"campaignId"`
	InvoiceID   string            `json:"invoiceId"`
	Products    []tbcpay.LineItem `json:"products,omitempty"`
}

// envelope holds the fields read from any bank response body.
type envelope struct {
	Status    *flexInt `json:"status"`
	Detail    string   `json:"detail"`
	SessionID string   `json:"sessionId"`
}

// flexInt accepts 400 as well as "400".
type flexInt int64

func (v *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(string(b), 64)
		if ferr != nil {
			return err
		}
		n = int64(fl)
	}
	*v = flexInt(n)
	return nil
}
