package tbc

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.opencensus.io/plugin/ochttp"
	"go.opencensus.io/trace"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay/httputils"
	"github.com/gebv/tbcpay/provider"
	"github.com/gebv/tbcpay/services/auditor"
)

const maxBodySize = 1 << 20

// Auditor receives a record of every call made to the bank.
type Auditor interface {
	Log(ctx context.Context, rec auditor.Record, payload interface{})
}

type client struct {
	httpClient *http.Client
	baseURL    string
	auditor    Auditor
	m          *metrics
	l          *zap.Logger
}

type response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *response) success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (c *client) POSTJson(ctx context.Context, op, path, token string, in interface{}) (*response, error) {
	b, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "Failed marshal")
	}
	return c.do(ctx, op, path, token, "application/json", bytes.NewReader(b), in)
}

// POSTForm sends form. auditPayload is what gets recorded instead of the form,
// so credentials never reach the audit log.
func (c *client) POSTForm(ctx context.Context, op, path, token string, form url.Values, auditPayload interface{}) (*response, error) {
	return c.do(ctx, op, path, token, "application/x-www-form-urlencoded", strings.NewReader(form.Encode()), auditPayload)
}

func (c *client) do(
	ctx context.Context,
	op string,
	path string,
	token string,
	contentType string,
	body io.Reader,
	auditPayload interface{},
) (res *response, err error) {
	link := c.baseURL + path
	requestID := httputils.RequestID(ctx)
	ctx, span := trace.StartSpan(ctx, "tbc."+op, trace.WithSpanKind(trace.SpanKindClient))
	span.AddAttributes(
		trace.StringAttribute("operation", op),
		trace.StringAttribute("request_id", requestID),
	)
	start := time.Now()
	defer func() {
		d := time.Since(start)
		code := "error"
		if res != nil {
			code = strconv.Itoa(res.StatusCode)
			span.AddAttributes(trace.Int64Attribute("status_code", int64(res.StatusCode)))
			span.SetStatus(ochttp.TraceStatus(res.StatusCode, http.StatusText(res.StatusCode)))
		}
		if err != nil {
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: err.Error()})
		}
		span.End()
		c.m.requests.WithLabelValues(op, code).Inc()
		c.m.duration.WithLabelValues(op).Observe(d.Seconds())
		if c.auditor != nil {
			rec := auditor.Record{
				Provider:   string(provider.TBC_INSTALLMENT),
				Operation:  op,
				RequestID:  requestID,
				Method:     http.MethodPost,
				URL:        link,
				DurationMS: d.Milliseconds(),
			}
			if res != nil {
				rec.StatusCode = res.StatusCode
			}
			if err != nil {
				rec.Error = err.Error()
			}
			c.auditor.Log(ctx, rec, auditPayload)
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, link, body)
	if err != nil {
		return nil, errors.Wrap(err, "Failed new request")
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(httputils.HeaderRequestID, requestID)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.l.Warn(
			op+": do request",
			zap.String("url", link),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "Failed do request")
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.l.Warn(
			op+": read body",
			zap.String("url", link),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "Failed read all body")
	}
	return &response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       b,
	}, nil
}
