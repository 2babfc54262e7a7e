// Package installments exposes the installment lifecycle over HTTP.
package installments

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"

	"github.com/labstack/echo"
	echo_middleware "github.com/labstack/echo/middleware"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/gebv/tbcpay"
	"github.com/gebv/tbcpay/interceptors/auth"
	"github.com/gebv/tbcpay/interceptors/settings"
	"github.com/gebv/tbcpay/provider/tbc"
)

const (
	ApplicationsPath = "/installments/applications"
	ConfirmPath      = ApplicationsPath + "/:sessionID/confirm"
	CancelPath       = ApplicationsPath + "/:sessionID/cancel"
)

// Installments is the bank side of the server. *tbc.Provider implements it.
type Installments interface {
	Apply(ctx context.Context, cart *tbcpay.Ledger, invoiceID string, priceTotal tbcpay.Amount) (*tbc.Application, error)
	Confirm(ctx context.Context, invoiceID, sessionID string, priceTotal tbcpay.Amount) (*tbc.RemoteResult, error)
	Cancel(ctx context.Context, sessionID string) (*tbc.RemoteResult, error)
}

type Config struct {
	AppVersion  string
	AccessToken string
	BodyLimit   string
}

func NewServer(p Installments, cfg Config) *Server {
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "64K"
	}
	return &Server{
		p:   p,
		cfg: cfg,
	}
}

type Server struct {
	p   Installments
	cfg Config
}

// Echo returns a configured echo instance with the installment routes.
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echo_middleware.Recover())
	e.Use(echo_middleware.BodyLimit(s.cfg.BodyLimit))
	e.Use(settings.Middleware(s.cfg.AppVersion))
	e.Use(auth.Middleware(s.cfg.AccessToken))

	s.Register(e)
	return e
}

func (s *Server) Register(e *echo.Echo) {
	e.POST(ApplicationsPath, s.Apply)
	e.POST(ConfirmPath, s.Confirm)
	e.POST(CancelPath, s.Cancel)
}

type ApplyRequest struct {
	InvoiceID  string           `json:"invoiceId"`
	PriceTotal tbcpay.Amount    `json:"priceTotal"`
	Products   []tbcpay.Product `json:"products"`
}

type ConfirmRequest struct {
	InvoiceID  string        `json:"invoiceId"`
	PriceTotal tbcpay.Amount `json:"priceTotal"`
}

type ApplicationResponse struct {
	tbc.RemoteResult
	SessionID   string `json:"session_id,omitempty"`
	RedirectURI string `json:"redirect_uri,omitempty"`
}

func (s *Server) Apply(c echo.Context) error {
	ctx := c.Request().Context()
	var req ApplyRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}

	cart := tbcpay.NewLedger()
	if err := cart.AddItems(req.Products); err != nil {
		return s.httpError(ctx, err)
	}
	app, err := s.p.Apply(ctx, cart, req.InvoiceID, req.PriceTotal)
	if err != nil {
		return s.httpError(ctx, err)
	}

	res := ApplicationResponse{RemoteResult: app.Result}
	if app.Session != nil {
		res.SessionID = app.Session.SessionID
		res.RedirectURI = app.Session.RedirectURI
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) Confirm(c echo.Context) error {
	ctx := c.Request().Context()
	var req ConfirmRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	res, err := s.p.Confirm(ctx, req.InvoiceID, c.Param("sessionID"), req.PriceTotal)
	if err != nil {
		return s.httpError(ctx, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) Cancel(c echo.Context) error {
	ctx := c.Request().Context()
	res, err := s.p.Cancel(ctx, c.Param("sessionID"))
	if err != nil {
		return s.httpError(ctx, err)
	}
	return c.JSON(http.StatusOK, res)
}

// decodeJSON keeps numbers as json.Number so that product prices and quantities
// are validated by the ledger rather than coerced by the decoder.
func decodeJSON(c echo.Context, v interface{}) error {
	body := c.Request().Body
	if body == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Empty body.")
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Failed read body.")
	}
	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON: "+err.Error())
	}
	return nil
}

func (s *Server) httpError(ctx context.Context, err error) error {
	l := settings.GetLogger(ctx)
	switch {
	case errors.Is(err, tbcpay.ErrInvalidProduct),
		errors.Is(err, tbc.ErrEmptySessionID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, tbcpay.ErrNoProducts),
		errors.Is(err, tbcpay.ErrPriceMismatch):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, tbc.ErrProviderNotSet):
		l.Error("Provider is not configured.", zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Installments are not configured.")
	case errors.Is(err, tbc.ErrAuthFailure):
		l.Warn("Failed authenticate at tbc.", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Failed authenticate at bank.")
	default:
		l.Warn("Failed request to tbc.", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "Failed request to bank.")
	}
}
