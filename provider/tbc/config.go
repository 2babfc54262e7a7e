package tbc

import (
	"strings"

	"github.com/pkg/errors"
)

const (
	ProductionURL = "https://api.tbcbank.ge"
	TestURL       = "https://test-api.tbcbank.ge"

	EnvProduction = "production"
	EnvTesting    = "testing"
)

const (
	oAuthEndpoint              = "/oauth/token"
	applicationsEndpoint       = "/v1/online-installments/applications"
	applicationConfirmEndpoint = "/v1/online-installments/applications/{session-id}/confirm"
	applicationCancelEndpoint  = "/v1/online-installments/applications/{session-id}/cancel"

	sessionIDPlaceholder = "{session-id}"
	oAuthScope           = "online_installments"
)

// BaseURLFor returns the bank host for the environment. Anything but
// "production" selects the test host.
func BaseURLFor(environment string) string {
	if environment == EnvProduction {
		return ProductionURL
	}
	return TestURL
}

type Config struct {
	EntrypointURL string
	APIKey        string
	APISecret     string
	MerchantKey   string
	CampaignID    string
}

// Validate returns ErrProviderNotSet naming the missing values.
func (c Config) Validate() error {
	var missing []string
	if c.EntrypointURL == "" {
		missing = append(missing, "entrypoint url")
	}
	if c.APIKey == "" {
		missing = append(missing, "api key")
	}
	if c.APISecret == "" {
		missing = append(missing, "api secret")
	}
	if c.MerchantKey == "" {
		missing = append(missing, "merchant key")
	}
	if len(missing) > 0 {
		return errors.Wrapf(ErrProviderNotSet, "missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func sessionPath(template, sessionID string) string {
	return strings.Replace(template, sessionIDPlaceholder, sessionID, 1)
}
