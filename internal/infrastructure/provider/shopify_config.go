package provider

import (
	"errors"

	"golang.org/x/oauth2"

	"github.com/channelsync/engine/internal/infrastructure/config"
)

// ShopifyConfig holds the OAuth client and API settings for the Shopify
// adapter.
type ShopifyConfig struct {
	// ClientID is the app's API key from the Shopify partner dashboard
	ClientID string
	// ClientSecret is the app's shared secret
	ClientSecret string
	// AuthURL is the authorization endpoint of the consent flow
	AuthURL string
	// TokenURL is the token exchange and refresh endpoint
	TokenURL string
	// APIBase is the base URL of the admin API
	APIBase string
	// TimeoutSeconds is the HTTP request timeout
	TimeoutSeconds int
}

// Errors for Shopify configuration
var (
	ErrShopifyConfigMissingClientID     = errors.New("shopify: client ID is required")
	ErrShopifyConfigMissingClientSecret = errors.New("shopify: client secret is required")
	ErrShopifyConfigMissingAPIBase      = errors.New("shopify: API base URL is required")
	ErrShopifyConfigMissingTokenURL     = errors.New("shopify: token URL is required")
)

// NewShopifyConfig builds an adapter config from the loaded provider
// credentials.
func NewShopifyConfig(creds config.ProviderCredentials) *ShopifyConfig {
	return &ShopifyConfig{
		ClientID:       creds.ClientID,
		ClientSecret:   creds.ClientSecret,
		AuthURL:        creds.AuthURL,
		TokenURL:       creds.TokenURL,
		APIBase:        creds.APIBase,
		TimeoutSeconds: 30,
	}
}

// Validate validates the Shopify configuration
func (c *ShopifyConfig) Validate() error {
	if c.ClientID == "" {
		return ErrShopifyConfigMissingClientID
	}
	if c.ClientSecret == "" {
		return ErrShopifyConfigMissingClientSecret
	}
	if c.TokenURL == "" {
		return ErrShopifyConfigMissingTokenURL
	}
	if c.APIBase == "" {
		return ErrShopifyConfigMissingAPIBase
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 30
	}
	return nil
}

// OAuth returns the oauth2 client configuration used for token exchange
// and refresh.
func (c *ShopifyConfig) OAuth() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:   c.AuthURL,
			TokenURL:  c.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}
