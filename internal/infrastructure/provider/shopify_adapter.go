package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/channelsync/engine/internal/domain/channel"
)

// Constants for the Shopify admin API
const (
	// maxShopifyResponseSize limits the response body size to prevent memory exhaustion
	maxShopifyResponseSize = 10 * 1024 * 1024 // 10MB max response
	// shopifyPageSize is the page size requested from the listing feed
	shopifyPageSize = 100
)

// ErrUnknownWebhookTopic is returned for webhook payloads the adapter
// cannot translate into a sync kind.
var ErrUnknownWebhookTopic = errors.New("shopify: unknown webhook topic")

// ShopifyAdapter implements the ProviderAdapter port against the Shopify
// admin API. It is the reference marketplace adapter: full import/export,
// cursor paging and webhook translation.
type ShopifyAdapter struct {
	config     *ShopifyConfig
	oauth      *oauth2.Config
	httpClient *http.Client
}

// NewShopifyAdapter creates a new Shopify adapter with the given configuration
func NewShopifyAdapter(config *ShopifyConfig) (*ShopifyAdapter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &ShopifyAdapter{
		config: config,
		oauth:  config.OAuth(),
		httpClient: &http.Client{
			Timeout: time.Duration(config.TimeoutSeconds) * time.Second,
		},
	}, nil
}

// Provider returns the provider code this adapter handles
func (a *ShopifyAdapter) Provider() channel.ProviderCode {
	return channel.ProviderShopify
}

// Capabilities declares the sync directions this provider supports
func (a *ShopifyAdapter) Capabilities() channel.AdapterCapabilities {
	return channel.AdapterCapabilities{
		Import:       true,
		Export:       true,
		ChangeCursor: true,
		Webhooks:     true,
	}
}

// ---------------------------------------------------------------------------
// Authorization
// ---------------------------------------------------------------------------

// Authorize exchanges the consent-flow code for a credential bundle.
func (a *ShopifyAdapter) Authorize(ctx context.Context, init channel.AuthInit) (*channel.CredentialBundle, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)

	opts := []oauth2.AuthCodeOption{}
	if init.RedirectURI != "" {
		opts = append(opts, oauth2.SetAuthURLParam("redirect_uri", init.RedirectURI))
	}
	if init.ShopDomain != "" {
		opts = append(opts, oauth2.SetAuthURLParam("shop", init.ShopDomain))
	}

	token, err := a.oauth.Exchange(ctx, init.Code, opts...)
	if err != nil {
		return nil, a.classifyOAuthError(err)
	}

	return a.bundleFromToken(token, init.ShopDomain, nil), nil
}

// Refresh rotates an expiring bundle through the token endpoint.
func (a *ShopifyAdapter) Refresh(ctx context.Context, bundle *channel.CredentialBundle) (*channel.CredentialBundle, error) {
	if !bundle.Refreshable() {
		return nil, channel.ErrRefreshDenied
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	token, err := a.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: bundle.RefreshToken}).Token()
	if err != nil {
		return nil, a.classifyOAuthError(err)
	}

	rotated := a.bundleFromToken(token, bundle.AccountID, bundle)
	return rotated, nil
}

// Revoke invalidates the credential on the provider side
func (a *ShopifyAdapter) Revoke(ctx context.Context, bundle *channel.CredentialBundle) error {
	_, _, err := a.doRequest(ctx, bundle, http.MethodDelete, "/admin/api_permissions/current.json", nil, nil)
	return err
}

// bundleFromToken normalizes an oauth2 token into a credential bundle,
// keeping material the token response omits (refresh token, extras) from
// the previous bundle.
func (a *ShopifyAdapter) bundleFromToken(token *oauth2.Token, accountID string, prev *channel.CredentialBundle) *channel.CredentialBundle {
	bundle := &channel.CredentialBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		ExpiresAt:    token.Expiry,
		AccountID:    accountID,
	}
	if prev != nil {
		if bundle.RefreshToken == "" {
			bundle.RefreshToken = prev.RefreshToken
		}
		bundle.Scopes = prev.Scopes
		bundle.Extra = prev.Extra
	}
	return bundle
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// ListRemoteRecords pages through the shop's combined listing feed.
func (a *ShopifyAdapter) ListRemoteRecords(ctx context.Context, bundle *channel.CredentialBundle, cursor string) ([]channel.RemoteRecord, string, error) {
	query := url.Values{}
	query.Set("limit", fmt.Sprintf("%d", shopifyPageSize))
	if cursor != "" {
		query.Set("cursor", cursor)
	}

	body, _, err := a.doRequest(ctx, bundle, http.MethodGet, "/admin/listings.json?"+query.Encode(), nil, nil)
	if err != nil {
		return nil, "", err
	}

	var resp shopifyListingsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, "", fmt.Errorf("shopify: failed to parse listing feed: %w", err)
	}

	records := make([]channel.RemoteRecord, 0, len(resp.Listings))
	for _, item := range resp.Listings {
		records = append(records, a.convertListing(&item))
	}
	return records, resp.NextCursor, nil
}

// convertListing converts a wire listing into the normalized record shape
func (a *ShopifyAdapter) convertListing(item *shopifyListing) channel.RemoteRecord {
	checksum := item.Checksum
	if checksum == "" {
		// Older API versions carry no content hash; derive it locally so
		// the diff works either way.
		checksum = channel.RemoteChecksum(item.InventoryQuantity, item.Price, item.Status)
	}
	return channel.RemoteRecord{
		ExternalID:     item.ID,
		NaturalKey:     item.SKU,
		Kind:           mapShopifyKind(item.Kind),
		LastModifiedAt: item.UpdatedAt,
		Stock:          item.InventoryQuantity,
		Price:          item.Price,
		Status:         item.Status,
		Checksum:       checksum,
	}
}

// ApplyRemoteMutation applies one idempotent write to the shop. The
// mutation's token travels in the Idempotency-Key header; a replayed token
// is acknowledged as a duplicate, never double-applied.
func (a *ShopifyAdapter) ApplyRemoteMutation(ctx context.Context, bundle *channel.CredentialBundle, mutation channel.RemoteMutation) (*channel.Ack, error) {
	reqBody := shopifyListingRequest{
		Listing: shopifyListingPayload{
			SKU:               mutation.NaturalKey,
			Kind:              mapToShopifyKind(mutation.Kind),
			InventoryQuantity: mutation.Stock,
			Price:             mutation.Price,
			Status:            mutation.Status,
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("shopify: failed to marshal mutation: %w", err)
	}

	method := http.MethodPost
	path := "/admin/listings.json"
	if mutation.Op == channel.MutationOpUpdate {
		method = http.MethodPut
		path = "/admin/listings/" + url.PathEscape(mutation.ExternalID) + ".json"
	}

	headers := map[string]string{headerIdempotencyKey: mutation.IdempotencyToken}
	body, respHeader, err := a.doRequest(ctx, bundle, method, path, payload, headers)
	if err != nil {
		return nil, err
	}

	var envelope shopifyListingEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("shopify: failed to parse mutation response: %w", err)
	}

	ack := &channel.Ack{
		ExternalID: mutation.ExternalID,
		Duplicate:  respHeader.Get(headerIdempotentReplay) == "true",
	}
	if envelope.Listing != nil && envelope.Listing.ID != "" {
		ack.ExternalID = envelope.Listing.ID
	}
	return ack, nil
}

// ---------------------------------------------------------------------------
// Webhooks
// ---------------------------------------------------------------------------

// ParseWebhook translates a webhook payload into the sync kind it should
// trigger.
func (a *ShopifyAdapter) ParseWebhook(payload []byte) (channel.SyncKind, error) {
	var hook shopifyWebhook
	if err := json.Unmarshal(payload, &hook); err != nil {
		return "", fmt.Errorf("shopify: failed to parse webhook payload: %w", err)
	}

	switch hook.Topic {
	case "inventory_levels/update", "inventory_levels/connect":
		return channel.SyncKindStock, nil
	case "orders/create", "orders/updated", "orders/paid", "orders/fulfilled", "orders/cancelled":
		return channel.SyncKindOrder, nil
	case "products/create", "products/update", "products/delete":
		return channel.SyncKindImport, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownWebhookTopic, hook.Topic)
	}
}

// ---------------------------------------------------------------------------
// Internal Helpers
// ---------------------------------------------------------------------------

// doRequest performs an authenticated HTTP request against the admin API
func (a *ShopifyAdapter) doRequest(ctx context.Context, bundle *channel.CredentialBundle, method, path string, payload []byte, headers map[string]string) ([]byte, http.Header, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.config.APIBase+path, reqBody)
	if err != nil {
		return nil, nil, fmt.Errorf("shopify: failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+bundle.AccessToken)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", channel.ErrTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxShopifyResponseSize))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", channel.ErrTransient, err)
	}

	if resp.StatusCode >= 400 {
		return nil, nil, a.classifyStatus(resp.StatusCode, body)
	}
	return body, resp.Header, nil
}

// classifyStatus maps an admin API error response onto the engine's error
// taxonomy.
func (a *ShopifyAdapter) classifyStatus(status int, body []byte) error {
	msg := fmt.Sprintf("HTTP %d", status)
	var errResp shopifyErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Errors != "" {
		msg = fmt.Sprintf("HTTP %d: %s", status, errResp.Errors)
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", channel.ErrAuthExpired, msg)
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", channel.ErrRateLimited, msg)
	case status >= 400 && status < 500:
		return fmt.Errorf("%w: %s", channel.ErrValidation, msg)
	default:
		return fmt.Errorf("%w: %s", channel.ErrTransient, msg)
	}
}

// classifyOAuthError maps token endpoint failures. A definitive rejection
// of the grant is a refresh denial; everything else is worth retrying.
func (a *ShopifyAdapter) classifyOAuthError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", channel.ErrRefreshDenied, err)
		}
	}
	return fmt.Errorf("%w: %v", channel.ErrTransient, err)
}

// Ensure ShopifyAdapter implements the ProviderAdapter interface
var _ channel.ProviderAdapter = (*ShopifyAdapter)(nil)
