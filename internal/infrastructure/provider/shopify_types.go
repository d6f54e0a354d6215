package provider

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/channelsync/engine/internal/domain/channel"
)

// Header names of the admin API's idempotency protocol.
const (
	// headerIdempotencyKey carries the mutation's idempotency token
	headerIdempotencyKey = "Idempotency-Key"
	// headerIdempotentReplay is set by the provider when a write with the
	// same token was already applied
	headerIdempotentReplay = "Idempotent-Replayed"
)

// shopifyListing is one syncable record as the admin API reports it.
type shopifyListing struct {
	// ID is the provider-side identifier
	ID string `json:"id"`
	// SKU is the merchant-defined stock keeping unit
	SKU string `json:"sku"`
	// Kind distinguishes listings from orders in the combined feed
	Kind string `json:"kind"`
	// InventoryQuantity is the available stock
	InventoryQuantity decimal.Decimal `json:"inventory_quantity"`
	Price             decimal.Decimal `json:"price"`
	Status            string          `json:"status"`
	UpdatedAt         time.Time       `json:"updated_at"`
	// Checksum is the provider's content hash; empty for older API versions
	Checksum string `json:"checksum,omitempty"`
}

// shopifyListingsResponse is the paged listing feed.
type shopifyListingsResponse struct {
	Listings []shopifyListing `json:"listings"`
	// NextCursor is empty on the last page
	NextCursor string `json:"next_cursor"`
}

// shopifyListingEnvelope wraps a single listing in mutation responses.
type shopifyListingEnvelope struct {
	Listing *shopifyListing `json:"listing"`
}

// shopifyListingRequest is the write shape of a create or update.
type shopifyListingRequest struct {
	Listing shopifyListingPayload `json:"listing"`
}

type shopifyListingPayload struct {
	SKU               string          `json:"sku,omitempty"`
	Kind              string          `json:"kind,omitempty"`
	InventoryQuantity decimal.Decimal `json:"inventory_quantity"`
	Price             decimal.Decimal `json:"price"`
	Status            string          `json:"status,omitempty"`
}

// shopifyErrorResponse is the admin API's error envelope.
type shopifyErrorResponse struct {
	Errors string `json:"errors"`
}

// shopifyWebhook is the notification payload pushed on shop-side changes.
type shopifyWebhook struct {
	Topic string `json:"topic"`
}

// Wire values of the listing kind field.
const (
	shopifyKindListing = "listing"
	shopifyKindProduct = "product"
	shopifyKindOrder   = "order"
)

// mapShopifyKind maps the wire kind onto the engine's record kinds
func mapShopifyKind(kind string) channel.RecordKind {
	switch kind {
	case shopifyKindOrder:
		return channel.RecordKindOrder
	case shopifyKindProduct:
		return channel.RecordKindProduct
	default:
		return channel.RecordKindListing
	}
}

// mapToShopifyKind maps an engine record kind onto the wire value
func mapToShopifyKind(kind channel.RecordKind) string {
	switch kind {
	case channel.RecordKindOrder:
		return shopifyKindOrder
	case channel.RecordKindProduct:
		return shopifyKindProduct
	default:
		return shopifyKindListing
	}
}
