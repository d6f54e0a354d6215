package channel

// ---------------------------------------------------------------------------
// ProviderCode
// ---------------------------------------------------------------------------

// ProviderCode identifies one external system a tenant can connect.
type ProviderCode string

const (
	// ProviderShopify is the Shopify marketplace
	ProviderShopify ProviderCode = "SHOPIFY"
	// ProviderEtsy is the Etsy marketplace
	ProviderEtsy ProviderCode = "ETSY"
	// ProviderFacebook is the Facebook commerce / social publishing endpoint
	ProviderFacebook ProviderCode = "FACEBOOK"
	// ProviderQuickBooks is the QuickBooks Online accounting system
	ProviderQuickBooks ProviderCode = "QUICKBOOKS"
	// ProviderXero is the Xero accounting system
	ProviderXero ProviderCode = "XERO"
)

// IsValid returns true if the provider code is known
func (c ProviderCode) IsValid() bool {
	switch c {
	case ProviderShopify, ProviderEtsy, ProviderFacebook, ProviderQuickBooks, ProviderXero:
		return true
	default:
		return false
	}
}

// String returns the string representation of ProviderCode
func (c ProviderCode) String() string {
	return string(c)
}

// Category returns the broad provider category used for display grouping
func (c ProviderCode) Category() ProviderCategory {
	switch c {
	case ProviderShopify, ProviderEtsy:
		return ProviderCategoryMarketplace
	case ProviderFacebook:
		return ProviderCategorySocial
	case ProviderQuickBooks, ProviderXero:
		return ProviderCategoryAccounting
	default:
		return ProviderCategoryUnknown
	}
}

// ProviderCategory is the broad class of an external system
type ProviderCategory string

const (
	ProviderCategoryMarketplace ProviderCategory = "MARKETPLACE"
	ProviderCategorySocial      ProviderCategory = "SOCIAL"
	ProviderCategoryAccounting  ProviderCategory = "ACCOUNTING"
	ProviderCategoryUnknown     ProviderCategory = "UNKNOWN"
)

// ---------------------------------------------------------------------------
// SyncKind
// ---------------------------------------------------------------------------

// SyncKind is the unit of synchronization work a job performs.
type SyncKind string

const (
	// SyncKindImport pulls remote catalog entities into internal state
	SyncKindImport SyncKind = "import"
	// SyncKindExport pushes internal catalog entities to the provider
	SyncKindExport SyncKind = "export"
	// SyncKindStock reconciles stock quantities in both directions
	SyncKindStock SyncKind = "stock-sync"
	// SyncKindOrder pulls order and fulfillment status from the provider
	SyncKindOrder SyncKind = "order-sync"
)

// IsValid returns true if the sync kind is known
func (k SyncKind) IsValid() bool {
	switch k {
	case SyncKindImport, SyncKindExport, SyncKindStock, SyncKindOrder:
		return true
	default:
		return false
	}
}

// String returns the string representation of SyncKind
func (k SyncKind) String() string {
	return string(k)
}
