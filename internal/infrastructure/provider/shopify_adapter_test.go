package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/channelsync/engine/internal/domain/channel"
	"github.com/channelsync/engine/internal/infrastructure/config"
)

// ---------------------------------------------------------------------------
// Config Tests
// ---------------------------------------------------------------------------

func TestShopifyConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *ShopifyConfig
		wantErr error
	}{
		{
			name: "valid config",
			config: &ShopifyConfig{
				ClientID:     "client",
				ClientSecret: "secret",
				TokenURL:     "https://shop.example/oauth/token",
				APIBase:      "https://shop.example",
			},
			wantErr: nil,
		},
		{
			name: "missing client ID",
			config: &ShopifyConfig{
				ClientSecret: "secret",
				TokenURL:     "https://shop.example/oauth/token",
				APIBase:      "https://shop.example",
			},
			wantErr: ErrShopifyConfigMissingClientID,
		},
		{
			name: "missing client secret",
			config: &ShopifyConfig{
				ClientID: "client",
				TokenURL: "https://shop.example/oauth/token",
				APIBase:  "https://shop.example",
			},
			wantErr: ErrShopifyConfigMissingClientSecret,
		},
		{
			name: "missing token URL",
			config: &ShopifyConfig{
				ClientID:     "client",
				ClientSecret: "secret",
				APIBase:      "https://shop.example",
			},
			wantErr: ErrShopifyConfigMissingTokenURL,
		},
		{
			name: "missing API base",
			config: &ShopifyConfig{
				ClientID:     "client",
				ClientSecret: "secret",
				TokenURL:     "https://shop.example/oauth/token",
			},
			wantErr: ErrShopifyConfigMissingAPIBase,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
				assert.True(t, tt.config.TimeoutSeconds > 0)
			}
		})
	}
}

func TestNewShopifyConfig(t *testing.T) {
	cfg := NewShopifyConfig(config.ProviderCredentials{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      "https://shop.example/oauth/authorize",
		TokenURL:     "https://shop.example/oauth/token",
		APIBase:      "https://shop.example",
	})
	assert.Equal(t, "client", cfg.ClientID)
	assert.Equal(t, "https://shop.example", cfg.APIBase)
	assert.Equal(t, 30, cfg.TimeoutSeconds)
}

// ---------------------------------------------------------------------------
// Adapter Tests
// ---------------------------------------------------------------------------

func newTestShopifyAdapter(t *testing.T, serverURL string) *ShopifyAdapter {
	t.Helper()
	adapter, err := NewShopifyAdapter(&ShopifyConfig{
		ClientID:     "client",
		ClientSecret: "secret",
		AuthURL:      serverURL + "/oauth/authorize",
		TokenURL:     serverURL + "/oauth/token",
		APIBase:      serverURL,
	})
	require.NoError(t, err)
	return adapter
}

func testBundle() *channel.CredentialBundle {
	return &channel.CredentialBundle{
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		TokenType:    "Bearer",
		AccountID:    "demo-shop.example",
	}
}

func TestNewShopifyAdapter(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		adapter := newTestShopifyAdapter(t, "https://shop.example")
		assert.Equal(t, channel.ProviderShopify, adapter.Provider())
	})

	t.Run("invalid config", func(t *testing.T) {
		adapter, err := NewShopifyAdapter(&ShopifyConfig{})
		assert.Error(t, err)
		assert.Nil(t, adapter)
	})
}

func TestShopifyAdapter_Capabilities(t *testing.T) {
	adapter := newTestShopifyAdapter(t, "https://shop.example")
	caps := adapter.Capabilities()
	assert.True(t, caps.Import)
	assert.True(t, caps.Export)
	assert.True(t, caps.ChangeCursor)
	assert.True(t, caps.Webhooks)
}

// ---------------------------------------------------------------------------
// Authorization Tests
// ---------------------------------------------------------------------------

func TestShopifyAdapter_Authorize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth/token", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "auth-code", r.Form.Get("code"))
		assert.Equal(t, "demo-shop.example", r.Form.Get("shop"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "fresh-access",
			"refresh_token": "fresh-refresh",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer server.Close()

	adapter := newTestShopifyAdapter(t, server.URL)
	bundle, err := adapter.Authorize(context.Background(), channel.AuthInit{
		Code:       "auth-code",
		ShopDomain: "demo-shop.example",
	})

	require.NoError(t, err)
	assert.Equal(t, "fresh-access", bundle.AccessToken)
	assert.Equal(t, "fresh-refresh", bundle.RefreshToken)
	assert.Equal(t, "demo-shop.example", bundle.AccountID)
	assert.True(t, bundle.ExpiresAt.After(time.Now()))
}

func TestShopifyAdapter_Refresh(t *testing.T) {
	t.Run("rotates token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
			assert.Equal(t, "refresh-token", r.Form.Get("refresh_token"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{
				"access_token": "rotated-access",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		rotated, err := adapter.Refresh(context.Background(), testBundle())

		require.NoError(t, err)
		assert.Equal(t, "rotated-access", rotated.AccessToken)
		assert.Equal(t, "refresh-token", rotated.RefreshToken, "omitted refresh token is carried over")
		assert.Equal(t, "demo-shop.example", rotated.AccountID)
	})

	t.Run("no refresh token", func(t *testing.T) {
		adapter := newTestShopifyAdapter(t, "https://unused.example")
		bundle := testBundle()
		bundle.RefreshToken = ""

		_, err := adapter.Refresh(context.Background(), bundle)
		assert.ErrorIs(t, err, channel.ErrRefreshDenied)
	})

	t.Run("provider rejects the grant", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{"error": "invalid_grant"})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		_, err := adapter.Refresh(context.Background(), testBundle())
		assert.ErrorIs(t, err, channel.ErrRefreshDenied)
	})

	t.Run("token endpoint outage is retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		_, err := adapter.Refresh(context.Background(), testBundle())
		assert.ErrorIs(t, err, channel.ErrTransient)
	})
}

// ---------------------------------------------------------------------------
// Record Feed Tests
// ---------------------------------------------------------------------------

func TestShopifyAdapter_ListRemoteRecords(t *testing.T) {
	t.Run("converts a page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/admin/listings.json", r.URL.Path)
			assert.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
			assert.Equal(t, "opaque-cursor", r.URL.Query().Get("cursor"))

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(shopifyListingsResponse{
				Listings: []shopifyListing{
					{
						ID:                "gid-1",
						SKU:               "SKU-1",
						Kind:              shopifyKindListing,
						InventoryQuantity: decimal.NewFromInt(12),
						Price:             decimal.RequireFromString("19.90"),
						Status:            "active",
						UpdatedAt:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
						Checksum:          "provider-checksum",
					},
					{
						ID:                "gid-2",
						SKU:               "SKU-2",
						Kind:              shopifyKindOrder,
						InventoryQuantity: decimal.NewFromInt(1),
						Price:             decimal.RequireFromString("5.00"),
						Status:            "fulfilled",
					},
				},
				NextCursor: "next-page",
			})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		records, next, err := adapter.ListRemoteRecords(context.Background(), testBundle(), "opaque-cursor")

		require.NoError(t, err)
		assert.Equal(t, "next-page", next)
		require.Len(t, records, 2)

		assert.Equal(t, "gid-1", records[0].ExternalID)
		assert.Equal(t, "SKU-1", records[0].NaturalKey)
		assert.Equal(t, channel.RecordKindListing, records[0].Kind)
		assert.Equal(t, "provider-checksum", records[0].Checksum)

		assert.Equal(t, channel.RecordKindOrder, records[1].Kind)
		// No provider checksum: derived locally from the syncable fields.
		assert.Equal(t,
			channel.RemoteChecksum(decimal.NewFromInt(1), decimal.RequireFromString("5.00"), "fulfilled"),
			records[1].Checksum,
		)
	})

	t.Run("last page has no cursor", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(shopifyListingsResponse{Listings: []shopifyListing{}})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		records, next, err := adapter.ListRemoteRecords(context.Background(), testBundle(), "")

		require.NoError(t, err)
		assert.Empty(t, records)
		assert.Empty(t, next)
	})
}

// ---------------------------------------------------------------------------
// Mutation Tests
// ---------------------------------------------------------------------------

func TestShopifyAdapter_ApplyRemoteMutation(t *testing.T) {
	t.Run("create", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPost, r.Method)
			require.Equal(t, "/admin/listings.json", r.URL.Path)
			assert.Equal(t, "token-123", r.Header.Get(headerIdempotencyKey))

			var req shopifyListingRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "SKU-9", req.Listing.SKU)

			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(shopifyListingEnvelope{
				Listing: &shopifyListing{ID: "gid-new"},
			})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		ack, err := adapter.ApplyRemoteMutation(context.Background(), testBundle(), channel.RemoteMutation{
			Op:               channel.MutationOpCreate,
			Kind:             channel.RecordKindListing,
			NaturalKey:       "SKU-9",
			Stock:            decimal.NewFromInt(3),
			Price:            decimal.RequireFromString("9.99"),
			Status:           "active",
			IdempotencyToken: "token-123",
		})

		require.NoError(t, err)
		assert.Equal(t, "gid-new", ack.ExternalID, "create acknowledges the assigned id")
		assert.False(t, ack.Duplicate)
	})

	t.Run("update", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, http.MethodPut, r.Method)
			require.Equal(t, "/admin/listings/gid-7.json", r.URL.Path)
			json.NewEncoder(w).Encode(shopifyListingEnvelope{
				Listing: &shopifyListing{ID: "gid-7"},
			})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		ack, err := adapter.ApplyRemoteMutation(context.Background(), testBundle(), channel.RemoteMutation{
			Op:               channel.MutationOpUpdate,
			ExternalID:       "gid-7",
			Stock:            decimal.NewFromInt(5),
			Price:            decimal.RequireFromString("12.00"),
			IdempotencyToken: "token-456",
		})

		require.NoError(t, err)
		assert.Equal(t, "gid-7", ack.ExternalID)
	})

	t.Run("replayed token is a duplicate", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set(headerIdempotentReplay, "true")
			json.NewEncoder(w).Encode(shopifyListingEnvelope{
				Listing: &shopifyListing{ID: "gid-7"},
			})
		}))
		defer server.Close()

		adapter := newTestShopifyAdapter(t, server.URL)
		ack, err := adapter.ApplyRemoteMutation(context.Background(), testBundle(), channel.RemoteMutation{
			Op:               channel.MutationOpUpdate,
			ExternalID:       "gid-7",
			IdempotencyToken: "token-456",
		})

		require.NoError(t, err)
		assert.True(t, ack.Duplicate)
	})
}

// ---------------------------------------------------------------------------
// Error Classification Tests
// ---------------------------------------------------------------------------

func TestShopifyAdapter_ErrorClassification(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, `{"errors":"invalid token"}`, channel.ErrAuthExpired},
		{"forbidden", http.StatusForbidden, `{"errors":"scope missing"}`, channel.ErrAuthExpired},
		{"throttled", http.StatusTooManyRequests, `{"errors":"exceeded 2 calls per second"}`, channel.ErrRateLimited},
		{"unprocessable", http.StatusUnprocessableEntity, `{"errors":"price must be positive"}`, channel.ErrValidation},
		{"server error", http.StatusInternalServerError, ``, channel.ErrTransient},
		{"bad gateway", http.StatusBadGateway, ``, channel.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			adapter := newTestShopifyAdapter(t, server.URL)
			_, _, err := adapter.ListRemoteRecords(context.Background(), testBundle(), "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// ---------------------------------------------------------------------------
// Webhook Tests
// ---------------------------------------------------------------------------

func TestShopifyAdapter_ParseWebhook(t *testing.T) {
	adapter := newTestShopifyAdapter(t, "https://shop.example")

	tests := []struct {
		topic string
		want  channel.SyncKind
	}{
		{"inventory_levels/update", channel.SyncKindStock},
		{"orders/create", channel.SyncKindOrder},
		{"orders/fulfilled", channel.SyncKindOrder},
		{"products/update", channel.SyncKindImport},
	}

	for _, tt := range tests {
		t.Run(tt.topic, func(t *testing.T) {
			kind, err := adapter.ParseWebhook([]byte(`{"topic":"` + tt.topic + `"}`))
			require.NoError(t, err)
			assert.Equal(t, tt.want, kind)
		})
	}

	t.Run("unknown topic", func(t *testing.T) {
		_, err := adapter.ParseWebhook([]byte(`{"topic":"customers/create"}`))
		assert.ErrorIs(t, err, ErrUnknownWebhookTopic)
	})

	t.Run("malformed payload", func(t *testing.T) {
		_, err := adapter.ParseWebhook([]byte(`not-json`))
		assert.Error(t, err)
	})
}
