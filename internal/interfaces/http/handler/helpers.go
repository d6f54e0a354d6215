package handler

import (
	"strings"

	"github.com/channelsync/engine/internal/domain/channel"
)

// providerCode converts a raw request string into a provider code. Codes are
// case-insensitive on the wire; validity is checked downstream where the
// adapter is resolved.
func providerCode(s string) channel.ProviderCode {
	return channel.ProviderCode(strings.ToUpper(s))
}

// syncKind converts a raw request string into a sync kind
func syncKind(s string) channel.SyncKind {
	return channel.SyncKind(s)
}
