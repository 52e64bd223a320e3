// Package tenancy scopes a request to the authenticated provider.
package tenancy

import "context"

type ctxKey string

const providerKey ctxKey = "booking.provider_id"

// WithProviderID stores the authenticated provider id in context.
func WithProviderID(ctx context.Context, providerID string) context.Context {
	return context.WithValue(ctx, providerKey, providerID)
}

// ProviderIDFromContext extracts the provider id if present.
func ProviderIDFromContext(ctx context.Context) (string, bool) {
	providerID, ok := ctx.Value(providerKey).(string)
	return providerID, ok && providerID != ""
}
