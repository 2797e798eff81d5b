package shared

import "context"

type contextKey string

const identityKey contextKey = "identity"

// Identity describes the resolved caller of an API request.
type Identity struct {
	CompanyID   int64
	KeyID       string
	Permissions Permissions
}

// Permissions is the fixed set of capabilities an API key may carry. One
// boolean per permission keeps the mapping exhaustive at compile time.
type Permissions struct {
	Payments      bool
	Refunds       bool
	Anticipations bool
	Reports       bool
}

// PermissionsFromGrants maps stored grant names onto the Permissions struct.
// Unknown grants are ignored.
func PermissionsFromGrants(grants []string) Permissions {
	var p Permissions
	for _, g := range grants {
		switch g {
		case "payments":
			p.Payments = true
		case "refunds":
			p.Refunds = true
		case "anticipations":
			p.Anticipations = true
		case "reports":
			p.Reports = true
		}
	}
	return p
}

// ContextWithIdentity stores the resolved identity on the request context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the caller identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}
