package auth

import "time"

// APIKey is a stored credential pair. The secret is kept as a bcrypt hash.
type APIKey struct {
	ID         int64
	CompanyID  int64
	KeyID      string
	SecretHash string
	Grants     []string
	Active     bool
	CreatedAt  time.Time
}
