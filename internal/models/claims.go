package models

import "github.com/golang-jwt/jwt/v5"

// Platform roles carried in access tokens. Buyer and seller are not platform
// roles; they are bound per escrow.
const (
	PlatformRoleUser    = "user"
	PlatformRoleArbiter = "arbiter"
	PlatformRoleAdmin   = "admin"
)

type UserClaims struct {
	jwt.RegisteredClaims
	UserID uint   `json:"user_id"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role"`
}

// IsArbiter reports whether the token grants dispute resolution rights.
func (c *UserClaims) IsArbiter() bool {
	return c.Role == PlatformRoleArbiter || c.Role == PlatformRoleAdmin
}
