package auth

import "github.com/golang-jwt/jwt/v5"

// Role scopes what an operator token may do.
type Role string

const (
	// RoleOperator may adjust stock and move orders through their lifecycle.
	RoleOperator Role = "operator"
	// RoleAuditor may only read.
	RoleAuditor Role = "auditor"
)

func (r Role) IsValid() bool {
	return r == RoleOperator || r == RoleAuditor
}

// OperatorTokenPayload is what gets minted into a token. Subject becomes
// performed_by on stock log rows.
type OperatorTokenPayload struct {
	Subject string
	Role    Role
	JTI     string
}

// OperatorClaims is the typed JWT carried by admin requests.
type OperatorClaims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}
