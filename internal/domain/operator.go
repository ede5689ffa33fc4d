package domain

import "errors"

// Operator is a back-office identity authenticated on the admin API.
// Issuing credentials is handled outside this service.
type Operator struct {
	ID    string
	Email string
	Role  Role
}

// Role represents an operator's access level
type Role string

const (
	// RoleAdmin may place and release mediation holds and adjust balances
	RoleAdmin Role = "admin"

	// RoleOperator can create payment requests and run reconciliation
	RoleOperator Role = "operator"

	// RoleViewer can only read balances, requests and reports
	RoleViewer Role = "viewer"
)

var roleRank = map[Role]int{
	RoleViewer:   1,
	RoleOperator: 2,
	RoleAdmin:    3,
}

// IsValid checks if the role is a valid role
func (r Role) IsValid() bool {
	_, ok := roleRank[r]
	return ok
}

// Satisfies reports whether r grants at least the access of min.
func (r Role) Satisfies(min Role) bool {
	return r.IsValid() && roleRank[r] >= roleRank[min]
}

// Authentication errors
var (
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidToken     = errors.New("invalid token")
	ErrExpiredToken     = errors.New("token has expired")
	ErrInsufficientRole = errors.New("insufficient role for this operation")
)
