package models

import "github.com/golang-jwt/jwt/v5"

// UserRole represents the platform roles carried in access tokens.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleInstructor UserRole = "INSTRUCTOR"
	RoleStudent    UserRole = "STUDENT"
)

// CanManageEvents reports whether the role may write to the event store.
func (r UserRole) CanManageEvents() bool {
	return r == RoleAdmin || r == RoleInstructor
}

// JWTClaims represents the JWT payload for access tokens issued by the auth service.
type JWTClaims struct {
	UserID   string   `json:"user_id"`
	Role     UserRole `json:"role"`
	Email    string   `json:"email"`
	FullName string   `json:"full_name"`
	jwt.RegisteredClaims
}
