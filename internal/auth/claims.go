package auth

import "github.com/golang-jwt/jwt/v5"

// Identity is what a token asserts about its bearer.
type Identity struct {
	UserID int64  `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

// Claims are the only supported JWT claims shape for this service.
// Account status is deliberately absent: it is re-read from the directory on every request.
type Claims struct {
	jwt.RegisteredClaims

	UserID int64  `json:"uid"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	Name   string `json:"name"`
}

func (c Claims) Identity() Identity {
	return Identity{UserID: c.UserID, Email: c.Email, Role: c.Role, Name: c.Name}
}
