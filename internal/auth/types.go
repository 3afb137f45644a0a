package auth

import (
	"github.com/golang-jwt/jwt/v5"
)

// represents JWT claims carried by a bearer token
type Claims struct {
	UserID      string `json:"user_id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	jwt.RegisteredClaims
}
