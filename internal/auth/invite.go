package auth

import (
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// InviteClaims is a short-lived, signed invite token that pins a caller to
// a specific document and access level without a round trip to the
// access-control table - SPEC_FULL.md §5's "reconnect-with-invite-token",
// generalized from the teacher's invite-token flow
// (algorave/sessions.InviteToken) into a stateless JWT rather than a
// database row, since this spec has no session/invite REST surface to
// issue and revoke rows against.
type InviteClaims struct {
	DocID  string `json:"docId"`
	Access string `json:"access"`
	jwt.RegisteredClaims
}

// GenerateInviteToken mints an invite good for ttl, pinning access to
// docID.
func GenerateInviteToken(docID, access string, ttl time.Duration) (string, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", fmt.Errorf("JWT_SECRET not set")
	}

	claims := InviteClaims{
		DocID:  docID,
		Access: access,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ValidateInviteToken validates an invite token and returns its pinned
// document id and access level.
func ValidateInviteToken(tokenString string) (*InviteClaims, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("JWT_SECRET not set")
	}

	token, err := jwt.ParseWithClaims(tokenString, &InviteClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*InviteClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, fmt.Errorf("invalid invite token")
}
