package websocket

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"os"
	"slices"
	"strings"

	"github.com/codeloom/collab-server/internal/logger"
)

func allowedOrigins() []string {
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		origins := strings.Split(raw, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		return origins
	}
	return []string{}
}

// CheckOrigin is the gorilla/websocket Upgrader.CheckOrigin callback: open
// in development, allowlisted in production (matches the teacher's
// internal/websocket/utils.go exactly).
func CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	env := os.Getenv("ENVIRONMENT")

	if origin == "" {
		if env != "production" {
			return true
		}
		logger.Warn("websocket connection with no origin header")
		return false
	}

	if env != "production" {
		return true
	}

	allowed := allowedOrigins()
	if len(allowed) == 0 {
		logger.Warn("websocket origin rejected - ALLOWED_ORIGINS not configured", "origin", origin)
		return false
	}

	if slices.Contains(allowed, origin) {
		return true
	}

	logger.Warn("websocket origin rejected - not in allowed origins", "origin", origin, "allowed_origins", allowed)
	return false
}

// GenerateConnID returns a random hex connection id, used as the
// collab.Member ConnID (one per socket, not per user).
func GenerateConnID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
