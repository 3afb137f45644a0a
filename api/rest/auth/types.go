package auth

import "github.com/codeloom/collab-server/internal/storage"

// AuthResponse returned after successful OAuth callback.
type AuthResponse struct {
	User  *storage.User `json:"user"`
	Token string        `json:"token"`
}

// UserResponse wraps user data.
type UserResponse struct {
	User *storage.User `json:"user"`
}

// MessageResponse is a simple success message.
type MessageResponse struct {
	Message string `json:"message"`
}

// UpdateProfileRequest updates the caller's name/avatar.
type UpdateProfileRequest struct {
	Name      string `json:"name" binding:"required,max=100"`
	AvatarURL string `json:"avatar_url" binding:"max=500"`
}
