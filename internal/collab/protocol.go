package collab

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire message type discriminators (spec.md §6).
const (
	TypePing            = "ping"
	TypePong            = "pong"
	TypeOp              = "op"
	TypeCursor          = "cursor"
	TypeSelection       = "selection"
	TypeLanguage        = "language"
	TypeChatSend        = "chat.send"
	TypeChatReact       = "chat.react"
	TypeChatTyping      = "chat.typing"
	TypeDocumentState   = "document-state"
	TypeAck             = "ack"
	TypeRemoteOp        = "remote-op"
	TypeCursorMove      = "cursor-move"
	TypeSelectionChange = "selection-change"
	TypeUserJoined      = "user-joined"
	TypeUserLeft        = "user-left"
	TypeLanguageChange  = "language-change"
	TypeChatMessage     = "chat.message"
	TypeChatReaction    = "chat.reaction"
	TypeError           = "error"
)

// Envelope is the single JSON object every WebSocket frame carries, keyed
// by its Type discriminator - the teacher's envelope+payload convention,
// carried over unchanged (internal/websocket/types.go in the teacher).
type Envelope struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"-"`
	UserID    string          `json:"userId,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload and wraps it in an Envelope ready to send.
func NewEnvelope(msgType, userID string, payload any) (*Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		raw = b
	}

	return &Envelope{
		Type:      msgType,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   raw,
	}, nil
}

// UnmarshalPayload decodes the envelope's payload into dst.
func (e *Envelope) UnmarshalPayload(dst any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, dst)
}

// Encode marshals the envelope to bytes ready for the socket.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// --- client -> server payloads ---

type OpPayload struct {
	Kind        OpKind `json:"kind"`
	Position    int    `json:"position"`
	Text        string `json:"text,omitempty"`
	Length      int    `json:"length,omitempty"`
	BaseVersion int    `json:"baseVersion"`
	ClientOpID  string `json:"clientOpId"`
}

type CursorPayload struct {
	Position CursorPos `json:"position"`
}

type SelectionPayload struct {
	Range SelectionRange `json:"range"`
}

type LanguagePayload struct {
	Language string `json:"language"`
}

type ChatSendPayload struct {
	Content       string   `json:"content"`
	Mentions      []string `json:"mentions,omitempty"`
	IsCodeSnippet bool     `json:"isCodeSnippet,omitempty"`
	CodeLanguage  string   `json:"codeLanguage,omitempty"`
	ClientID      string   `json:"clientId,omitempty"`
}

type ChatReactPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

type ChatTypingPayload struct {
	IsTyping bool `json:"isTyping"`
}

// --- server -> client payloads ---

type UserInfo struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Color       string `json:"color"`
	Access      Access `json:"access"`
}

type DocumentStatePayload struct {
	Content    string     `json:"content"`
	Version    int        `json:"version"`
	Language   string     `json:"language"`
	Users      []UserInfo `json:"users"`
	YourColor  string     `json:"yourColor"`
	YourConnID string     `json:"yourConnId"`
}

type AckPayload struct {
	ClientOpID    string `json:"clientOpId"`
	ServerVersion int    `json:"serverVersion"`
}

type RemoteOpPayload struct {
	Kind     OpKind `json:"kind"`
	Position int    `json:"position"`
	Text     string `json:"text,omitempty"`
	Length   int    `json:"length,omitempty"`
	Version  int    `json:"version"`
	UserID   string `json:"userId"`
}

type CursorMovePayload struct {
	UserID   string    `json:"userId"`
	Position CursorPos `json:"position"`
}

type SelectionChangePayload struct {
	UserID string         `json:"userId"`
	Range  SelectionRange `json:"range"`
}

type UserJoinedPayload struct {
	User UserInfo `json:"user"`
}

type UserLeftPayload struct {
	UserID string `json:"userId"`
}

type LanguageChangePayload struct {
	Language string `json:"language"`
	UserID   string `json:"userId"`
}

type ChatMessagePayload struct {
	ID            string          `json:"id"`
	UserID        string          `json:"userId"`
	DisplayName   string          `json:"displayName"`
	Content       string          `json:"content"`
	Timestamp     time.Time       `json:"timestamp"`
	IsCodeSnippet bool            `json:"isCodeSnippet,omitempty"`
	CodeLanguage  string          `json:"codeLanguage,omitempty"`
	Mentions      []string        `json:"mentions,omitempty"`
	Reactions     map[string]int  `json:"reactions,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
}

type ChatReactionPayload struct {
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
	UserID    string `json:"userId"`
	Added     bool   `json:"added"`
}

type ChatTypingBroadcastPayload struct {
	UserID   string `json:"userId"`
	IsTyping bool   `json:"isTyping"`
}

type ErrorPayload struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter *int   `json:"retryAfter,omitempty"`
}
