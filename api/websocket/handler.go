package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/codeloom/collab-server/internal/auth"
	"github.com/codeloom/collab-server/internal/collab"
	apierrors "github.com/codeloom/collab-server/internal/errors"
	"github.com/codeloom/collab-server/internal/logger"
	ws "github.com/codeloom/collab-server/internal/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     ws.CheckOrigin,
}

var (
	errNoCredentials       = errors.New("token or invite required")
	errInviteWrongDocument = errors.New("invite token is for a different document")
)

// GatewayConfig carries the per-connection tunables the gateway needs but
// internal/collab doesn't (outbound queue size, read idle timeout) -
// sourced from internal/config.
type GatewayConfig struct {
	OutboundQueueMax int
	ReadIdleTimeout  time.Duration
}

// WebSocketHandler is the Connection Gateway (C1, spec.md §4.1): it
// authenticates, resolves access, upgrades, and hands the connection to
// the Session Hub, matching the teacher's api/websocket/handler.go
// sequence (bind params -> resolve identity -> check connection caps ->
// upgrade -> register -> spawn pumps) adapted from session/role semantics
// to document/access semantics.
func WebSocketHandler(hub *collab.Hub, store collab.Store, tracker *ws.ConnTracker, cfg GatewayConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var params ConnectParams
		if err := c.ShouldBindQuery(&params); err != nil {
			apierrors.BadRequest(c, "invalid parameters", err)
			return
		}

		if !apierrors.IsValidUUID(params.DocID) {
			apierrors.BadRequest(c, "invalid doc_id format", nil)
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
		defer cancel()

		userID, displayName, access, err := resolveIdentity(ctx, store, params)
		if err != nil {
			apierrors.Unauthorized(c, err.Error())
			return
		}
		if access == collab.AccessNone {
			apierrors.Forbidden(c, "no access to this document")
			return
		}

		ipAddress := c.ClientIP()
		if ok, reason := tracker.CanAccept(userID, ipAddress); !ok {
			apierrors.TooManyRequests(c, reason)
			return
		}

		connID, err := ws.GenerateConnID()
		if err != nil {
			apierrors.InternalError(c, "failed to generate connection id", err)
			return
		}

		rawConn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.ErrorErr(err, "failed to upgrade websocket connection", "doc_id", params.DocID, "ip", ipAddress)
			return
		}

		tracker.Track(userID, ipAddress)

		member := collab.NewMember(connID, userID, displayName, access, cfg.OutboundQueueMax)

		sess, err := hub.Attach(ctx, params.DocID, member)
		if err != nil {
			logger.ErrorErr(err, "failed to attach member to document session", "doc_id", params.DocID, "conn_id", connID)
			tracker.Untrack(userID, ipAddress)
			rawConn.Close()
			return
		}

		room := hub.ChatRoom(params.DocID, false)
		room.Join(member)

		conn := ws.NewConn(rawConn, cfg.ReadIdleTimeout)
		go conn.WritePump(member.Outbox(), member.CloseSignal())

		go func() {
			conn.ReadPump(func(data []byte) {
				dispatchFrame(sess, room, member, data)
			})

			sess.Leave(connID)
			room.Leave(connID)
			tracker.Untrack(userID, ipAddress)
		}()

		logger.Info("websocket connection established",
			"conn_id", connID,
			"doc_id", params.DocID,
			"user_id", userID,
			"access", access,
			"ip", ipAddress,
		)
	}
}

// resolveIdentity authenticates the connecting caller either via bearer
// JWT + a persistence-adapter access lookup, or via a pinned invite token
// (SPEC_FULL.md §5), and returns the access level to join with.
func resolveIdentity(ctx context.Context, store collab.Store, params ConnectParams) (userID, displayName string, access collab.Access, err error) {
	if params.InviteToken != "" {
		claims, ierr := auth.ValidateInviteToken(params.InviteToken)
		if ierr != nil {
			return "", "", collab.AccessNone, ierr
		}
		if claims.DocID != params.DocID {
			return "", "", collab.AccessNone, errInviteWrongDocument
		}

		displayName = params.DisplayName
		if displayName == "" {
			displayName = "Guest"
		}
		return "", displayName, collab.Access(claims.Access), nil
	}

	if params.Token == "" {
		return "", "", collab.AccessNone, errNoCredentials
	}

	claims, jerr := auth.ValidateJWT(params.Token)
	if jerr != nil {
		return "", "", collab.AccessNone, jerr
	}

	lvl, rerr := store.ResolveAccess(ctx, claims.UserID, params.DocID)
	if rerr != nil {
		return "", "", collab.AccessNone, rerr
	}

	displayName = claims.DisplayName
	if displayName == "" {
		displayName = claims.Email
	}
	return claims.UserID, displayName, lvl, nil
}

// dispatchFrame decodes one client frame and forwards it to the document
// session or the chat room, depending on its type discriminator.
func dispatchFrame(sess *collab.DocumentSession, room *collab.ChatRoom, member *collab.Member, data []byte) {
	var env collab.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return
	}

	switch env.Type {
	case collab.TypeOp:
		var p collab.OpPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		sess.SubmitOp(member.ConnID, collab.Operation{
			Kind:        p.Kind,
			Position:    p.Position,
			Text:        p.Text,
			Length:      p.Length,
			BaseVersion: p.BaseVersion,
			ClientID:    member.ConnID,
			ClientOpID:  p.ClientOpID,
			UserID:      member.UserID,
		})

	case collab.TypeCursor:
		var p collab.CursorPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		sess.SubmitCursor(member.ConnID, p.Position)

	case collab.TypeSelection:
		var p collab.SelectionPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		sess.SubmitSelection(member.ConnID, p.Range)

	case collab.TypeLanguage:
		var p collab.LanguagePayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		sess.SubmitLanguage(member.ConnID, p.Language)

	case collab.TypeChatSend:
		var p collab.ChatSendPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		room.Send(member.ConnID, p)

	case collab.TypeChatReact:
		var p collab.ChatReactPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		room.React(member.ConnID, p)

	case collab.TypeChatTyping:
		var p collab.ChatTypingPayload
		if err := env.UnmarshalPayload(&p); err != nil {
			return
		}
		room.Typing(member.ConnID, p.IsTyping)
	}
}
