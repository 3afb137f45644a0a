package websocket

// ConnectParams are the query-string parameters accepted by the upgrade
// endpoint (spec.md §6, SPEC_FULL.md §5 reconnect-with-invite-token).
type ConnectParams struct {
	DocID       string `form:"doc_id" binding:"required"`
	Token       string `form:"token"`
	InviteToken string `form:"invite"`
	DisplayName string `form:"display_name" binding:"max=100"`
}
