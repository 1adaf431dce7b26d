package conn

import (
	"github.com/gorilla/websocket"
	"github.com/tobsdb/chainstore/internal/auth"
)

type ConnCtx struct {
	conn *websocket.Conn
	// nil when the server runs without auth
	User *auth.TdbUser
}

func NewConnCtx(c *websocket.Conn, user *auth.TdbUser) *ConnCtx {
	return &ConnCtx{c, user}
}

func (ctx *ConnCtx) Read() ([]byte, error) {
	_, buf, err := ctx.conn.ReadMessage()
	return buf, err
}

func (ctx *ConnCtx) WriteResponse(r Response) error { return ctx.conn.WriteJSON(r) }
