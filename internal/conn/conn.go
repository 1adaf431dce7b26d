package conn

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/tobsdb/chainstore/internal/auth"
	"github.com/tobsdb/chainstore/pkg"
)

type WsRequest struct {
	Action RequestAction `json:"action"`
	ReqId  int           `json:"__tdb_client_req_id__"` // used in tdb clients
}

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Credentials are read from basic auth, falling back to the username and
// password query params.
func credentials(r *http.Request) (string, string) {
	if name, password, ok := r.BasicAuth(); ok {
		return name, password
	}
	q := r.URL.Query()
	return q.Get("username"), q.Get("password")
}

func (s *Server) authenticate(r *http.Request) (*auth.TdbUser, error) {
	if len(s.Users) == 0 {
		return nil, nil
	}
	return s.Users.Validate(credentials(r))
}

func (s *Server) HandleConnection(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		ConnError(w, r, err.Error())
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.ErrorLog("upgrading connection", err)
		return
	}
	defer conn.Close()

	log := pkg.WithFields(logrus.Fields{"remote": conn.RemoteAddr().String()})
	if user != nil {
		log = log.WithField("user", user.Name)
	}
	log.Info("new connection")
	defer log.Info("connection closed")

	ctx := NewConnCtx(conn, user)
	for {
		buf, err := ctx.Read()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Error("conn read error")
			}
			return
		}

		var req WsRequest
		if err := json.Unmarshal(buf, &req); err != nil {
			log.WithError(err).Warn("parsing request")
			if err := ctx.WriteResponse(badRequest(err)); err != nil {
				return
			}
			continue
		}

		res := ActionHandler(r.Context(), s, req.Action, ctx.User, buf)
		res.ReqId = req.ReqId
		log.WithFields(logrus.Fields{"action": req.Action, "status": res.Status}).Debug("handled request")

		if err := ctx.WriteResponse(res); err != nil {
			log.WithError(err).Error("writing response")
			return
		}
	}
}

func ConnError(w http.ResponseWriter, r *http.Request, conn_error string) {
	pkg.InfoLog("connection error:", conn_error)
	headers := http.Header{}
	headers.Set("tdb-error", conn_error)
	conn, err := Upgrader.Upgrade(w, r, headers)
	if err != nil {
		pkg.ErrorLog(err)
		return
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, conn_error))
	conn.Close()
}
