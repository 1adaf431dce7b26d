package conn

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tobsdb/chainstore/internal/auth"
	"github.com/tobsdb/chainstore/internal/blockcache"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/transaction"
	"github.com/tobsdb/chainstore/pkg"
)

// Server exposes a connector over websockets. Reads go through the block
// cache so they see writes still waiting on confirmations.
type Server struct {
	Conn   store.Connector
	Blocks *blockcache.Cache
	Txs    *transaction.Cache
	// empty disables auth
	Users auth.Users
}

func NewServer(conn store.Connector, confirmations int64, users auth.Users) *Server {
	if users == nil {
		users = auth.Users{}
	}
	return &Server{
		Conn:   conn,
		Blocks: blockcache.New(conn, confirmations),
		Txs:    transaction.New(conn),
		Users:  users,
	}
}

func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/", s.HandleConnection)
	return mux
}

// Listen serves handler until SIGINT or SIGTERM, then closes the connector.
func (s *Server) Listen(port int, handler http.Handler) {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: handler,
	}

	go func() {
		err := srv.ListenAndServe()
		if err != http.ErrServerClosed {
			pkg.FatalLog(err)
		}
	}()

	pkg.InfoLog("chainstore listening on port", port)
	<-exit
	pkg.DebugLog("Shutting down...")
	if err := srv.Shutdown(context.Background()); err != nil {
		pkg.ErrorLog("shutting down server", err)
	}
	if n := len(s.Blocks.Pending()); n > 0 {
		pkg.WarnLog("dropping", n, "unconfirmed writes")
	}
	if err := s.Conn.Close(); err != nil {
		pkg.ErrorLog("closing connector", err)
	}
}
