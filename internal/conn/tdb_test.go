package conn_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/tobsdb/chainstore/internal/auth"
	"github.com/tobsdb/chainstore/internal/builder"
	. "github.com/tobsdb/chainstore/internal/conn"
	"github.com/tobsdb/chainstore/internal/store/memory"
	"github.com/tobsdb/chainstore/internal/store/storetest"
	"gotest.tools/assert"
)

func dial(t *testing.T, srv *httptest.Server, query url.Values) (*websocket.Conn, *http.Response, error) {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/?" + query.Encode()
	return websocket.DefaultDialer.Dial(u, nil)
}

func roundTrip(t *testing.T, c *websocket.Conn, req map[string]any) Response {
	assert.NilError(t, c.WriteJSON(req))
	var res Response
	assert.NilError(t, c.ReadJSON(&res))
	return res
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL + "/health")
	assert.NilError(t, err)
	defer res.Body.Close()
	assert.Equal(t, res.StatusCode, http.StatusOK)
}

func TestRoundTrip(t *testing.T) {
	srv := httptest.NewServer(newTestServer(t).Handler())
	defer srv.Close()

	c, _, err := dial(t, srv, nil)
	assert.NilError(t, err)
	defer c.Close()

	res := roundTrip(t, c, map[string]any{
		"action":                "create",
		"table":                 "counters",
		"data":                  map[string]any{"id": 1, "counter": 1, "meta": map[string]any{"k": "v"}},
		"__tdb_client_req_id__": 7,
	})
	assert.Equal(t, res.Status, http.StatusCreated, res.Message)
	assert.Equal(t, res.ReqId, 7)

	res = roundTrip(t, c, map[string]any{
		"action": "findUnique",
		"table":  "counters",
		"where":  map[string]any{"id": 1},
	})
	assert.Equal(t, res.Status, http.StatusOK, res.Message)
	row := res.Data.(map[string]any)
	assert.Equal(t, row["counter"], float64(1))
	assert.DeepEqual(t, row["meta"], map[string]any{"k": "v"})

	res = roundTrip(t, c, map[string]any{"action": "count", "table": "counters"})
	assert.Equal(t, res.Data, float64(1))

	res = roundTrip(t, c, map[string]any{"action": "dropEverything"})
	assert.Equal(t, res.Status, http.StatusBadRequest)
	assert.Equal(t, res.Message, "unknown action: dropEverything")
}

func TestAuth(t *testing.T) {
	schema, err := builder.NewSchemaFromString(storetest.Schema)
	assert.NilError(t, err)

	admin, err := auth.NewUser("admin", "secret", auth.TdbUserRoleAdmin)
	assert.NilError(t, err)
	reader, err := auth.NewUser("reader", "hunter2", auth.TdbUserRoleReadOnly)
	assert.NilError(t, err)
	users := auth.Users{}
	users.Add(admin)
	users.Add(reader)

	srv := httptest.NewServer(NewServer(memory.New(schema), 2, users).Handler())
	defer srv.Close()

	t.Run("bad credentials", func(t *testing.T) {
		c, res, err := dial(t, srv, url.Values{"username": {"admin"}, "password": {"nope"}})
		assert.NilError(t, err)
		defer c.Close()
		assert.Equal(t, res.Header.Get("tdb-error"), auth.InvalidCredentials.Error())

		_, _, err = c.ReadMessage()
		assert.Assert(t, websocket.IsCloseError(err, websocket.ClosePolicyViolation))
	})

	t.Run("read only user", func(t *testing.T) {
		c, _, err := dial(t, srv, url.Values{"username": {"reader"}, "password": {"hunter2"}})
		assert.NilError(t, err)
		defer c.Close()

		res := roundTrip(t, c, map[string]any{"action": "findMany", "table": "counters"})
		assert.Equal(t, res.Status, http.StatusOK, res.Message)

		res = roundTrip(t, c, map[string]any{"action": "create", "table": "counters", "data": map[string]any{"id": 1, "counter": 1}})
		assert.Equal(t, res.Status, http.StatusForbidden)
		assert.Equal(t, res.Message, auth.InsufficientPermissions.Error())
	})

	t.Run("admin", func(t *testing.T) {
		c, _, err := dial(t, srv, url.Values{"username": {"admin"}, "password": {"secret"}})
		assert.NilError(t, err)
		defer c.Close()

		res := roundTrip(t, c, map[string]any{"action": "newBlock", "block": map[string]any{"number": 3}})
		assert.Equal(t, res.Status, http.StatusOK, res.Message)
	})
}
