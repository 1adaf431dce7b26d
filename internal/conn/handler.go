package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/tobsdb/chainstore/internal/blockcache"
	"github.com/tobsdb/chainstore/internal/builder"
	"github.com/tobsdb/chainstore/internal/query"
	"github.com/tobsdb/chainstore/internal/store"
	"github.com/tobsdb/chainstore/internal/transaction"
	"github.com/tobsdb/chainstore/internal/types"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__tdb_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

func errorResponse(err error) Response {
	if errors.Is(err, transaction.ErrUnknownTransaction) {
		return NewErrorResponse(http.StatusNotFound, err.Error())
	}
	return NewErrorResponse(types.StatusOf(err), err.Error())
}

func badRequest(err error) Response {
	return NewErrorResponse(http.StatusBadRequest, err.Error())
}

// Writes carrying a block are routed through the block cache and land once
// the block is confirmed. Without one they hit the connector directly.
type blockArg struct {
	Block *blockcache.BlockRef `json:"block"`
}

type CreateRequest struct {
	blockArg
	Table string      `json:"table"`
	Data  builder.Row `json:"data"`
}

func CreateReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req CreateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	var row builder.Row
	var err error
	if req.Block != nil {
		row, err = s.Blocks.Create(ctx, *req.Block, req.Table, req.Data)
	} else {
		row, err = s.Conn.Create(ctx, req.Table, req.Data)
	}
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusCreated, fmt.Sprintf("Created new row in table %s", req.Table), row)
}

type CreateManyRequest struct {
	blockArg
	Table string        `json:"table"`
	Data  []builder.Row `json:"data"`
}

func CreateManyReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req CreateManyRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	var rows []builder.Row
	var err error
	if req.Block != nil {
		rows, err = s.Blocks.CreateMany(ctx, *req.Block, req.Table, req.Data)
	} else {
		rows, err = s.Conn.CreateMany(ctx, req.Table, req.Data)
	}
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusCreated,
		fmt.Sprintf("Created %d new rows in table %s", len(rows), req.Table), rows)
}

type FindRequest struct {
	Table string `json:"table"`
	store.FindArgs
}

func FindReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req FindRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	row, err := s.Blocks.FindOne(ctx, req.Table, req.FindArgs)
	if err != nil {
		return errorResponse(err)
	}
	if row == nil {
		return NewErrorResponse(http.StatusNotFound, fmt.Sprintf("No row found in table %s", req.Table))
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Found row in table %s", req.Table), row)
}

func FindManyReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req FindRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	rows, err := s.Blocks.FindMany(ctx, req.Table, req.FindArgs)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Found %d rows in table %s", len(rows), req.Table), rows)
}

type CountRequest struct {
	Table string      `json:"table"`
	Where query.Where `json:"where"`
}

func CountReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req CountRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	n, err := s.Blocks.Count(ctx, req.Table, req.Where)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Counted %d rows in table %s", n, req.Table), n)
}

type UpdateRequest struct {
	blockArg
	Table string `json:"table"`
	store.UpdateArgs
}

func UpdateReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req UpdateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	var n int
	var err error
	if req.Block != nil {
		n, err = s.Blocks.Update(ctx, *req.Block, req.Table, req.UpdateArgs)
	} else {
		n, err = s.Conn.Update(ctx, req.Table, req.UpdateArgs)
	}
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Updated %d rows in table %s", n, req.Table), n)
}

type UpsertRequest struct {
	blockArg
	Table string `json:"table"`
	store.UpsertArgs
}

func UpsertReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req UpsertRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	var res *store.UpsertResult
	var err error
	if req.Block != nil {
		res, err = s.Blocks.Upsert(ctx, *req.Block, req.Table, req.UpsertArgs)
	} else {
		res, err = s.Conn.Upsert(ctx, req.Table, req.UpsertArgs)
	}
	if err != nil {
		return errorResponse(err)
	}
	if res.Created != nil {
		return NewResponse(http.StatusCreated, fmt.Sprintf("Created new row in table %s", req.Table), res)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Updated %d rows in table %s", res.Updated, req.Table), res)
}

type DeleteRequest struct {
	blockArg
	Table string `json:"table"`
	store.DeleteArgs
}

func DeleteReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req DeleteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	return deleteRows(ctx, s, req)
}

func DeleteOneReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req DeleteRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	req.Limit = 1
	return deleteRows(ctx, s, req)
}

func deleteRows(ctx context.Context, s *Server, req DeleteRequest) Response {
	var n int
	var err error
	if req.Block != nil {
		n, err = s.Blocks.Delete(ctx, *req.Block, req.Table, req.DeleteArgs)
	} else {
		n, err = s.Conn.Delete(ctx, req.Table, req.DeleteArgs)
	}
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Deleted %d rows in table %s", n, req.Table), n)
}

type TransactionRequest struct {
	blockArg
	Ops []store.Op `json:"ops"`
}

func TransactionReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req TransactionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	push := func(tx *store.Tx) error {
		for _, op := range req.Ops {
			if err := tx.Push(op); err != nil {
				return err
			}
		}
		return nil
	}

	var err error
	if req.Block != nil {
		err = s.Blocks.Transaction(ctx, *req.Block, push)
	} else {
		err = s.Conn.Transaction(ctx, push)
	}
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Applied %d operations", len(req.Ops)), len(req.Ops))
}

// CachedTransactionReqHandler stages the ops in a new snapshot frame. The
// frame id in the response is what commit and rollback take.
func CachedTransactionReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req TransactionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	id, err := s.Txs.CachedTransaction(ctx, func(tx *transaction.CachedTx) error {
		for _, op := range req.Ops {
			if err := op.Apply(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusCreated, fmt.Sprintf("Staged %d operations", len(req.Ops)), id.String())
}

type TransactionIdRequest struct {
	Id string `json:"id"`
}

func parseTransactionId(raw []byte) (uuid.UUID, error) {
	var req TransactionIdRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return uuid.Nil, err
	}
	return uuid.Parse(req.Id)
}

func CommitTransactionReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	id, err := parseTransactionId(raw)
	if err != nil {
		return badRequest(err)
	}
	if err := s.Txs.CommitTransaction(ctx, id); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Committed transaction %s", id), nil)
}

func RollbackTransactionReqHandler(s *Server, raw []byte) Response {
	id, err := parseTransactionId(raw)
	if err != nil {
		return badRequest(err)
	}
	if err := s.Txs.RollbackTransaction(id); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Rolled back transaction %s", id), nil)
}

type BlockRequest struct {
	Block blockcache.BlockRef `json:"block"`
}

func NewBlockReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req BlockRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	n := s.Blocks.NewBlock(ctx, req.Block.Number)
	return NewResponse(http.StatusOK, fmt.Sprintf("Flushed %d pending writes", n), n)
}

func ClearBlockReqHandler(s *Server, raw []byte) Response {
	var req BlockRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	n := s.Blocks.ClearChangesForBlockHash(req.Block.Hash)
	return NewResponse(http.StatusOK, fmt.Sprintf("Cleared %d pending writes", n), n)
}

type CreateTablesRequest struct {
	Data json.RawMessage `json:"data"`
}

func CreateTablesReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req CreateTablesRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}

	tables, err := builder.ParseDeclaration(req.Data)
	if err != nil {
		return errorResponse(err)
	}
	if err := s.Conn.CreateTables(ctx, tables); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusCreated, fmt.Sprintf("Created %d tables", len(tables)), nil)
}

type EnsureIndexRequest struct {
	Table string   `json:"table"`
	Name  string   `json:"name"`
	Keys  []string `json:"keys"`
}

func EnsureIndexReqHandler(ctx context.Context, s *Server, raw []byte) Response {
	var req EnsureIndexRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return badRequest(err)
	}
	if err := s.Conn.EnsureIndex(ctx, req.Table, req.Name, req.Keys); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusCreated, fmt.Sprintf("Ensured index %s on table %s", req.Name, req.Table), nil)
}
