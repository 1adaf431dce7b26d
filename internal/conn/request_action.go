package conn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tobsdb/chainstore/internal/auth"
)

type RequestAction string

const (
	// rows actions
	RequestActionCreate     RequestAction = "create"
	RequestActionCreateMany RequestAction = "createMany"
	RequestActionFind       RequestAction = "findUnique"
	RequestActionFindMany   RequestAction = "findMany"
	RequestActionCount      RequestAction = "count"
	RequestActionUpdate     RequestAction = "update"
	RequestActionUpsert     RequestAction = "upsert"
	RequestActionDelete     RequestAction = "delete"
	RequestActionDeleteOne  RequestAction = "deleteOne"

	// transaction actions
	RequestActionTransaction       RequestAction = "transaction"
	RequestActionCachedTransaction RequestAction = "cachedTransaction"
	RequestActionCommit            RequestAction = "commit"
	RequestActionRollback          RequestAction = "rollback"

	// chain actions
	RequestActionNewBlock   RequestAction = "newBlock"
	RequestActionClearBlock RequestAction = "clearBlock"

	// schema actions
	RequestActionCreateTables RequestAction = "createTables"
	RequestActionEnsureIndex  RequestAction = "ensureIndex"
)

func (action RequestAction) IsReadOnly() bool {
	return action == RequestActionFind || action == RequestActionFindMany || action == RequestActionCount
}

func (action RequestAction) IsAdminAction() bool {
	switch action {
	default:
		return false
	case RequestActionCreateTables, RequestActionEnsureIndex,
		RequestActionNewBlock, RequestActionClearBlock:
		return true
	}
}

// Clearance is the least privileged role allowed to run action.
func (action RequestAction) Clearance() auth.TdbUserRole {
	if action.IsAdminAction() {
		return auth.TdbUserRoleAdmin
	}
	if action.IsReadOnly() {
		return auth.TdbUserRoleReadOnly
	}
	return auth.TdbUserRoleReadWrite
}

func ActionHandler(ctx context.Context, s *Server, action RequestAction, user *auth.TdbUser, raw []byte) Response {
	if !user.HasClearance(action.Clearance()) {
		return NewErrorResponse(http.StatusForbidden, auth.InsufficientPermissions.Error())
	}

	switch action {
	case RequestActionCreate:
		return CreateReqHandler(ctx, s, raw)
	case RequestActionCreateMany:
		return CreateManyReqHandler(ctx, s, raw)
	case RequestActionFind:
		return FindReqHandler(ctx, s, raw)
	case RequestActionFindMany:
		return FindManyReqHandler(ctx, s, raw)
	case RequestActionCount:
		return CountReqHandler(ctx, s, raw)
	case RequestActionUpdate:
		return UpdateReqHandler(ctx, s, raw)
	case RequestActionUpsert:
		return UpsertReqHandler(ctx, s, raw)
	case RequestActionDelete:
		return DeleteReqHandler(ctx, s, raw)
	case RequestActionDeleteOne:
		return DeleteOneReqHandler(ctx, s, raw)
	case RequestActionTransaction:
		return TransactionReqHandler(ctx, s, raw)
	case RequestActionCachedTransaction:
		return CachedTransactionReqHandler(ctx, s, raw)
	case RequestActionCommit:
		return CommitTransactionReqHandler(ctx, s, raw)
	case RequestActionRollback:
		return RollbackTransactionReqHandler(s, raw)
	case RequestActionNewBlock:
		return NewBlockReqHandler(ctx, s, raw)
	case RequestActionClearBlock:
		return ClearBlockReqHandler(s, raw)
	case RequestActionCreateTables:
		return CreateTablesReqHandler(ctx, s, raw)
	case RequestActionEnsureIndex:
		return EnsureIndexReqHandler(ctx, s, raw)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
}
