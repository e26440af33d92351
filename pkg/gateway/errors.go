package gateway

import (
	"errors"
	"net/http"

	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/agent"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/conversation"
	"github.com/SiddharthChillale/cloud-operations-reasoning-agent/pkg/store"
	"github.com/labstack/echo/v4"
)

// httpStatus maps a domain error to its HTTP status code.
func httpStatus(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrConversationBusy):
		return http.StatusConflict
	case errors.Is(err, store.ErrStorageUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, conversation.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// rpcCode maps a domain error to its JSON-RPC error code.
func rpcCode(err error) int {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr.Code
	case errors.Is(err, store.ErrNotFound):
		return NotFound
	case errors.Is(err, agent.ErrConversationBusy):
		return ConversationBusy
	case errors.Is(err, store.ErrStorageUnavailable):
		return StorageError
	case errors.Is(err, conversation.ErrInvalidArgument):
		return InvalidParams
	default:
		return InternalError
	}
}
