package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RequestHandler handles one RPC method call.
type RequestHandler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

type route struct {
	handle RequestHandler
	params *gojsonschema.Schema
}

// RPCRouter dispatches JSON-RPC requests to registered methods.
type RPCRouter struct {
	mu     sync.RWMutex
	routes map[string]route
	replay *replayCache
}

func NewRPCRouter() *RPCRouter {
	return &RPCRouter{
		routes: make(map[string]route),
		replay: newReplayCache(replayCacheSize, replayTTL),
	}
}

// RegisterMethod adds or replaces a method. schema, when not blank, is a JSON
// Schema the params object must satisfy before handler runs.
func (r *RPCRouter) RegisterMethod(name, schema string, handler RequestHandler) error {
	if handler == nil {
		return fmt.Errorf("%s: handler cannot be nil", name)
	}
	rt := route{handle: handler}
	if strings.TrimSpace(schema) != "" {
		s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
		if err != nil {
			return fmt.Errorf("%s: compile params schema: %w", name, err)
		}
		rt.params = s
	}

	r.mu.Lock()
	r.routes[name] = rt
	r.mu.Unlock()
	return nil
}

func (r *RPCRouter) UnregisterMethod(name string) {
	r.mu.Lock()
	delete(r.routes, name)
	r.mu.Unlock()
}

func (r *RPCRouter) lookup(name string) (route, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.routes[name]
	return rt, ok
}

func (r *RPCRouter) HasMethod(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// GetMethods lists the registered method names in sorted order.
func (r *RPCRouter) GetMethods() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.routes))
	for name := range r.routes {
		names = append(names, name)
	}
	r.mu.RUnlock()
	slices.Sort(names)
	return names
}

// ParseRequest decodes one frame. The returned error is always an *RPCError.
func (r *RPCRouter) ParseRequest(data []byte) (*RPCRequest, error) {
	req := new(RPCRequest)
	if err := json.Unmarshal(data, req); err != nil {
		return nil, &RPCError{Code: ParseError, Message: "Parse error", Data: err.Error()}
	}
	switch {
	case req.ID == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing id field"}
	case req.Method == "":
		return nil, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}
	return req, nil
}

// RouteRequest runs req and returns its response. A request repeating the
// method and idempotency key of a recent one gets the earlier response
// under its own id, without calling the handler again.
func (r *RPCRouter) RouteRequest(ctx context.Context, req *RPCRequest) *RPCResponse {
	if req == nil {
		return failure("", &RPCError{Code: InvalidRequest, Message: "invalid request"})
	}

	key := replayKey(req)
	if key != "" {
		if resp, ok := r.replay.lookup(key, req.ID); ok {
			return resp
		}
	}

	resp := r.dispatch(ctx, req)
	if key != "" && !unroutable(resp) {
		r.replay.store(key, resp)
	}
	return resp
}

func (r *RPCRouter) dispatch(ctx context.Context, req *RPCRequest) *RPCResponse {
	rt, ok := r.lookup(req.Method)
	if !ok {
		return failure(req.ID, &RPCError{Code: MethodNotFound, Message: "Method not found: " + req.Method})
	}

	params := req.Params
	if params == nil {
		params = map[string]interface{}{}
	}
	if rpcErr := checkParams(rt.params, params); rpcErr != nil {
		return failure(req.ID, rpcErr)
	}

	result, err := rt.handle(ctx, params)
	if err != nil {
		return failure(req.ID, &RPCError{Code: rpcCode(err), Message: err.Error()})
	}
	return &RPCResponse{ID: req.ID, JSONRPC: "2.0", Result: result}
}

// unroutable reports responses that never reached a handler.
func unroutable(resp *RPCResponse) bool {
	return resp.Error != nil && (resp.Error.Code == MethodNotFound || resp.Error.Code == InvalidParams)
}

func failure(id string, rpcErr *RPCError) *RPCResponse {
	return &RPCResponse{ID: id, JSONRPC: "2.0", Error: rpcErr}
}

func checkParams(schema *gojsonschema.Schema, params map[string]interface{}) *RPCError {
	if schema == nil {
		return nil
	}
	res, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: err.Error()}
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, len(res.Errors()))
	for i, e := range res.Errors() {
		problems[i] = e.String()
	}
	return &RPCError{Code: InvalidParams, Message: "Invalid params", Data: problems}
}
