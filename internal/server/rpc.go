package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/playperu/league/internal/protocol"
)

const maxRPCBody = 1 << 20

// RPCFunc handles one JSON-RPC call. Returning a *protocol.Error controls
// the error code; any other error is reported as an internal error.
type RPCFunc func(ctx context.Context, req *protocol.Request) (any, error)

// RPC dispatches JSON-RPC 2.0 requests posted to a single endpoint. Replies
// are always HTTP 200 with the outcome in the JSON-RPC body.
type RPC struct {
	methods map[string]RPCFunc
	logger  *slog.Logger
}

func NewRPC(logger *slog.Logger) *RPC {
	return &RPC{methods: make(map[string]RPCFunc), logger: logger}
}

// Handle registers fn for method. Registration is not safe once serving.
func (s *RPC) Handle(method string, fn RPCFunc) {
	s.methods[method] = fn
}

func (s *RPC) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteError(w, http.StatusMethodNotAllowed, "use POST")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBody)

	var req protocol.Request
	if err := ReadJSON(r, &req); err != nil {
		WriteJSON(w, http.StatusOK, protocol.NewErrorResponse(nil, protocol.Errorf(protocol.CodeParseError, "parse error: %v", err)))
		return
	}
	if err := req.Validate(); err != nil {
		WriteJSON(w, http.StatusOK, protocol.NewErrorResponse(req.ID, err))
		return
	}

	fn, ok := s.methods[req.Method]
	if !ok {
		WriteJSON(w, http.StatusOK, protocol.NewErrorResponse(req.ID, protocol.Errorf(protocol.CodeMethodNotFound, "method %q not found", req.Method)))
		return
	}

	result, err := fn(r.Context(), &req)
	if err != nil {
		var rpcErr *protocol.Error
		if errors.As(err, &rpcErr) {
			s.logger.Warn("rpc call rejected", "method", req.Method, "code", rpcErr.Code, "error", rpcErr.Message)
		} else {
			s.logger.Error("rpc call failed", "method", req.Method, "error", err)
		}
		WriteJSON(w, http.StatusOK, protocol.NewErrorResponse(req.ID, err))
		return
	}

	resp, err := protocol.NewResult(req.ID, result)
	if err != nil {
		s.logger.Error("encoding rpc result", "method", req.Method, "error", err)
		WriteJSON(w, http.StatusOK, protocol.NewErrorResponse(req.ID, err))
		return
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Bind adapts a typed handler. Params are decoded into P; when P embeds a
// protocol.Envelope the envelope is validated before fn runs.
func Bind[P, R any](fn func(ctx context.Context, params *P) (R, error)) RPCFunc {
	return func(ctx context.Context, req *protocol.Request) (any, error) {
		var params P
		if err := req.DecodeParams(&params); err != nil {
			return nil, err
		}
		if msg, ok := any(&params).(protocol.Message); ok {
			if err := msg.Header().Validate(); err != nil {
				return nil, protocol.Errorf(protocol.CodeInvalidParams, "%v", err)
			}
		}
		return fn(ctx, &params)
	}
}
