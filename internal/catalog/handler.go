// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"
)

const maxRequestBytes = 1 << 20

// Request is the body of POST /api.
type Request struct {
	Operation string          `json:"operation"`
	Variables json.RawMessage `json:"variables,omitempty"`
}

// Response is the body returned by POST /api. Exactly one of Data and Errors is set.
type Response struct {
	Data   any             `json:"data"`
	Errors []ResponseError `json:"errors,omitempty"`
}

type ResponseError struct {
	Message    string     `json:"message"`
	Extensions Extensions `json:"extensions"`
}

type Extensions struct {
	Code  Kind   `json:"code"`
	Field string `json:"field,omitempty"`
}

type Handler struct {
	dispatcher *Dispatcher
	log        zerolog.Logger
}

func NewHandler(dispatcher *Dispatcher, log zerolog.Logger) *Handler {
	return &Handler{dispatcher: dispatcher, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, &Error{Kind: KindBadUserInput, Message: "invalid request body", Err: err})
		return
	}
	if req.Operation == "" {
		h.writeError(w, r, badInput("", "operation", "operation is required"))
		return
	}

	out, err := h.dispatcher.Dispatch(r.Context(), req.Operation, req.Variables)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.write(w, http.StatusOK, Response{Data: out})
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := ResponseError{Message: "internal error", Extensions: Extensions{Code: KindInternal}}
	if ce, ok := err.(*Error); ok {
		resp.Message = ce.Message
		resp.Extensions = Extensions{Code: ce.Kind, Field: ce.Field}
	}

	status := StatusFor(resp.Extensions.Code)
	event := h.log.Debug()
	if status >= http.StatusInternalServerError {
		event = h.log.Error()
	}
	event.Err(err).Str("path", r.URL.Path).Str("code", string(resp.Extensions.Code)).Msg("operation failed")

	h.write(w, status, Response{Errors: []ResponseError{resp}})
}

func (h *Handler) write(w http.ResponseWriter, status int, body Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("write response")
	}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind Kind) int {
	switch kind {
	case KindBadUserInput:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
