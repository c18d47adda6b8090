package gateway

import (
	"errors"
	"net/http"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
)

// Fixed response bodies. Raw broker or handler detail never reaches a client
// through these.
const (
	msgUnauthorized       = "unauthorized"
	msgServiceUnavailable = "service unavailable"
	msgInternal           = "internal server error"
	msgInvalidBody        = "invalid request body"
)

// ErrorResponse is the JSON body of every failed gateway request.
type ErrorResponse struct {
	Error string `json:"error"`
	// ID echoes the path identifier of a missing entity.
	ID string `json:"id,omitempty"`
}

// StatusFor maps an RPC outcome to the HTTP status and body returned to the
// client. id is the path identifier of the request, if any.
func StatusFor(err error, id string) (int, ErrorResponse) {
	var rpcErr *rpcerrors.Error
	if !errors.As(err, &rpcErr) {
		return http.StatusInternalServerError, ErrorResponse{Error: msgInternal}
	}

	switch rpcErr.Kind {
	case rpcerrors.KindValidation:
		return http.StatusBadRequest, ErrorResponse{Error: rpcErr.Message}
	case rpcerrors.KindUnauthorized:
		return http.StatusUnauthorized, ErrorResponse{Error: msgUnauthorized}
	case rpcerrors.KindNotFound:
		return http.StatusNotFound, ErrorResponse{Error: rpcErr.Message, ID: id}
	case rpcerrors.KindTimeout:
		return http.StatusGatewayTimeout, ErrorResponse{Error: msgServiceUnavailable}
	case rpcerrors.KindTransport:
		return http.StatusBadGateway, ErrorResponse{Error: msgServiceUnavailable}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: msgInternal}
	}
}
