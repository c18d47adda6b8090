package gateway

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	rpcerrors "github.com/northwind-crm/crmbus/internal/runtime/errors"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		body   ErrorResponse
	}{
		{"validation", rpcerrors.Validation("name is required"), http.StatusBadRequest, ErrorResponse{Error: "name is required"}},
		{"unauthorized", rpcerrors.Unauthorized("token expired at 12:00"), http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"}},
		{"not found", rpcerrors.NotFound("lead", 17), http.StatusNotFound, ErrorResponse{Error: "lead 17 not found", ID: "17"}},
		{"timeout", rpcerrors.New(rpcerrors.KindTimeout, "no reply within 5s"), http.StatusGatewayTimeout, ErrorResponse{Error: "service unavailable"}},
		{"transport", rpcerrors.Wrap(rpcerrors.KindTransport, "publish request", errors.New("dial tcp 10.0.0.3:5672: refused")), http.StatusBadGateway, ErrorResponse{Error: "service unavailable"}},
		{"handler", rpcerrors.Handler("pq: relation leads does not exist"), http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}},
		{"untyped", errors.New("socket closed"), http.StatusInternalServerError, ErrorResponse{Error: "internal server error"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := StatusFor(tc.err, "17")
			assert.Equal(t, tc.status, status)
			if tc.status != http.StatusNotFound {
				tc.body.ID = ""
			}
			assert.Equal(t, tc.body, body)
		})
	}
}
