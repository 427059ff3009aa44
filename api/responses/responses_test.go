package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/membership-portal/pkg/errors"
	"github.com/angelmondragon/membership-portal/pkg/logger"
	"github.com/angelmondragon/membership-portal/pkg/types"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	assert.Equal(t, http.StatusCreated, w.Code)
	var body types.SuccessEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "world", body.Data.(map[string]any)["hello"])
}

func TestWriteErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", pkgerrors.New(pkgerrors.CodeValidation, "bad input"), http.StatusBadRequest, "bad input"},
		{"user error", pkgerrors.NewUserError("out_of_stock", "Hoodie", "Hoodie is out of stock"), http.StatusBadRequest, "Hoodie is out of stock"},
		{"conflict", pkgerrors.New(pkgerrors.CodeConflict, "already fulfilled"), http.StatusConflict, "already fulfilled"},
		{"rate limited", pkgerrors.New(pkgerrors.CodeRateLimited, "slow down"), http.StatusTooManyRequests, "slow down"},
		{"dependency", pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("database is locked"), "order placement contention, retry later"), http.StatusServiceUnavailable, "order placement contention, retry later"},
		{"contention", pkgerrors.Wrap(pkgerrors.CodeContention, errors.New("40001"), "place order"), http.StatusConflict, "concurrent update, please retry"},
		{"untyped", errors.New("boom"), http.StatusInternalServerError, "internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), logger.Nop(), w, tc.err)

			assert.Equal(t, tc.status, w.Code)
			var body types.ErrorEnvelope
			require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
			assert.Equal(t, tc.message, body.Error.Message)
		})
	}
}

func TestWriteErrorAsksContendedClientsToRetry(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeContention, "place order"))
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	w = httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeConflict, "already fulfilled"))
	assert.Empty(t, w.Header().Get("Retry-After"))
}

func TestWriteErrorCarriesUserErrorReason(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.NewUserError("insufficient_credits", "", "not enough credits"))

	var body struct {
		Error struct {
			Code    string         `json:"code"`
			Details map[string]any `json:"details"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, string(pkgerrors.CodeUserError), body.Error.Code)
	assert.Equal(t, "insufficient_credits", body.Error.Details["reason"])
}

func TestWriteErrorOmitsInternalDetails(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeInternal, "x").WithDetails(map[string]any{"secret": 1}))

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Nil(t, body.Error.Details)
}

func TestWriteErrorEchoesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	w.Header().Set(RequestIDHeader, "req-123")
	WriteError(context.Background(), nil, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))

	var body types.ErrorEnvelope
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "req-123", body.Error.RequestID)
}
