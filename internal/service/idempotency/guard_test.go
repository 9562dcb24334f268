package idempotency

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/eshop/internal/domain"
	"github.com/vladislavdragonenkov/eshop/internal/storage/memory"
)

func TestHashRequest(t *testing.T) {
	a := HashRequest("POST /orders", []byte(`{"a":1}`))
	require.Len(t, a, 64)
	require.Equal(t, a, HashRequest("POST /orders", []byte(`{"a":1}`)))
	require.NotEqual(t, a, HashRequest("POST /orders", []byte(`{"a":2}`)))
	require.NotEqual(t, a, HashRequest("POST /other", []byte(`{"a":1}`)))
}

func TestGuard_ReplaysStoredResponse(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())

	var calls atomic.Int32
	handler := func(context.Context) Response {
		calls.Add(1)
		return Response{Code: http.StatusCreated, Body: []byte(`{"uid":"o-1"}`), OrderUID: "o-1"}
	}

	first, err := guard.Execute(ctx, "key-1", "hash", handler)
	require.NoError(t, err)
	require.False(t, first.Replayed)
	require.Equal(t, http.StatusCreated, first.Code)

	second, err := guard.Execute(ctx, "key-1", "hash", handler)
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, http.StatusCreated, second.Code)
	require.JSONEq(t, `{"uid":"o-1"}`, string(second.Body))
	require.Equal(t, "o-1", second.OrderUID)
	require.Equal(t, int32(1), calls.Load())
}

func TestGuard_ReplaysFailure(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository())

	failing := func(context.Context) Response {
		return Response{Code: http.StatusConflict, Body: []byte(`{"error":"insufficient_stock"}`), Failed: true}
	}
	_, err := guard.Execute(ctx, "key-2", "hash", failing)
	require.NoError(t, err)

	resp, err := guard.Execute(ctx, "key-2", "hash", func(context.Context) Response {
		t.Fatal("handler must not run on replay")
		return Response{}
	})
	require.NoError(t, err)
	require.True(t, resp.Failed)
	require.True(t, resp.Replayed)
	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestGuard_Conflicts(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewIdempotencyRepository()
	guard := NewGuard(repo)

	_, err := guard.Execute(ctx, " ", "hash", nil)
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.Claim(ctx, "busy", "hash", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = guard.Execute(ctx, "busy", "hash", nil)
	require.ErrorIs(t, err, ErrInProgress)

	_, err = guard.Execute(ctx, "busy", "other-hash", nil)
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
}

func TestGuard_ExpiredKeyRunsAgain(t *testing.T) {
	ctx := context.Background()
	guard := NewGuard(memory.NewIdempotencyRepository(), WithTTL(time.Millisecond))

	var calls atomic.Int32
	handler := func(context.Context) Response {
		calls.Add(1)
		return Response{Code: http.StatusOK}
	}

	_, err := guard.Execute(ctx, "short", "hash", handler)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	resp, err := guard.Execute(ctx, "short", "hash", handler)
	require.NoError(t, err)
	require.False(t, resp.Replayed)
	require.Equal(t, int32(2), calls.Load())
}
