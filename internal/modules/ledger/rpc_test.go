package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropchain/internal/types"
)

func newTestServer(t *testing.T, handler func(req rpcRequest) (int, any)) *RPCClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "2.0", req.JSONRPC)
		assert.NotEmpty(t, req.ID)
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return NewRPCClient(srv.URL, nil)
}

func TestCreateDecodesReceipt(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		assert.Equal(t, MethodCreate, req.Method)
		require.Len(t, req.Params, 1)
		p := req.Params[0].(map[string]any)
		assert.Equal(t, "key-1", p["idempotencyKey"])
		assert.Equal(t, "m1", p["merchant"])
		assert.EqualValues(t, 1000, p["goodsAmount"])
		return http.StatusOK, map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"result": map[string]any{"orderId": 17, "txRef": "0xabc"},
		}
	})

	rec, err := c.Create(context.Background(), CreateRequest{
		IdempotencyKey: "key-1", Merchant: "m1", GoodsAmount: 1000, DeliveryFee: 200, DetailsRef: "sha256:00",
	})
	require.NoError(t, err)
	assert.Equal(t, types.OrderID(17), rec.OrderID)
	assert.Equal(t, "0xabc", rec.TxRef)
}

func TestRPCErrorIsRejected(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		return http.StatusOK, map[string]any{
			"jsonrpc": "2.0", "id": req.ID,
			"error": map[string]any{"code": -32000, "message": "execution reverted: not merchant"},
		}
	})

	_, err := c.ConfirmPreparation(context.Background(), 9)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, IsTransient(err))
	var lerr *Error
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, int64(-32000), lerr.Code)
	assert.Contains(t, lerr.Message, "not merchant")
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		return http.StatusBadGateway, map[string]any{}
	})
	_, err := c.ConfirmPickup(context.Background(), 9)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTransient(err))
}

func TestConnectionRefusedIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewRPCClient(url, nil).ConfirmDelivery(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDeadlineIsTimeout(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		time.Sleep(200 * time.Millisecond)
		return http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"txRef": "0x1"}}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.OpenDispute(ctx, 3, "cold food")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, IsTransient(err))
}

func TestEmptyTxRefIsRejected(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		return http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{}}
	})
	_, err := c.AssignCourier(context.Background(), 3, "c1")
	assert.ErrorIs(t, err, ErrRejected)
}

func TestResolveDisputeParamsAndRange(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		assert.Equal(t, MethodResolveDispute, req.Method)
		assert.Equal(t, []any{float64(5), "client", float64(100)}, req.Params)
		return http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": map[string]any{"txRef": "0xdef"}}
	})

	rec, err := c.ResolveDispute(context.Background(), 5, types.RoleClient, 100)
	require.NoError(t, err)
	assert.Equal(t, "0xdef", rec.TxRef)

	_, err = c.ResolveDispute(context.Background(), 5, types.RoleClient, 101)
	assert.ErrorIs(t, err, ErrRejected)
}

func TestQueries(t *testing.T) {
	c := newTestServer(t, func(req rpcRequest) (int, any) {
		var result any
		switch req.Method {
		case MethodHasRole:
			result = req.Params[1] == "merchant"
		case MethodCourierStatus:
			result = map[string]any{"available": true, "staked": false}
		case MethodVotingPower:
			result = 40
		}
		return http.StatusOK, map[string]any{"jsonrpc": "2.0", "id": req.ID, "result": result}
	})
	ctx := context.Background()

	ok, err := c.HasRole(ctx, "m1", types.RoleMerchant)
	require.NoError(t, err)
	assert.True(t, ok)

	st, err := c.CourierStatus(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, types.CourierStatus{Available: true, Staked: false}, st)

	power, err := c.VotingPower(ctx, "0x00000000000000000000000000000000000000aa")
	require.NoError(t, err)
	assert.Equal(t, int64(40), power)
}
