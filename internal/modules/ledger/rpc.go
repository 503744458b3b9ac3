// README: JSON-RPC implementation of the ledger client over resty.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"dropchain/internal/log"
	"dropchain/internal/metrics"
	"dropchain/internal/types"
)

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// RPCClient talks to the settlement contract gateway. It also answers the
// read-only role, stake and voting-power queries used by the on-chain providers.
type RPCClient struct {
	rest    *resty.Client
	metrics metrics.Metrics
}

func NewRPCClient(url string, m metrics.Metrics) *RPCClient {
	return WrapRestyClient(resty.New().SetBaseURL(url).SetHeader("Content-Type", "application/json"), m)
}

func WrapRestyClient(rc *resty.Client, m metrics.Metrics) *RPCClient {
	if m == nil {
		m = metrics.Noop{}
	}
	return &RPCClient{rest: rc, metrics: m}
}

func (c *RPCClient) Create(ctx context.Context, req CreateRequest) (CreateReceipt, error) {
	var out CreateReceipt
	err := c.call(ctx, &out, MethodCreate, req)
	if err == nil && out.TxRef == "" {
		err = &Error{Kind: ErrRejected, Method: MethodCreate, Message: "empty txRef in receipt"}
	}
	return out, err
}

func (c *RPCClient) ConfirmPreparation(ctx context.Context, orderID types.OrderID) (Receipt, error) {
	return c.receipt(ctx, MethodConfirmPreparation, orderID)
}

func (c *RPCClient) AssignCourier(ctx context.Context, orderID types.OrderID, courier types.ID) (Receipt, error) {
	return c.receipt(ctx, MethodAssignCourier, orderID, courier)
}

func (c *RPCClient) ConfirmPickup(ctx context.Context, orderID types.OrderID) (Receipt, error) {
	return c.receipt(ctx, MethodConfirmPickup, orderID)
}

func (c *RPCClient) ConfirmDelivery(ctx context.Context, orderID types.OrderID) (Receipt, error) {
	return c.receipt(ctx, MethodConfirmDelivery, orderID)
}

func (c *RPCClient) OpenDispute(ctx context.Context, orderID types.OrderID, reason string) (Receipt, error) {
	return c.receipt(ctx, MethodOpenDispute, orderID, reason)
}

func (c *RPCClient) ResolveDispute(ctx context.Context, orderID types.OrderID, winner types.Role, refundPercent int) (Receipt, error) {
	if refundPercent < 0 || refundPercent > 100 {
		return Receipt{}, &Error{Kind: ErrRejected, Method: MethodResolveDispute, Message: fmt.Sprintf("refund percent %d out of range", refundPercent)}
	}
	return c.receipt(ctx, MethodResolveDispute, orderID, winner, refundPercent)
}

func (c *RPCClient) HasRole(ctx context.Context, actor types.ID, role types.Role) (bool, error) {
	var ok bool
	err := c.call(ctx, &ok, MethodHasRole, actor, role)
	return ok, err
}

func (c *RPCClient) CourierStatus(ctx context.Context, courier types.ID) (types.CourierStatus, error) {
	var st types.CourierStatus
	err := c.call(ctx, &st, MethodCourierStatus, courier)
	return st, err
}

func (c *RPCClient) VotingPower(ctx context.Context, voter string) (int64, error) {
	var power int64
	err := c.call(ctx, &power, MethodVotingPower, voter)
	return power, err
}

func (c *RPCClient) receipt(ctx context.Context, method string, params ...any) (Receipt, error) {
	var out Receipt
	err := c.call(ctx, &out, method, params...)
	if err == nil && out.TxRef == "" {
		err = &Error{Kind: ErrRejected, Method: method, Message: "empty txRef in receipt"}
	}
	return out, err
}

func (c *RPCClient) call(ctx context.Context, result any, method string, params ...any) error {
	if params == nil {
		params = []any{}
	}
	req := rpcRequest{JSONRPC: "2.0", ID: uuid.NewString(), Method: method, Params: params}
	var resp rpcResponse
	start := time.Now()
	res, err := c.rest.R().
		SetContext(ctx).
		SetBody(&req).
		SetResult(&resp).
		SetError(&resp).
		Post("")
	err = classify(ctx, method, res, &resp, err)
	if err == nil && result != nil && len(resp.Result) > 0 {
		if uerr := json.Unmarshal(resp.Result, result); uerr != nil {
			err = &Error{Kind: ErrRejected, Method: method, Message: "malformed result", Err: uerr}
		}
	}

	outcome := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		outcome = "timeout"
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "rejected"
	}
	c.metrics.LedgerCall(method, outcome)
	log.L(ctx).WithField("method", method).WithField("result", outcome).
		Debugf("ledger call took %s", time.Since(start))
	return err
}

func classify(ctx context.Context, method string, res *resty.Response, resp *rpcResponse, err error) error {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Error{Kind: ErrTimeout, Method: method, Err: err}
		}
		return &Error{Kind: ErrUnavailable, Method: method, Err: err}
	}
	if resp.Error != nil {
		return &Error{Kind: ErrRejected, Method: method, Code: resp.Error.Code, Message: resp.Error.Message}
	}
	if res.StatusCode() >= http.StatusInternalServerError {
		return &Error{Kind: ErrUnavailable, Method: method, Message: res.Status()}
	}
	if res.IsError() {
		return &Error{Kind: ErrRejected, Method: method, Message: res.Status()}
	}
	return nil
}
