package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vmccharlie/opbutler/internal/types"
)

func rpcServer(t *testing.T, handler func(method string, params json.RawMessage) (any, *JSONRPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string          `json:"jsonrpc"`
			ID      int             `json:"id"`
			Method  string          `json:"method"`
			Params  json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		result, rpcErr := handler(req.Method, req.Params)
		resp := JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		if rpcErr == nil {
			data, err := json.Marshal(result)
			require.NoError(t, err)
			resp.Result = data
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestRPCQueryClient_Query(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *JSONRPCError) {
		assert.Equal(t, "state_query", method)

		var qp queryParams
		require.NoError(t, json.Unmarshal(params, &qp))
		assert.Equal(t, "aave/v3/account", qp.Path)

		return map[string]string{"total_debt_usd_wad": "42"}, nil
	})
	defer server.Close()

	client, err := NewRPCQueryClient(server.URL)
	require.NoError(t, err)

	var resp struct {
		TotalDebtUSDWad string `json:"total_debt_usd_wad"`
	}
	err = client.Query(context.Background(), "aave/v3/account", map[string]string{"account": "acct"}, &resp)
	require.NoError(t, err)
	assert.Equal(t, "42", resp.TotalDebtUSDWad)
}

func TestRPCQueryClient_RPCError(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *JSONRPCError) {
		return nil, &JSONRPCError{Code: -32601, Message: "method not found"}
	})
	defer server.Close()

	client, err := NewRPCQueryClient(server.URL)
	require.NoError(t, err)

	var resp struct{}
	err = client.Query(context.Background(), "bad/path", struct{}{}, &resp)
	require.ErrorIs(t, err, ErrRPCError)
}

func TestRPCQueryClient_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := NewRPCQueryClient(server.URL)
	require.NoError(t, err)

	var resp struct{}
	err = client.Query(context.Background(), "path", struct{}{}, &resp)
	require.ErrorIs(t, err, ErrRequestFailed)
}

func TestWalletClient_SubmitConfirms(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *JSONRPCError) {
		switch method {
		case "wallet_submit":
			var sp submitParams
			require.NoError(t, json.Unmarshal(params, &sp))
			assert.Equal(t, "SUPPLY", sp.Kind)
			return submitResult{TxRef: "tx-123"}, nil
		case "wallet_status":
			return statusResult{TxRef: "tx-123", Status: "confirmed", GasFeeUSD: 0.07}, nil
		default:
			return nil, &JSONRPCError{Code: -32601, Message: "method not found"}
		}
	})
	defer server.Close()

	client, err := NewWalletClient(server.URL)
	require.NoError(t, err)

	result, err := client.Submit(context.Background(), types.Action{
		Protocol: types.ProtocolAave,
		Kind:     types.ActionSupply,
		Payload:  json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	assert.True(t, result.Confirmed)
	assert.Equal(t, "tx-123", result.TxRef)
	assert.InDelta(t, 0.07, result.GasFeeUSD, 1e-9)
}

func TestWalletClient_SubmitFailed(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *JSONRPCError) {
		switch method {
		case "wallet_submit":
			return submitResult{TxRef: "tx-9"}, nil
		default:
			return statusResult{TxRef: "tx-9", Status: "failed", Error: "insufficient collateral"}, nil
		}
	})
	defer server.Close()

	client, err := NewWalletClient(server.URL)
	require.NoError(t, err)

	result, err := client.Submit(context.Background(), types.Action{Kind: types.ActionBorrow, Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)

	assert.False(t, result.Confirmed)
	assert.Equal(t, "insufficient collateral", result.ErrorMessage)
}

func TestWalletClient_ContextCancelAbandonsWait(t *testing.T) {
	server := rpcServer(t, func(method string, params json.RawMessage) (any, *JSONRPCError) {
		switch method {
		case "wallet_submit":
			return submitResult{TxRef: "tx-slow"}, nil
		default:
			return statusResult{TxRef: "tx-slow", Status: "pending"}, nil
		}
	})
	defer server.Close()

	client, err := NewWalletClient(server.URL)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Submit(ctx, types.Action{Kind: types.ActionSupply, Payload: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewClients_EmptyEndpoint(t *testing.T) {
	_, err := NewRPCQueryClient("")
	require.ErrorIs(t, err, ErrEmptyEndpoint)

	_, err = NewWalletClient("")
	require.ErrorIs(t, err, ErrEmptyEndpoint)
}
