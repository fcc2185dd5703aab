package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/vmccharlie/opbutler/internal/logger"
	"github.com/vmccharlie/opbutler/internal/types"
)

const (
	rpcTimeout  = 20 * time.Second
	pollBackoff = 2 * time.Second
)

// Error definitions for zero-tolerance error handling
var (
	ErrEmptyEndpoint    = errors.New("rpc endpoint cannot be empty")
	ErrRequestFailed    = errors.New("rpc request failed")
	ErrRPCError         = errors.New("rpc returned an error")
	ErrSubmissionFailed = errors.New("transaction submission failed")
)

// QueryClient reads protocol state through the node's JSON-RPC surface.
// Adapters own the request/response payload shapes; the client only moves
// JSON.
type QueryClient interface {
	Query(ctx context.Context, path string, req any, resp any) error
}

// Client submits write actions. Submit blocks until the wallet daemon reports
// the transaction confirmed or failed; "not confirmed yet" is handled by
// polling inside the client, never surfaced to the engine.
type Client interface {
	Submit(ctx context.Context, action types.Action) (types.TxResult, error)
}

// --- Shared JSON-RPC Structures ---

// JSONRPCRequest defines the structure of a JSON-RPC request.
type JSONRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// JSONRPCResponse defines the structure of a JSON-RPC response.
type JSONRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *JSONRPCError   `json:"error,omitempty"`
}

// JSONRPCError defines the structure of a JSON-RPC error.
type JSONRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

// queryParams is the parameter shape for the node's state_query method.
type queryParams struct {
	Path string          `json:"path"`
	Data json.RawMessage `json:"data"`
}

// RPCQueryClient is the HTTP JSON-RPC implementation of QueryClient.
type RPCQueryClient struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewRPCQueryClient builds a query client against the node RPC endpoint.
func NewRPCQueryClient(endpoint string) (*RPCQueryClient, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	return &RPCQueryClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: rpcTimeout},
		logger:   logger.GetForComponent("chain_query"),
	}, nil
}

// Query implements QueryClient.
func (c *RPCQueryClient) Query(ctx context.Context, path string, req any, resp any) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal query payload for %s: %w", path, err)
	}

	raw, err := call(ctx, c.client, c.endpoint, "state_query", queryParams{Path: path, Data: data}, c.logger)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, resp); err != nil {
		return fmt.Errorf("failed to unmarshal query response for %s: %w", path, err)
	}
	return nil
}

// --- Wallet daemon submit client ---

// submitParams is the parameter shape for wallet_submit.
type submitParams struct {
	Protocol    string          `json:"protocol"`
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Payload     json.RawMessage `json:"payload"`
}

// submitResult is the wallet daemon's acknowledgement of a submission.
type submitResult struct {
	TxRef string `json:"tx_ref"`
}

// statusResult is the wallet daemon's view of a submitted transaction.
type statusResult struct {
	TxRef     string  `json:"tx_ref"`
	Status    string  `json:"status"` // "pending", "confirmed", "failed"
	GasFeeUSD float64 `json:"gas_fee_usd"`
	Error     string  `json:"error,omitempty"`
}

// WalletClient submits actions to the wallet daemon and polls until the
// daemon reports a terminal status. Signing and broadcast mechanics live
// entirely in the daemon.
type WalletClient struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewWalletClient builds a submit client against the wallet daemon endpoint.
func NewWalletClient(endpoint string) (*WalletClient, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}
	return &WalletClient{
		endpoint: endpoint,
		client:   &http.Client{Timeout: rpcTimeout},
		logger:   logger.GetForComponent("wallet_client"),
	}, nil
}

// Submit implements Client.
func (c *WalletClient) Submit(ctx context.Context, action types.Action) (types.TxResult, error) {
	params := submitParams{
		Protocol:    string(action.Protocol),
		Kind:        string(action.Kind),
		Description: action.Description,
		Payload:     action.Payload,
	}

	raw, err := call(ctx, c.client, c.endpoint, "wallet_submit", params, c.logger)
	if err != nil {
		return types.TxResult{}, errors.Join(ErrSubmissionFailed, err)
	}

	var submitted submitResult
	if err := json.Unmarshal(raw, &submitted); err != nil {
		return types.TxResult{}, fmt.Errorf("failed to unmarshal submit result: %w", err)
	}

	c.logger.Info().
		Str("txRef", submitted.TxRef).
		Str("kind", string(action.Kind)).
		Str("protocol", string(action.Protocol)).
		Msg("Action submitted, awaiting confirmation")

	return c.awaitConfirmation(ctx, submitted.TxRef)
}

// awaitConfirmation polls wallet_status until the transaction is terminal or
// the context is cancelled. A submitted transaction cannot be cancelled; ctx
// cancellation only abandons the wait.
func (c *WalletClient) awaitConfirmation(ctx context.Context, txRef string) (types.TxResult, error) {
	for {
		select {
		case <-ctx.Done():
			return types.TxResult{}, ctx.Err()
		case <-time.After(pollBackoff):
		}

		raw, err := call(ctx, c.client, c.endpoint, "wallet_status", submitResult{TxRef: txRef}, c.logger)
		if err != nil {
			// Transient status-poll failures are retried; the transaction
			// remains pending from the engine's point of view.
			c.logger.Warn().Err(err).Str("txRef", txRef).Msg("Status poll failed, retrying")
			continue
		}

		var status statusResult
		if err := json.Unmarshal(raw, &status); err != nil {
			return types.TxResult{}, fmt.Errorf("failed to unmarshal status result: %w", err)
		}

		switch status.Status {
		case "confirmed":
			return types.TxResult{TxRef: txRef, Confirmed: true, GasFeeUSD: status.GasFeeUSD}, nil
		case "failed":
			return types.TxResult{TxRef: txRef, Confirmed: false, GasFeeUSD: status.GasFeeUSD, ErrorMessage: status.Error}, nil
		default:
			// still pending
		}
	}
}

// call performs one JSON-RPC round trip and returns the raw result.
func call(ctx context.Context, client *http.Client, endpoint, method string, params any, log zerolog.Logger) (json.RawMessage, error) {
	rpcReq := JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	}

	body, err := json.Marshal(rpcReq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rpc request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build rpc request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read rpc response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		log.Error().Int("status", httpResp.StatusCode).Str("method", method).Msg("RPC returned non-200 status")
		return nil, fmt.Errorf("%w: http status %d", ErrRequestFailed, httpResp.StatusCode)
	}

	var rpcResp JSONRPCResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rpc response: %w", err)
	}

	if rpcResp.Error != nil {
		log.Error().Int("code", rpcResp.Error.Code).Str("message", rpcResp.Error.Message).Str("method", method).Msg("RPC error response")
		return nil, fmt.Errorf("%w: %s (code %d)", ErrRPCError, rpcResp.Error.Message, rpcResp.Error.Code)
	}

	return rpcResp.Result, nil
}
