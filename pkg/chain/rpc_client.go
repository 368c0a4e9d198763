package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"
)

// RPCClient talks JSON-RPC to a node for reads and delegates signing to a
// signer gateway that holds the operator key. One RPCClient per operator key;
// sends are serialized through nonceMu per the single-sequence constraint of
// the operator account.
type RPCClient struct {
	RPCURL          string
	SignerURL       string
	SignerAPIKey    string
	TokenAddress    string
	OperatorAddress string
	client          *http.Client

	nonceMu sync.Mutex
}

func NewRPCClient(rpcURL, signerURL, signerAPIKey, tokenAddress, operatorAddress string) *RPCClient {
	return &RPCClient{
		RPCURL:          rpcURL,
		SignerURL:       signerURL,
		SignerAPIKey:    signerAPIKey,
		TokenAddress:    tokenAddress,
		OperatorAddress: operatorAddress,
		client:          &http.Client{Timeout: 30 * time.Second},
	}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *RPCClient) call(ctx context.Context, method string, params []interface{}, out interface{}) error {
	body, _ := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc %s: %d %s", method, resp.StatusCode, string(respBody))
	}
	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return err
	}
	if parsed.Error != nil {
		return fmt.Errorf("rpc %s: %d %s", method, parsed.Error.Code, parsed.Error.Message)
	}
	if out != nil {
		return json.Unmarshal(parsed.Result, out)
	}
	return nil
}

func (c *RPCClient) callBig(ctx context.Context, method string, params []interface{}) (*big.Int, error) {
	var hex string
	if err := c.call(ctx, method, params, &hex); err != nil {
		return nil, err
	}
	return parseHexBig(hex)
}

func parseHexBig(s string) (*big.Int, error) {
	trimmed := strings.TrimPrefix(s, "0x")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(trimmed, 16)
	if !ok {
		return nil, fmt.Errorf("invalid hex quantity %q", s)
	}
	return n, nil
}

// balanceOf(address) selector.
const balanceOfSelector = "0x70a08231"

func (c *RPCClient) TokenBalance(ctx context.Context, address string) (*big.Int, error) {
	data := balanceOfSelector + padAddress(address)
	return c.callBig(ctx, "eth_call", []interface{}{
		map[string]string{"to": c.TokenAddress, "data": data},
		"latest",
	})
}

func (c *RPCClient) OperatorBalance(ctx context.Context) (*big.Int, error) {
	return c.TokenBalance(ctx, c.OperatorAddress)
}

func (c *RPCClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.callBig(ctx, "eth_gasPrice", []interface{}{})
}

func padAddress(address string) string {
	addr := strings.TrimPrefix(strings.ToLower(address), "0x")
	return strings.Repeat("0", 64-len(addr)) + addr
}

type signerSendReq struct {
	To       string `json:"to"`
	Token    string `json:"token"`
	Amount   string `json:"amount"` // base units, decimal string
	Nonce    uint64 `json:"nonce"`
	Operator string `json:"operator"`
}

type signerSendResp struct {
	TxHash string `json:"tx_hash"`
	Error  string `json:"error"`
}

// SendToken asks the signer gateway to sign and broadcast a token transfer.
// Nonce assignment and the send are under one lock so concurrent migrations
// sharing the operator key never race on the account sequence.
func (c *RPCClient) SendToken(ctx context.Context, to string, baseUnits *big.Int) (string, error) {
	c.nonceMu.Lock()
	defer c.nonceMu.Unlock()

	nonce, err := c.callBig(ctx, "eth_getTransactionCount", []interface{}{c.OperatorAddress, "pending"})
	if err != nil {
		return "", fmt.Errorf("nonce fetch: %w", err)
	}
	payload := signerSendReq{
		To:       to,
		Token:    c.TokenAddress,
		Amount:   baseUnits.String(),
		Nonce:    nonce.Uint64(),
		Operator: c.OperatorAddress,
	}
	body, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.SignerURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.SignerAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.SignerAPIKey)
	}
	log.Printf("[Chain] POST %s/v1/transfers to=%s amount=%s nonce=%d", c.SignerURL, to, baseUnits, nonce.Uint64())
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("signer transfer: %d %s", resp.StatusCode, string(respBody))
	}
	var out signerSendResp
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("signer transfer: %s", out.Error)
	}
	if out.TxHash == "" {
		return "", fmt.Errorf("signer transfer: empty tx hash")
	}
	return out.TxHash, nil
}

type rpcReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	Status            string `json:"status"`
	BlockNumber       string `json:"blockNumber"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
}

func (c *RPCClient) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	var raw json.RawMessage
	if err := c.call(ctx, "eth_getTransactionReceipt", []interface{}{txHash}, &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, ErrReceiptNotFound
	}
	var parsed rpcReceipt
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}
	status, err := parseHexBig(parsed.Status)
	if err != nil {
		return nil, err
	}
	blockNumber, err := parseHexBig(parsed.BlockNumber)
	if err != nil {
		return nil, err
	}
	gasUsed, err := parseHexBig(parsed.GasUsed)
	if err != nil {
		return nil, err
	}
	gasPrice, err := parseHexBig(parsed.EffectiveGasPrice)
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:            parsed.TransactionHash,
		Status:            status.Uint64(),
		BlockNumber:       blockNumber.Uint64(),
		GasUsed:           gasUsed.Uint64(),
		EffectiveGasPrice: gasPrice,
	}, nil
}
