package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rpcStub answers JSON-RPC requests from a method -> result map and records
// the calls it saw.
type rpcStub struct {
	t       *testing.T
	results map[string]string // method -> raw JSON result
	calls   []rpcRequest
}

func (s *rpcStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		s.calls = append(s.calls, req)
		result, ok := s.results[req.Method]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32601,"message":"method not found"}}`, req.ID)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, req.ID, result)
	}
}

func TestSuggestGasPrice(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{"eth_gasPrice": `"0x3b9aca00"`}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "", "0xtoken", "0xoperator")
	price, err := c.SuggestGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000_000), price.Int64())
}

func TestTokenBalance_CallData(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{"eth_call": `"0xde0b6b3a7640000"`}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	token := "0x00000000000000000000000000000000000000aa"
	c := NewRPCClient(srv.URL, "", "", token, "0xoperator")
	balance, err := c.TokenBalance(context.Background(), "0xAbCd000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.Equal(t, "1000000000000000000", balance.String())

	require.Len(t, stub.calls, 1)
	require.Len(t, stub.calls[0].Params, 2)
	call := stub.calls[0].Params[0].(map[string]interface{})
	assert.Equal(t, token, call["to"])
	// balanceOf selector followed by the address left-padded to 32 bytes,
	// lowercased.
	assert.Equal(t,
		"0x70a08231000000000000000000000000abcd000000000000000000000000000000000001",
		call["data"])
	assert.Equal(t, "latest", stub.calls[0].Params[1])
}

func TestTransactionReceipt_Pending(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{"eth_getTransactionReceipt": `null`}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "", "0xtoken", "0xoperator")
	_, err := c.TransactionReceipt(context.Background(), "0xabc")
	assert.ErrorIs(t, err, ErrReceiptNotFound)
}

func TestTransactionReceipt_Parsed(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{
		"eth_getTransactionReceipt": `{
			"transactionHash": "0xabc",
			"status": "0x1",
			"blockNumber": "0x309",
			"gasUsed": "0x9c40",
			"effectiveGasPrice": "0x3b9aca00"
		}`,
	}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "", "0xtoken", "0xoperator")
	receipt, err := c.TransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0xabc", receipt.TxHash)
	assert.False(t, receipt.Reverted())
	assert.Equal(t, uint64(777), receipt.BlockNumber)
	assert.Equal(t, uint64(40000), receipt.GasUsed)
	// 40000 gas at 1 gwei.
	assert.Equal(t, "40000000000000", receipt.FeeWei().String())
}

func TestTransactionReceipt_Reverted(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{
		"eth_getTransactionReceipt": `{
			"transactionHash": "0xdead",
			"status": "0x0",
			"blockNumber": "0x30a",
			"gasUsed": "0x5208",
			"effectiveGasPrice": "0x1"
		}`,
	}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "", "0xtoken", "0xoperator")
	receipt, err := c.TransactionReceipt(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.True(t, receipt.Reverted())
}

func TestSendToken_NonceAndSignerFlow(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{"eth_getTransactionCount": `"0x2a"`}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()

	var gotAuth string
	var gotReq signerSendReq
	signer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/transfers", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		fmt.Fprint(w, `{"tx_hash":"0xsigned"}`)
	}))
	defer signer.Close()

	c := NewRPCClient(node.URL, signer.URL, "secret", "0xtoken", "0xoperator")
	hash, err := c.SendToken(context.Background(), "0xdest", big.NewInt(495))
	require.NoError(t, err)
	assert.Equal(t, "0xsigned", hash)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "0xdest", gotReq.To)
	assert.Equal(t, "0xtoken", gotReq.Token)
	assert.Equal(t, "495", gotReq.Amount)
	assert.Equal(t, uint64(42), gotReq.Nonce)
	assert.Equal(t, "0xoperator", gotReq.Operator)

	// Nonce came from the pending count of the operator account.
	require.Len(t, stub.calls, 1)
	assert.Equal(t, "eth_getTransactionCount", stub.calls[0].Method)
	assert.Equal(t, "0xoperator", stub.calls[0].Params[0])
	assert.Equal(t, "pending", stub.calls[0].Params[1])
}

func TestSendToken_SignerError(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{"eth_getTransactionCount": `"0x1"`}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()

	signer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"key locked"}`)
	}))
	defer signer.Close()

	c := NewRPCClient(node.URL, signer.URL, "", "0xtoken", "0xoperator")
	_, err := c.SendToken(context.Background(), "0xdest", big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key locked")
}

func TestSendToken_SignerNon200(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{"eth_getTransactionCount": `"0x1"`}}
	node := httptest.NewServer(stub.handler())
	defer node.Close()

	signer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer signer.Close()

	c := NewRPCClient(node.URL, signer.URL, "", "0xtoken", "0xoperator")
	_, err := c.SendToken(context.Background(), "0xdest", big.NewInt(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestCall_RPCError(t *testing.T) {
	stub := &rpcStub{t: t, results: map[string]string{}}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	c := NewRPCClient(srv.URL, "", "", "0xtoken", "0xoperator")
	_, err := c.SuggestGasPrice(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "method not found")
}

func TestParseHexBig(t *testing.T) {
	n, err := parseHexBig("0x0")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n.Int64())

	n, err = parseHexBig("0x")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n.Int64())

	_, err = parseHexBig("0xzz")
	assert.Error(t, err)
}
