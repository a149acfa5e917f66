package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/pkg/memo"
)

type jsonrpcRequest struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result"`
}

// rpcServer answers single and batched JSON-RPC requests with handle.
func rpcServer(t *testing.T, handle func(req jsonrpcRequest) any) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")

		respond := func(req jsonrpcRequest) jsonrpcResponse {
			return jsonrpcResponse{JSONRPC: "2.0", ID: req.ID, Result: handle(req)}
		}

		if bytes.HasPrefix(bytes.TrimSpace(body), []byte("[")) {
			var reqs []jsonrpcRequest
			require.NoError(t, json.Unmarshal(body, &reqs))
			out := make([]jsonrpcResponse, len(reqs))
			for i, req := range reqs {
				out[i] = respond(req)
			}
			_ = json.NewEncoder(w).Encode(out)
			return
		}

		var req jsonrpcRequest
		require.NoError(t, json.Unmarshal(body, &req))
		_ = json.NewEncoder(w).Encode(respond(req))
	}))
	t.Cleanup(server.Close)
	return server
}

func calldataWithMemo(t *testing.T, v any) string {
	t.Helper()
	encoded, ok := memo.Default().Encode(v)
	require.True(t, ok)
	return memo.Append("0xa9059cbb"+strings.Repeat("00", 64), encoded)
}

func TestTransactionInputs_Batches(t *testing.T) {
	var batchSizes []int
	inputs := map[string]string{
		"0x01": calldataWithMemo(t, map[string]any{"reason": "first"}),
		"0x02": "0x",
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []jsonrpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		batchSizes = append(batchSizes, len(reqs))

		out := make([]jsonrpcResponse, len(reqs))
		for i, req := range reqs {
			assert.Equal(t, "eth_getTransactionByHash", req.Method)
			var hash string
			require.NoError(t, json.Unmarshal(req.Params[0], &hash))
			out[i] = jsonrpcResponse{JSONRPC: "2.0", ID: req.ID}
			if in, ok := inputs[hash]; ok {
				// deposit transactions carry fields types.Transaction cannot decode
				out[i].Result = map[string]any{"hash": hash, "type": "0x7e", "input": in}
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer server.Close()

	client, err := DialRPC(context.Background(), server.URL, server.Client())
	require.NoError(t, err)
	defer client.Close()

	hashes := []string{"0x01", "0x02"}
	for i := 0; i < 60; i++ {
		hashes = append(hashes, "0xff")
	}

	got := client.TransactionInputs(context.Background(), hashes)
	assert.Equal(t, []int{MaxBatchElems, 12}, batchSizes)
	require.Contains(t, got, "0x01")
	assert.Equal(t, inputs["0x01"], hexutil.Encode(got["0x01"]))
	assert.Contains(t, got, "0x02")
	assert.NotContains(t, got, "0xff")
}

type fakeInputs map[string][]byte

func (f fakeInputs) TransactionInputs(_ context.Context, hashes []string) map[string][]byte {
	out := make(map[string][]byte)
	for _, h := range hashes {
		if in, ok := f[h]; ok {
			out[h] = in
		}
	}
	return out
}

func TestResolveMemos(t *testing.T) {
	inputs := fakeInputs{
		"0xa": hexutil.MustDecode(calldataWithMemo(t, map[string]any{"reason": "why"})),
		"0xb": hexutil.MustDecode(calldataWithMemo(t, map[string]any{"note": "n"})),
		"0xc": hexutil.MustDecode("0xa9059cbb"),
		"0xd": {},
	}
	s := NewWalletActivityService("", nil, inputs, memo.Default())

	got := s.ResolveMemos(context.Background(), []string{"0xa", "0xb", "0xc", "0xd", "0xe"})
	assert.Equal(t, map[string]string{"0xa": "why", "0xb": "n"}, got)

	assert.Empty(t, s.ResolveMemos(context.Background(), nil))
}

func TestWalletSwaps(t *testing.T) {
	wallet := "0x00000000000000000000000000000000000000aa"

	index := rpcServer(t, func(req jsonrpcRequest) any {
		require.Equal(t, "alchemy_getAssetTransfers", req.Method)
		var params map[string]any
		require.NoError(t, json.Unmarshal(req.Params[0], &params))
		assert.Equal(t, wallet, params["fromAddress"])
		assert.Equal(t, []any{"external"}, params["category"])
		assert.Equal(t, "desc", params["order"])
		assert.Equal(t, "0xf", params["maxCount"])
		assert.Equal(t, true, params["withMetadata"])

		return map[string]any{"transfers": []any{
			map[string]any{"hash": "0xold", "to": "0x1", "value": 0.01, "metadata": map[string]any{"blockTimestamp": "2024-05-01T10:00:00.000Z"}},
			map[string]any{"hash": "0xnew", "to": "0x2", "value": 0.25, "metadata": map[string]any{"blockTimestamp": "2024-05-02T10:00:00.000Z"}},
			map[string]any{"hash": "0xnil", "to": "0x3", "value": nil, "metadata": map[string]any{"blockTimestamp": "2024-05-01T12:00:00.000Z"}},
		}}
	})

	inputs := fakeInputs{"0xnew": hexutil.MustDecode(calldataWithMemo(t, map[string]any{"memo": "aping in"}))}
	gw := gateway.New(gateway.WithHTTPClient(index.Client()), gateway.WithBackoff(time.Millisecond, 1, 0))
	s := NewWalletActivityService(index.URL, gw, inputs, memo.Default())

	txs := s.WalletSwaps(context.Background(), wallet, 15)
	require.Len(t, txs, 3)

	assert.Equal(t, "0xnew", txs[0].Hash)
	assert.Equal(t, 0.25, txs[0].Value)
	require.NotNil(t, txs[0].Memo)
	assert.Equal(t, "aping in", *txs[0].Memo)

	assert.Equal(t, "0xnil", txs[1].Hash)
	assert.Zero(t, txs[1].Value)
	assert.Nil(t, txs[1].Memo)

	assert.Equal(t, "0xold", txs[2].Hash)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), txs[2].Timestamp.UTC())
}

func TestWalletSwaps_Failures(t *testing.T) {
	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid params"}}`))
	}))
	defer errServer.Close()

	downServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer downServer.Close()

	for name, url := range map[string]string{"rpc error": errServer.URL, "unavailable": downServer.URL} {
		t.Run(name, func(t *testing.T) {
			gw := gateway.New(gateway.WithBackoff(time.Millisecond, 1, 0))
			s := NewWalletActivityService(url, gw, fakeInputs{}, memo.Default())
			assert.Empty(t, s.WalletSwaps(context.Background(), "0xabc", 15))
		})
	}

	s := NewWalletActivityService("", nil, nil, memo.Default())
	assert.Empty(t, s.WalletSwaps(context.Background(), "0xabc", 15))
}
