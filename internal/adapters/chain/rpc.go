// Package chain reads on-chain state of Base: aggregated balances, raw
// transactions for memo decoding and wallet transfer history.
package chain

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
)

// MaxBatchElems caps the size of one JSON-RPC batch request.
const MaxBatchElems = 50

// RPCClient bundles the raw JSON-RPC client with an ethclient view of it.
type RPCClient struct {
	raw *rpc.Client
	*ethclient.Client
}

// DialRPC connects to an HTTP JSON-RPC endpoint. hc may be nil.
func DialRPC(ctx context.Context, url string, hc *http.Client) (*RPCClient, error) {
	var opts []rpc.ClientOption
	if hc != nil {
		opts = append(opts, rpc.WithHTTPClient(hc))
	}
	raw, err := rpc.DialOptions(ctx, url, opts...)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return &RPCClient{raw: raw, Client: ethclient.NewClient(raw)}, nil
}

// rawTx is the part of eth_getTransactionByHash we need. Decoding into
// types.Transaction rejects OP-stack deposit transactions, so stay loose.
type rawTx struct {
	Hash  string        `json:"hash"`
	Input hexutil.Bytes `json:"input"`
}

// TransactionInputs fetches the calldata of each hash with batched
// eth_getTransactionByHash requests. Unknown or failed hashes are omitted.
func (c *RPCClient) TransactionInputs(ctx context.Context, hashes []string) map[string][]byte {
	out := make(map[string][]byte, len(hashes))

	for start := 0; start < len(hashes); start += MaxBatchElems {
		end := min(start+MaxBatchElems, len(hashes))
		chunk := hashes[start:end]

		txs := make([]*rawTx, len(chunk))
		elems := make([]rpc.BatchElem, len(chunk))
		for i, h := range chunk {
			elems[i] = rpc.BatchElem{
				Method: "eth_getTransactionByHash",
				Args:   []any{h},
				Result: &txs[i],
			}
		}

		if err := c.raw.BatchCallContext(ctx, elems); err != nil {
			log.Warn().Err(err).Int("hashes", len(chunk)).Msg("transaction batch failed")
			continue
		}
		for i, el := range elems {
			if el.Error != nil || txs[i] == nil {
				continue
			}
			out[chunk[i]] = txs[i].Input
		}
	}
	return out
}

// Close releases the underlying connection.
func (c *RPCClient) Close() {
	c.raw.Close()
}
