package chain

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/pkg/memo"
)

// TxInputSource returns raw calldata per transaction hash.
type TxInputSource interface {
	TransactionInputs(ctx context.Context, hashes []string) map[string][]byte
}

// WalletActivityService implements domain.WalletActivity on top of Alchemy's
// asset transfer index and a plain RPC node for calldata.
type WalletActivityService struct {
	indexURL string
	gw       *gateway.Client
	txs      TxInputSource
	codec    *memo.Codec
}

func NewWalletActivityService(indexURL string, gw *gateway.Client, txs TxInputSource, codec *memo.Codec) *WalletActivityService {
	return &WalletActivityService{
		indexURL: indexURL,
		gw:       gw,
		txs:      txs,
		codec:    codec,
	}
}

var _ domain.WalletActivity = (*WalletActivityService)(nil)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type assetTransfersResponse struct {
	Result *struct {
		Transfers []struct {
			Hash     string   `json:"hash"`
			From     string   `json:"from"`
			To       string   `json:"to"`
			Value    *float64 `json:"value"`
			Metadata struct {
				BlockTimestamp string `json:"blockTimestamp"`
			} `json:"metadata"`
		} `json:"transfers"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// WalletSwaps returns the wallet's latest outgoing native transfers, newest
// first, with any memo found in their calldata. Failures yield an empty list.
func (s *WalletActivityService) WalletSwaps(ctx context.Context, wallet string, maxResults int) []domain.WalletTx {
	if s.indexURL == "" || maxResults <= 0 {
		return nil
	}

	// Docs: https://docs.alchemy.com/reference/alchemy-getassettransfers
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "alchemy_getAssetTransfers",
		"params": []any{
			map[string]any{
				"fromAddress":  wallet,
				"category":     []string{"external"},
				"order":        "desc",
				"maxCount":     fmt.Sprintf("0x%x", maxResults),
				"withMetadata": true,
			},
		},
	}

	var resp assetTransfersResponse
	if err := s.gw.PostJSON(ctx, s.indexURL, payload, &resp); err != nil {
		log.Debug().Err(err).Str("wallet", wallet).Msg("asset transfers request failed")
		return nil
	}
	if resp.Error != nil {
		log.Debug().Int("code", resp.Error.Code).Str("msg", resp.Error.Message).Str("wallet", wallet).Msg("asset transfers rpc error")
		return nil
	}
	if resp.Result == nil || len(resp.Result.Transfers) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(resp.Result.Transfers))
	for _, t := range resp.Result.Transfers {
		hashes = append(hashes, t.Hash)
	}
	memos := s.ResolveMemos(ctx, hashes)

	txs := make([]domain.WalletTx, 0, len(resp.Result.Transfers))
	for _, t := range resp.Result.Transfers {
		ts, err := time.Parse(time.RFC3339, t.Metadata.BlockTimestamp)
		if err != nil {
			log.Debug().Str("hash", t.Hash).Str("ts", t.Metadata.BlockTimestamp).Msg("skipping transfer without timestamp")
			continue
		}
		tx := domain.WalletTx{
			Hash:      t.Hash,
			To:        t.To,
			Timestamp: ts,
		}
		if t.Value != nil {
			tx.Value = *t.Value
		}
		if m, ok := memos[t.Hash]; ok {
			tx.Memo = &m
		}
		txs = append(txs, tx)
	}

	sort.SliceStable(txs, func(i, j int) bool {
		return txs[i].Timestamp.After(txs[j].Timestamp)
	})
	return txs
}

// ResolveMemos decodes the memo text of every hash whose calldata carries one.
func (s *WalletActivityService) ResolveMemos(ctx context.Context, hashes []string) map[string]string {
	out := make(map[string]string)
	if s.txs == nil || len(hashes) == 0 {
		return out
	}

	for hash, input := range s.txs.TransactionInputs(ctx, hashes) {
		if len(input) == 0 {
			continue
		}
		if text, ok := s.codec.Text(hexutil.Encode(input)); ok {
			out[hash] = text
		}
	}
	return out
}
