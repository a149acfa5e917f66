package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
)

// Multicall3Address is the canonical Multicall3 deployment, identical on every EVM chain.
var Multicall3Address = common.HexToAddress("0xcA11bde05977b3631167028862bE2a173976CA11")

var (
	aggregate3Selector    = selector("aggregate3((address,bool,bytes)[])")
	balancesSelector      = selector("balances(address)")
	getEthBalanceSelector = selector("getEthBalance(address)")
)

const wordSize = 32

func selector(signature string) []byte {
	return crypto.Keccak256([]byte(signature))[:4]
}

// Call3 is one entry of an aggregate3 call.
type Call3 struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Result3 is one entry of the aggregate3 return array.
type Result3 struct {
	Success    bool
	ReturnData []byte
}

// ContractCaller is the subset of ethclient.Client needed for read-only calls.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// MulticallReader reads RevenueManager claimable balances and native balances
// for many wallets in a single eth_call.
type MulticallReader struct {
	caller         ContractCaller
	revenueManager common.Address
	metrics        *observability.Metrics
}

// NewMulticallReader creates a reader querying revenueManager.balances(owner).
func NewMulticallReader(caller ContractCaller, revenueManager common.Address, metrics *observability.Metrics) *MulticallReader {
	return &MulticallReader{
		caller:         caller,
		revenueManager: revenueManager,
		metrics:        metrics,
	}
}

var _ domain.BalanceReader = (*MulticallReader)(nil)

// BatchReadBalances returns claimable fees and wallet balances in ether keyed by
// lower-case owner. Any failure of the aggregated call yields two empty maps.
func (r *MulticallReader) BatchReadBalances(ctx context.Context, owners []string) (map[string]float64, map[string]float64) {
	claimable := make(map[string]float64)
	wallet := make(map[string]float64)
	if len(owners) == 0 {
		return claimable, wallet
	}

	keys := make([]string, 0, len(owners))
	calls := make([]Call3, 0, 2*len(owners))
	for _, owner := range owners {
		if !common.IsHexAddress(owner) {
			log.Debug().Str("owner", owner).Msg("skipping malformed owner address")
			continue
		}
		addr := common.HexToAddress(owner)
		keys = append(keys, strings.ToLower(owner))
		calls = append(calls,
			Call3{Target: r.revenueManager, AllowFailure: true, CallData: addressCall(balancesSelector, addr)},
			Call3{Target: Multicall3Address, AllowFailure: true, CallData: addressCall(getEthBalanceSelector, addr)},
		)
	}
	if len(calls) == 0 {
		return claimable, wallet
	}

	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &Multicall3Address, Data: EncodeAggregate3(calls)}, nil)
	if err != nil {
		r.metrics.ObserveBalanceReadError()
		log.Warn().Err(err).Int("owners", len(keys)).Msg("multicall balance read failed")
		return claimable, wallet
	}

	results, err := DecodeAggregate3Results(raw)
	if err != nil {
		r.metrics.ObserveBalanceReadError()
		log.Warn().Err(err).Int("owners", len(keys)).Msg("multicall result decode failed")
		return claimable, wallet
	}

	for i, res := range results {
		if i >= len(calls) {
			break
		}
		if !res.Success || len(res.ReturnData) == 0 {
			continue
		}
		owner := keys[i/2]
		value := weiToEther(res.ReturnData)
		if i%2 == 0 {
			claimable[owner] = value
		} else {
			wallet[owner] = value
		}
	}
	return claimable, wallet
}

func addressCall(sel []byte, addr common.Address) []byte {
	out := make([]byte, 0, 4+wordSize)
	out = append(out, sel...)
	return append(out, common.LeftPadBytes(addr.Bytes(), wordSize)...)
}

func weiToEther(word []byte) float64 {
	if len(word) > wordSize {
		word = word[:wordSize]
	}
	return decimal.NewFromBigInt(new(big.Int).SetBytes(word), -18).InexactFloat64()
}

func uintWord(n uint64) []byte {
	w := make([]byte, wordSize)
	binary.BigEndian.PutUint64(w[wordSize-8:], n)
	return w
}

func paddedLen(n int) int {
	return (n + wordSize - 1) / wordSize * wordSize
}

// EncodeAggregate3 ABI-encodes aggregate3((address,bool,bytes)[]) calldata.
//
//	selector | 0x20 | N | offset[0..N) | element[0..N)
//	element  = target | allowFailure | 0x60 | len(data) | data (right padded)
//
// Element offsets are relative to the first offset word.
func EncodeAggregate3(calls []Call3) []byte {
	elements := make([][]byte, len(calls))
	for i, c := range calls {
		el := make([]byte, 0, 4*wordSize+paddedLen(len(c.CallData)))
		el = append(el, common.LeftPadBytes(c.Target.Bytes(), wordSize)...)
		if c.AllowFailure {
			el = append(el, uintWord(1)...)
		} else {
			el = append(el, uintWord(0)...)
		}
		el = append(el, uintWord(3*wordSize)...)
		el = append(el, uintWord(uint64(len(c.CallData)))...)
		el = append(el, common.RightPadBytes(c.CallData, paddedLen(len(c.CallData)))...)
		elements[i] = el
	}

	out := make([]byte, 0, 4+2*wordSize+len(calls)*wordSize)
	out = append(out, aggregate3Selector...)
	out = append(out, uintWord(wordSize)...)
	out = append(out, uintWord(uint64(len(calls)))...)

	offset := len(calls) * wordSize
	for _, el := range elements {
		out = append(out, uintWord(uint64(offset))...)
		offset += len(el)
	}
	for _, el := range elements {
		out = append(out, el...)
	}
	return out
}

var errShortResult = errors.New("aggregate3 result truncated")

// DecodeAggregate3Results decodes the (bool,bytes)[] returned by aggregate3.
func DecodeAggregate3Results(data []byte) ([]Result3, error) {
	arrOffset, err := readOffset(data, 0)
	if err != nil {
		return nil, fmt.Errorf("array offset: %w", err)
	}
	n, err := readOffset(data, arrOffset)
	if err != nil {
		return nil, fmt.Errorf("array length: %w", err)
	}
	base := arrOffset + wordSize
	if n > (len(data)-base)/wordSize {
		return nil, fmt.Errorf("array length %d: %w", n, errShortResult)
	}

	results := make([]Result3, n)
	for i := 0; i < n; i++ {
		rel, err := readOffset(data, base+i*wordSize)
		if err != nil {
			return nil, fmt.Errorf("element %d offset: %w", i, err)
		}
		elem := base + rel

		success, err := readWord(data, elem)
		if err != nil {
			return nil, fmt.Errorf("element %d success: %w", i, err)
		}
		bytesRel, err := readOffset(data, elem+wordSize)
		if err != nil {
			return nil, fmt.Errorf("element %d data offset: %w", i, err)
		}
		bytesAt := elem + bytesRel
		size, err := readOffset(data, bytesAt)
		if err != nil {
			return nil, fmt.Errorf("element %d data length: %w", i, err)
		}
		start := bytesAt + wordSize
		if size > len(data)-start {
			return nil, fmt.Errorf("element %d data: %w", i, errShortResult)
		}

		results[i] = Result3{
			Success:    new(big.Int).SetBytes(success).Sign() != 0,
			ReturnData: common.CopyBytes(data[start : start+size]),
		}
	}
	return results, nil
}

func readWord(data []byte, at int) ([]byte, error) {
	if at < 0 || at > len(data)-wordSize {
		return nil, errShortResult
	}
	return data[at : at+wordSize], nil
}

// readOffset reads a word that must fit comfortably in an int.
func readOffset(data []byte, at int) (int, error) {
	w, err := readWord(data, at)
	if err != nil {
		return 0, err
	}
	for _, b := range w[:wordSize-4] {
		if b != 0 {
			return 0, fmt.Errorf("offset at %d out of range", at)
		}
	}
	return int(binary.BigEndian.Uint32(w[wordSize-4:])), nil
}
