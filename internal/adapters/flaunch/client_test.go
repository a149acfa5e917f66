package flaunch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

const rm = "0x3Bc08524d9DaaDEC9d1Af87818d809611F0fD669"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	gw := gateway.New(
		gateway.WithHTTPClient(server.Client()),
		gateway.WithBackoff(time.Millisecond, 1, 0),
	)
	return NewClient(server.URL+"/", rm, gw)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func tokens(from, n int) []domain.ListToken {
	out := make([]domain.ListToken, n)
	for i := range out {
		out[i] = domain.ListToken{TokenAddress: fmt.Sprintf("0x%040x", from+i), MarketCapETH: "1"}
	}
	return out
}

func TestListTokens_Paginates(t *testing.T) {
	var offsets []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/tokens", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, rm, q.Get("managerAddress"))
		assert.Equal(t, "datecreated", q.Get("orderBy"))
		assert.Equal(t, "desc", q.Get("orderDirection"))
		assert.Equal(t, "100", q.Get("limit"))
		offsets = append(offsets, q.Get("offset"))

		offset, _ := strconv.Atoi(q.Get("offset"))
		switch offset {
		case 0, 100:
			writeJSON(w, map[string]any{"data": tokens(offset, 100)})
		default:
			writeJSON(w, map[string]any{"data": tokens(offset, 7)})
		}
	})

	got, err := c.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 207)
	assert.Equal(t, []string{"0", "100", "200"}, offsets)
}

func TestListTokens_StopsOnEmptyPage(t *testing.T) {
	calls := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			writeJSON(w, map[string]any{"data": tokens(0, 100)})
			return
		}
		writeJSON(w, map[string]any{"data": []any{}})
	})

	got, err := c.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Len(t, got, 100)
	assert.Equal(t, 2, calls)
}

func TestListTokens_ClientErrorEndsListing(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	got, err := c.ListTokens(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestListTokens_ServerFailureAborts(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := c.ListTokens(context.Background())
	require.Error(t, err)
}

func TestTokenDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens/0xaaa/details":
			_, _ = w.Write([]byte(`{
				"tokenAddress": "0xaaa",
				"name": "Alpha",
				"price": {"marketCapETH": "2000000000000000000", "priceChange24h": "-12.5"},
				"volume": {"volume24h": "500000000000000000"},
				"status": {"owner": "0xOwner", "createdAt": 1700000000}
			}`))
		case "/tokens/0xbad/details":
			_, _ = w.Write([]byte(`{not json`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	d := c.TokenDetails(context.Background(), "0xaaa")
	require.NotNil(t, d)
	assert.Equal(t, "0xOwner", d.Owner())
	assert.Equal(t, 0.5, domain.WeiToEth(d.Volume.Volume24h))
	assert.Equal(t, -12.5, domain.ParseFloat(d.Price.PriceChange24h))

	assert.Nil(t, c.TokenDetails(context.Background(), "0xbad"))
	assert.Nil(t, c.TokenDetails(context.Background(), "0xmissing"))
}

func holders(n int) []map[string]string {
	out := make([]map[string]string, n)
	for i := range out {
		out[i] = map[string]string{"id": fmt.Sprintf("0x%040x", i), "balance": "1"}
	}
	return out
}

func TestHolders(t *testing.T) {
	tests := []struct {
		name      string
		handler   func(offset int) any
		wantLen   int
		wantTotal int
	}{
		{
			name: "stops at reported total",
			handler: func(offset int) any {
				return map[string]any{"holders": holders(100), "totalHolders": 200}
			},
			wantLen:   200,
			wantTotal: 200,
		},
		{
			name: "short page ends and data key is accepted",
			handler: func(offset int) any {
				return map[string]any{"data": holders(3), "totalHolders": "3"}
			},
			wantLen:   3,
			wantTotal: 3,
		},
		{
			name: "missing total falls back to count",
			handler: func(offset int) any {
				return map[string]any{"holders": holders(6)}
			},
			wantLen:   6,
			wantTotal: 6,
		},
		{
			name: "total larger than a single page",
			handler: func(offset int) any {
				if offset == 0 {
					return map[string]any{"holders": holders(100), "totalHolders": 150}
				}
				return map[string]any{"holders": holders(50), "totalHolders": 150}
			},
			wantLen:   150,
			wantTotal: 150,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/tokens/0xaaa/holders", r.URL.Path)
				assert.Equal(t, "100", r.URL.Query().Get("limit"))
				offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
				writeJSON(w, tt.handler(offset))
			})

			page := c.Holders(context.Background(), "0xaaa")
			assert.Len(t, page.Holders, tt.wantLen)
			assert.Equal(t, tt.wantTotal, page.TotalHolders)
		})
	}
}

func TestHolders_FailureReturnsEmpty(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	page := c.Holders(context.Background(), "0xaaa")
	assert.Empty(t, page.Holders)
	assert.Zero(t, page.TotalHolders)
}

func TestSwaps_Normalizes(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/0xaaa/swaps", r.URL.Path)
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"swaps": [
			{"maker": "0xM1", "type": "BUY", "timestamp": 1700000000, "txHash": "0x01",
			 "amounts": {"uniswap": {"amount0": "-250000000000000000", "amount1": "1"},
			             "isp": {"amount0": "50000000000000000", "amount1": "1"}}},
			{"maker": "0xM2", "type": "Sell", "timestamp": 1700000100, "txHash": "0x02",
			 "amounts": {"uniswap": {"amount0": 1000000000000000000}}}
		]}`))
	})

	swaps := c.Swaps(context.Background(), "0xaaa")
	require.Len(t, swaps, 2)

	assert.Equal(t, domain.Swap{
		Maker: "0xM1", Type: "buy", AmountETH: 0.3, Timestamp: 1700000000, TransactionHash: "0x01",
	}, swaps[0])
	assert.Equal(t, "sell", swaps[1].Type)
	assert.Equal(t, 1.0, swaps[1].AmountETH)
}

func TestSwaps_DataKeyAndFailures(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokens/0xdata/swaps":
			_, _ = w.Write([]byte(`{"data": [{"maker": "0xM", "type": "buy", "timestamp": 1, "txHash": "0x1"}]}`))
		case "/tokens/0xbad/swaps":
			_, _ = w.Write([]byte(`[]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	swaps := c.Swaps(context.Background(), "0xdata")
	require.Len(t, swaps, 1)
	assert.Zero(t, swaps[0].AmountETH)

	assert.Empty(t, c.Swaps(context.Background(), "0xbad"))
	assert.Empty(t, c.Swaps(context.Background(), "0xnone"))
}
