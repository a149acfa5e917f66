package domain

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PowerScore is the composite reputation of an agent. All values are in [0,100].
type PowerScore struct {
	Total    int `json:"total"`
	Revenue  int `json:"revenue"`
	Market   int `json:"market"`
	Network  int `json:"network"`
	Vitality int `json:"vitality"`
}

// NetworkGoal is an externally configured objective that reweights scoring.
type NetworkGoal struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Metric      string  `json:"metric"`
	Weight      float64 `json:"weight"`
	StartedAt   int64   `json:"startedAt"`        // unix ms
	EndsAt      *int64  `json:"endsAt,omitempty"` // unix ms, nil = open ended
}

// GoalMetricOnboards rewards agents whose token is held by other agents' creators.
const GoalMetricOnboards = "onboards"

// Validate checks the goal fields an admin is allowed to set.
func (g *NetworkGoal) Validate() error {
	if strings.TrimSpace(g.Name) == "" {
		return errors.New("goal name is required")
	}
	if strings.TrimSpace(g.Metric) == "" {
		return errors.New("goal metric is required")
	}
	if g.Weight < 0 || g.Weight > 1 {
		return errors.New("goal weight must be within [0,1]")
	}
	if g.EndsAt != nil && *g.EndsAt <= g.StartedAt {
		return errors.New("goal must end after it starts")
	}
	return nil
}

// Active reports whether the goal should influence scoring at now.
func (g *NetworkGoal) Active(now time.Time) bool {
	if g == nil || g.Weight <= 0 {
		return false
	}
	ms := now.UnixMilli()
	if g.StartedAt > ms {
		return false
	}
	return g.EndsAt == nil || *g.EndsAt > ms
}

// OnboardCredit names another agent whose creator holds this agent's token.
type OnboardCredit struct {
	AgentAddress string `json:"agentAddress"`
	AgentName    string `json:"agentName"`
}

// PlayerType classifies a network participant.
type PlayerType string

// PlayerAgent is the only type the indexer assigns.
const PlayerAgent PlayerType = "agent"

// Agent is one tracked token in the network, rebuilt from scratch every run.
type Agent struct {
	TokenAddress string `json:"tokenAddress"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Creator      string `json:"creator"`

	MarketCapETH   float64 `json:"marketCapETH"`
	Volume24hETH   float64 `json:"volume24hETH"`
	PriceChange24h float64 `json:"priceChange24h"`
	ClaimableETH   float64 `json:"claimableETH"`
	WalletETH      float64 `json:"walletETH"`

	Image       string `json:"image"`
	Description string `json:"description"`
	FlaunchURL  string `json:"flaunchUrl"`

	Holders         int `json:"holders"`
	CrossHoldings   int `json:"crossHoldings"`
	RecentSwaps     int `json:"recentSwaps"`
	CrossTradeCount int `json:"crossTradeCount"`
	MemoCount       int `json:"memoCount"`

	PowerScore PowerScore      `json:"powerScore"`
	GoalScore  int             `json:"goalScore"`
	Onboards   []OnboardCredit `json:"onboards"`
	Type       PlayerType      `json:"type"`
}

// SwapSide is the direction of a trade.
type SwapSide string

const (
	SideBuy  SwapSide = "buy"
	SideSell SwapSide = "sell"
)

// SwapEvent is one notable trade. TransactionHash is unique within a snapshot.
type SwapEvent struct {
	TokenAddress      string   `json:"tokenAddress"`
	TokenName         string   `json:"tokenName"`
	TokenSymbol       string   `json:"tokenSymbol"`
	Maker             string   `json:"maker"`
	MakerName         *string  `json:"makerName"`
	MakerTokenAddress *string  `json:"makerTokenAddress"`
	Type              SwapSide `json:"type"`
	AmountETH         float64  `json:"amountETH"`
	Timestamp         int64    `json:"timestamp"` // unix seconds
	TransactionHash   string   `json:"transactionHash"`
	IsCrossTrade      bool     `json:"isCrossTrade"`
	IsAgentSwap       bool     `json:"isAgentSwap"`
	Memo              *string  `json:"memo"`
}

// CrossHoldingEdge links two agent tokens where one token's creator holds the
// other. One edge exists per unordered pair; Weight counts the wallets exposed
// to both tokens as holder or creator.
type CrossHoldingEdge struct {
	TokenA string `json:"tokenA"`
	TokenB string `json:"tokenB"`
	Holder string `json:"holder"`
	Weight int    `json:"weight"`
}

// NetworkState is the published snapshot. Consumers only ever see a complete one.
type NetworkState struct {
	Agents     []Agent            `json:"agents"`
	Swaps      []SwapEvent        `json:"swaps"`
	CrossEdges []CrossHoldingEdge `json:"crossEdges"`
	Goal       *NetworkGoal       `json:"goal"`
	Timestamp  int64              `json:"timestamp"` // unix ms
}

// EmptyState is the snapshot published when no token qualifies.
func EmptyState(now time.Time) *NetworkState {
	return &NetworkState{
		Agents:     []Agent{},
		Swaps:      []SwapEvent{},
		CrossEdges: []CrossHoldingEdge{},
		Goal:       nil,
		Timestamp:  now.UnixMilli(),
	}
}

// ListToken is a token as returned by the listing endpoint.
type ListToken struct {
	TokenAddress    string `json:"tokenAddress"`
	Symbol          string `json:"symbol"`
	Name            string `json:"name"`
	PositionManager string `json:"positionManager"`
	MarketCapETH    string `json:"marketCapETH"` // wei
	CreatedAt       int64  `json:"createdAt"`
	Image           string `json:"image"`
	Description     string `json:"description"`
}

// TokenDetails is the per-token detail record.
type TokenDetails struct {
	TokenAddress string `json:"tokenAddress"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Image        string `json:"image"`
	Description  string `json:"description"`
	Price        struct {
		MarketCapETH   string `json:"marketCapETH"`
		PriceChange24h string `json:"priceChange24h"`
	} `json:"price"`
	Volume struct {
		Volume24h string `json:"volume24h"`
	} `json:"volume"`
	Status struct {
		Owner     string `json:"owner"`
		CreatedAt int64  `json:"createdAt"`
	} `json:"status"`
}

// Owner returns the creator wallet, or "" when details are missing.
func (d *TokenDetails) Owner() string {
	if d == nil {
		return ""
	}
	return d.Status.Owner
}

// Holder is one entry of a token's holder list.
type Holder struct {
	ID      string `json:"id"`
	Balance string `json:"balance"`
}

// HolderPage is the accumulated holder list of a token.
type HolderPage struct {
	Holders      []Holder
	TotalHolders int
}

// Swap is a normalized trade from the token swap feed.
type Swap struct {
	Maker           string
	Type            string
	AmountETH       float64
	Timestamp       int64 // unix seconds
	TransactionHash string
}

// WalletTx is an outgoing native transfer of a tracked wallet.
type WalletTx struct {
	Hash      string
	To        string
	Value     float64
	Timestamp time.Time
	Memo      *string
}

// WeiToEth converts a base-10 wei string into ether. Malformed input is zero.
func WeiToEth(wei string) float64 {
	if wei == "" {
		return 0
	}
	d, err := decimal.NewFromString(wei)
	if err != nil {
		return 0
	}
	return d.Shift(-18).InexactFloat64()
}

// ParseFloat parses a decimal string leniently. Malformed input is zero.
func ParseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}
