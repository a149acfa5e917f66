package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

// TokenHolding is the input of BuildRelationships: one qualified token with
// its creator and full holder list.
type TokenHolding struct {
	TokenAddress string
	Name         string
	Symbol       string
	Owner        string
	Holders      []domain.Holder
}

// CreatorInfo identifies the agent a creator wallet belongs to.
type CreatorInfo struct {
	Name         string
	Symbol       string
	TokenAddress string
}

// Label is the "name (symbol)" form shown as a swap maker.
func (c CreatorInfo) Label() string {
	return fmt.Sprintf("%s (%s)", c.Name, c.Symbol)
}

// SwapClass is how a trade relates to the tracked agents.
type SwapClass struct {
	Wash  bool // maker is the token's own creator
	Cross bool // maker is another agent's creator
	Agent bool // maker is any agent's creator
}

// Relationships indexes who holds what among the qualified tokens.
// All keys are lower-case.
type Relationships struct {
	holdings map[string]map[string]struct{}
	created  map[string]map[string]struct{}
	creators map[string]CreatorInfo
}

// BuildRelationships inverts the holder lists into wallet holdings and indexes
// creator wallets. When two tokens share a creator the later one wins.
func BuildRelationships(tokens []TokenHolding) *Relationships {
	r := &Relationships{
		holdings: make(map[string]map[string]struct{}),
		created:  make(map[string]map[string]struct{}),
		creators: make(map[string]CreatorInfo),
	}

	for _, t := range tokens {
		token := strings.ToLower(t.TokenAddress)
		if t.Owner != "" {
			owner := strings.ToLower(t.Owner)
			r.creators[owner] = CreatorInfo{
				Name:         t.Name,
				Symbol:       t.Symbol,
				TokenAddress: t.TokenAddress,
			}
			addToSet(r.created, owner, token)
		}

		for _, h := range t.Holders {
			if wallet := strings.ToLower(h.ID); wallet != "" {
				addToSet(r.holdings, wallet, token)
			}
		}
	}
	return r
}

func addToSet(m map[string]map[string]struct{}, key, member string) {
	set, ok := m[key]
	if !ok {
		set = make(map[string]struct{})
		m[key] = set
	}
	set[member] = struct{}{}
}

// Holds reports whether wallet appears in token's holder list.
func (r *Relationships) Holds(wallet, token string) bool {
	_, ok := r.holdings[strings.ToLower(wallet)][strings.ToLower(token)]
	return ok
}

// HeldTokens returns the qualified tokens wallet holds, sorted.
func (r *Relationships) HeldTokens(wallet string) []string {
	held := r.holdings[strings.ToLower(wallet)]
	out := make([]string, 0, len(held))
	for token := range held {
		out = append(out, token)
	}
	sort.Strings(out)
	return out
}

// Creator looks up the agent behind a creator wallet.
func (r *Relationships) Creator(wallet string) (CreatorInfo, bool) {
	info, ok := r.creators[strings.ToLower(wallet)]
	return info, ok
}

// IsCreator reports whether wallet created one of the qualified tokens.
func (r *Relationships) IsCreator(wallet string) bool {
	_, ok := r.creators[strings.ToLower(wallet)]
	return ok
}

// Creators returns every creator wallet, sorted.
func (r *Relationships) Creators() []string {
	out := make([]string, 0, len(r.creators))
	for c := range r.creators {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// CrossHoldings counts the other qualified tokens held by owner.
func (r *Relationships) CrossHoldings(owner, token string) int {
	held := r.holdings[strings.ToLower(owner)]
	if len(held) == 0 {
		return 0
	}
	n := len(held)
	if _, ok := held[strings.ToLower(token)]; ok {
		n--
	}
	return n
}

// ClassifySwap relates a swap maker to the creator of the traded token.
func (r *Relationships) ClassifySwap(maker, owner string) SwapClass {
	m := strings.ToLower(maker)
	wash := m != "" && m == strings.ToLower(owner)
	agent := r.IsCreator(m)
	return SwapClass{
		Wash:  wash,
		Cross: !wash && agent,
		Agent: agent,
	}
}

// Edges returns one undirected edge per pair of tokens linked by a creator
// holding the other token. Holder is the first creator seen for the pair and
// Weight counts the wallets exposed to both tokens, either as holder or as
// creator.
func (r *Relationships) Edges(agents []domain.Agent) []domain.CrossHoldingEdge {
	edges := []domain.CrossHoldingEdge{}
	seen := make(map[string]struct{})

	for _, a := range agents {
		owner := strings.ToLower(a.Creator)
		if owner == "" {
			continue
		}
		own := strings.ToLower(a.TokenAddress)

		for _, held := range r.HeldTokens(owner) {
			if held == own {
				continue
			}
			key := pairKey(own, held)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}

			edges = append(edges, domain.CrossHoldingEdge{
				TokenA: a.TokenAddress,
				TokenB: held,
				Holder: owner,
				Weight: r.sharedHolders(own, held),
			})
		}
	}
	return edges
}

func (r *Relationships) sharedHolders(a, b string) int {
	n := 0
	for wallet := range r.holdings {
		if r.exposed(wallet, a) && r.exposed(wallet, b) {
			n++
		}
	}
	return n
}

func (r *Relationships) exposed(wallet, token string) bool {
	if _, ok := r.holdings[wallet][token]; ok {
		return true
	}
	_, ok := r.created[wallet][token]
	return ok
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "-" + b
}

// OnboardCredits lists, per lower-case token address, the other agents whose
// creator holds that token.
func (r *Relationships) OnboardCredits(agents []domain.Agent) map[string][]domain.OnboardCredit {
	out := make(map[string][]domain.OnboardCredit, len(agents))
	for _, a := range agents {
		token := strings.ToLower(a.TokenAddress)
		credits := []domain.OnboardCredit{}
		for _, other := range agents {
			if strings.EqualFold(other.TokenAddress, a.TokenAddress) || other.Creator == "" {
				continue
			}
			if r.Holds(other.Creator, token) {
				credits = append(credits, domain.OnboardCredit{
					AgentAddress: other.TokenAddress,
					AgentName:    other.Name,
				})
			}
		}
		out[token] = credits
	}
	return out
}
