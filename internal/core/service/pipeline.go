package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
)

// ErrAborted is returned when a run is cancelled or times out between stages.
// Nothing is published in that case.
var ErrAborted = errors.New("pipeline aborted")

// Stage is a step of a pipeline run.
type Stage string

const (
	StageDiscovering        Stage = "discovering"
	StageFilteringByMcap    Stage = "filtering-by-mcap"
	StageFilteringByHolders Stage = "filtering-by-holders"
	StageEnriching          Stage = "enriching"
	StageReadingBalances    Stage = "reading-balances"
	StageRelating           Stage = "relating"
	StageResolvingMemos     Stage = "resolving-memos"
	StageScoring            Stage = "scoring"
	StagePublishing         Stage = "publishing"
	StageDone               Stage = "done"
)

const (
	defaultUnnamed = "unnamed"
	defaultSymbol  = "???"
	unknownToken   = "unknown"
)

type Options struct {
	MinMarketCapETH float64 // strictly greater than
	MinHolders      int     // inclusive
	WhaleETH        float64 // inclusive
	LookBack        time.Duration
	WalletTxLimit   int
	MaxSwaps        int

	Timeout  time.Duration // whole run, 0 disables
	StateTTL time.Duration
	MemoTTL  time.Duration

	FlaunchURL string
	Batch      gateway.BatchOptions

	Listeners []domain.SnapshotListener
	Metrics   *observability.Metrics
	Now       func() time.Time
}

func DefaultOptions() Options {
	return Options{
		MinMarketCapETH: 0.01,
		MinHolders:      5,
		WhaleETH:        0.1,
		LookBack:        24 * time.Hour,
		WalletTxLimit:   15,
		MaxSwaps:        100,
		Timeout:         90 * time.Second,
		StateTTL:        time.Hour,
		MemoTTL:         7 * 24 * time.Hour,
		FlaunchURL:      "https://flaunch.gg/base",
		Batch:           gateway.DefaultBatchOptions(),
		Now:             time.Now,
	}
}

// RunResult summarizes one pipeline run.
type RunResult struct {
	Stage     Stage         `json:"stage"`
	Empty     bool          `json:"empty"`
	Agents    int           `json:"agents"`
	Swaps     int           `json:"swaps"`
	Edges     int           `json:"edges"`
	Memos     int           `json:"memos"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Pipeline builds and publishes the network snapshot.
type Pipeline struct {
	tokens   domain.TokenSource
	balances domain.BalanceReader
	wallets  domain.WalletActivity
	store    domain.SnapshotStore
	scorer   domain.PowerScorer
	opts     Options
}

func NewPipeline(
	tokens domain.TokenSource,
	balances domain.BalanceReader,
	wallets domain.WalletActivity,
	store domain.SnapshotStore,
	scorer domain.PowerScorer,
	opts Options,
) *Pipeline {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if scorer == nil {
		scorer = NewPowerScorer()
	}
	return &Pipeline{
		tokens:   tokens,
		balances: balances,
		wallets:  wallets,
		store:    store,
		scorer:   scorer,
		opts:     opts,
	}
}

// AddListener registers a listener notified after each publication.
// It must be called before the first Run.
func (p *Pipeline) AddListener(l domain.SnapshotListener) {
	p.opts.Listeners = append(p.opts.Listeners, l)
}

// enrichment is everything fetched for one qualified token.
type enrichment struct {
	details      *domain.TokenDetails
	holders      []domain.Holder
	totalHolders int
	swaps        []domain.Swap
}

// run carries the working set of one Run.
type run struct {
	res *RunResult
	now time.Time

	goal       *domain.NetworkGoal
	candidates []domain.ListToken
	qualified  []domain.ListToken
	holderPre  map[string]domain.HolderPage
	enriched   map[string]*enrichment
	owners     []string
	claimable  map[string]float64
	wallet     map[string]float64
	rels       *Relationships
	agents     []domain.Agent
	swaps      []domain.SwapEvent
	edges      []domain.CrossHoldingEdge
}

// Run executes one full pass. It returns an error only when the run was
// aborted, discovery failed or the snapshot could not be stored; in each of
// those cases the previously published snapshot is left untouched.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if p.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.Timeout)
		defer cancel()
	}

	r := &run{
		res: &RunResult{StartedAt: p.opts.Now()},
		now: p.opts.Now(),
	}
	log.Info().Msg("pipeline starting")

	state, err := p.build(ctx, r)
	if err == nil {
		err = p.publish(ctx, r, state)
	}

	r.res.Duration = p.opts.Now().Sub(r.res.StartedAt)
	if err != nil {
		r.res.Error = err.Error()
		result := "failed"
		if errors.Is(err, ErrAborted) {
			result = "aborted"
		}
		p.opts.Metrics.ObserveRun(result, r.res.Duration)
		log.Error().Err(err).Str("stage", string(r.res.Stage)).Msg("pipeline run failed")
		return r.res, err
	}

	r.res.Stage = StageDone
	p.opts.Metrics.ObserveRun("published", r.res.Duration)
	p.notify(ctx, state)
	log.Info().
		Int("agents", r.res.Agents).
		Int("swaps", r.res.Swaps).
		Int("edges", r.res.Edges).
		Dur("took", r.res.Duration).
		Msg("pipeline complete")
	return r.res, nil
}

// enter moves the run to stage unless its context is done.
func (p *Pipeline) enter(ctx context.Context, r *run, stage Stage) error {
	r.res.Stage = stage
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w during %s: %w", ErrAborted, stage, err)
	}
	return nil
}

func (p *Pipeline) build(ctx context.Context, r *run) (*domain.NetworkState, error) {
	r.goal = p.loadGoal(ctx)

	if err := p.enter(ctx, r, StageDiscovering); err != nil {
		return nil, err
	}
	tokens, err := p.tokens.ListTokens(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w during %s: %w", ErrAborted, StageDiscovering, err)
		}
		return nil, fmt.Errorf("discover tokens: %w", err)
	}
	log.Info().Int("tokens", len(tokens)).Msg("discovered tokens")
	if len(tokens) == 0 {
		return p.empty(r), nil
	}

	if err := p.enter(ctx, r, StageFilteringByMcap); err != nil {
		return nil, err
	}
	r.candidates = p.filterByMarketCap(tokens)
	log.Info().Int("candidates", len(r.candidates)).Float64("min_mcap_eth", p.opts.MinMarketCapETH).Msg("market cap filter")
	if len(r.candidates) == 0 {
		return p.empty(r), nil
	}

	if err := p.enter(ctx, r, StageFilteringByHolders); err != nil {
		return nil, err
	}
	p.fetchHolders(ctx, r)
	for _, t := range r.candidates {
		if r.holderPre[strings.ToLower(t.TokenAddress)].TotalHolders >= p.opts.MinHolders {
			r.qualified = append(r.qualified, t)
		}
	}
	log.Info().
		Int("qualified", len(r.qualified)).
		Int("candidates", len(r.candidates)).
		Int("min_holders", p.opts.MinHolders).
		Msg("holder filter")
	if len(r.qualified) == 0 {
		return p.empty(r), nil
	}

	if err := p.enter(ctx, r, StageEnriching); err != nil {
		return nil, err
	}
	p.enrich(ctx, r)
	log.Info().Int("enriched", len(r.enriched)).Msg("enriched tokens")

	if err := p.enter(ctx, r, StageReadingBalances); err != nil {
		return nil, err
	}
	r.owners = p.distinctOwners(r)
	r.claimable, r.wallet = p.balances.BatchReadBalances(ctx, r.owners)
	log.Info().Int("owners", len(r.owners)).Int("claimable", len(r.claimable)).Msg("read balances")

	if err := p.enter(ctx, r, StageRelating); err != nil {
		return nil, err
	}
	p.relate(r)

	if err := p.enter(ctx, r, StageResolvingMemos); err != nil {
		return nil, err
	}
	p.resolveMemos(ctx, r)
	p.mergeWalletActivity(ctx, r)

	if err := p.enter(ctx, r, StageScoring); err != nil {
		return nil, err
	}
	p.score(r)

	sort.SliceStable(r.swaps, func(i, j int) bool {
		return r.swaps[i].Timestamp > r.swaps[j].Timestamp
	})
	if p.opts.MaxSwaps > 0 && len(r.swaps) > p.opts.MaxSwaps {
		r.swaps = r.swaps[:p.opts.MaxSwaps]
	}

	return &domain.NetworkState{
		Agents:     r.agents,
		Swaps:      r.swaps,
		CrossEdges: r.edges,
		Goal:       r.goal,
		Timestamp:  p.opts.Now().UnixMilli(),
	}, nil
}

func (p *Pipeline) loadGoal(ctx context.Context) *domain.NetworkGoal {
	goal, err := p.store.GetGoal(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			log.Warn().Err(err).Msg("could not read goal, scoring without one")
		}
		return nil
	}
	return goal
}

func (p *Pipeline) empty(r *run) *domain.NetworkState {
	r.res.Empty = true
	return domain.EmptyState(p.opts.Now())
}

func (p *Pipeline) filterByMarketCap(tokens []domain.ListToken) []domain.ListToken {
	out := make([]domain.ListToken, 0, len(tokens))
	for _, t := range tokens {
		if domain.WeiToEth(t.MarketCapETH) > p.opts.MinMarketCapETH {
			out = append(out, t)
		}
	}
	return out
}

func (p *Pipeline) fetchHolders(ctx context.Context, r *run) {
	var mu sync.Mutex
	r.holderPre = make(map[string]domain.HolderPage, len(r.candidates))

	err := gateway.BatchedFetch(ctx, r.candidates, func(ctx context.Context, t domain.ListToken) error {
		page := p.tokens.Holders(ctx, t.TokenAddress)
		mu.Lock()
		r.holderPre[strings.ToLower(t.TokenAddress)] = page
		mu.Unlock()
		return nil
	}, p.opts.Batch)
	if err != nil {
		log.Warn().Err(err).Msg("holder fetch incomplete")
	}
}

func (p *Pipeline) enrich(ctx context.Context, r *run) {
	var mu sync.Mutex
	r.enriched = make(map[string]*enrichment, len(r.qualified))

	err := gateway.BatchedFetch(ctx, r.qualified, func(ctx context.Context, t domain.ListToken) error {
		key := strings.ToLower(t.TokenAddress)
		e := &enrichment{}

		var g errgroup.Group
		g.Go(func() error {
			e.details = p.tokens.TokenDetails(ctx, t.TokenAddress)
			return nil
		})
		g.Go(func() error {
			e.swaps = p.tokens.Swaps(ctx, t.TokenAddress)
			return nil
		})
		_ = g.Wait()

		mu.Lock()
		defer mu.Unlock()
		page := r.holderPre[key]
		e.holders = page.Holders
		e.totalHolders = page.TotalHolders
		r.enriched[key] = e
		return nil
	}, p.opts.Batch)
	if err != nil {
		log.Warn().Err(err).Msg("enrichment incomplete")
	}
}

// distinctOwners returns the creator wallets of the enriched tokens in
// listing order, deduplicated case-insensitively.
func (p *Pipeline) distinctOwners(r *run) []string {
	seen := make(map[string]struct{})
	var owners []string
	for _, t := range r.qualified {
		e := r.enriched[strings.ToLower(t.TokenAddress)]
		if e == nil {
			continue
		}
		owner := strings.ToLower(e.details.Owner())
		if owner == "" {
			continue
		}
		if _, ok := seen[owner]; ok {
			continue
		}
		seen[owner] = struct{}{}
		owners = append(owners, owner)
	}
	return owners
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func strPtr(s string) *string {
	return &s
}

// relate builds the agents, their notable swaps and the cross-holding edges.
func (p *Pipeline) relate(r *run) {
	holdings := make([]TokenHolding, 0, len(r.qualified))
	for _, t := range r.qualified {
		h := TokenHolding{
			TokenAddress: t.TokenAddress,
			Name:         orDefault(t.Name, defaultUnnamed),
			Symbol:       orDefault(t.Symbol, defaultSymbol),
		}
		if e := r.enriched[strings.ToLower(t.TokenAddress)]; e != nil {
			h.Owner = e.details.Owner()
			h.Holders = e.holders
		}
		holdings = append(holdings, h)
	}
	r.rels = BuildRelationships(holdings)

	cutoff := r.now.Add(-p.opts.LookBack).Unix()
	r.agents = make([]domain.Agent, 0, len(r.qualified))
	r.swaps = []domain.SwapEvent{}

	for _, t := range r.qualified {
		key := strings.ToLower(t.TokenAddress)
		e := r.enriched[key]
		if e == nil {
			e = &enrichment{}
		}
		owner := e.details.Owner()
		ownerLower := strings.ToLower(owner)
		name := orDefault(t.Name, defaultUnnamed)
		symbol := orDefault(t.Symbol, defaultSymbol)

		var recent, crossTrades int
		for _, s := range e.swaps {
			if s.Timestamp <= cutoff {
				continue
			}
			recent++

			class := r.rels.ClassifySwap(s.Maker, owner)
			if class.Cross {
				crossTrades++
			}
			if class.Wash {
				continue
			}
			if !class.Agent && !class.Cross && s.AmountETH < p.opts.WhaleETH {
				continue
			}

			ev := domain.SwapEvent{
				TokenAddress:    t.TokenAddress,
				TokenName:       name,
				TokenSymbol:     symbol,
				Maker:           s.Maker,
				Type:            domain.SideSell,
				AmountETH:       s.AmountETH,
				Timestamp:       s.Timestamp,
				TransactionHash: s.TransactionHash,
				IsCrossTrade:    class.Cross,
				IsAgentSwap:     class.Agent,
			}
			if s.Type == string(domain.SideBuy) {
				ev.Type = domain.SideBuy
			}
			if info, ok := r.rels.Creator(s.Maker); ok {
				ev.MakerName = strPtr(info.Label())
				ev.MakerTokenAddress = strPtr(info.TokenAddress)
			}
			r.swaps = append(r.swaps, ev)
		}

		agent := domain.Agent{
			TokenAddress:    t.TokenAddress,
			Name:            name,
			Symbol:          symbol,
			Creator:         owner,
			MarketCapETH:    domain.WeiToEth(t.MarketCapETH),
			ClaimableETH:    r.claimable[ownerLower],
			WalletETH:       r.wallet[ownerLower],
			Image:           t.Image,
			Description:     t.Description,
			FlaunchURL:      fmt.Sprintf("%s/coin/%s", strings.TrimRight(p.opts.FlaunchURL, "/"), t.TokenAddress),
			Holders:         e.totalHolders,
			CrossHoldings:   r.rels.CrossHoldings(ownerLower, key),
			RecentSwaps:     recent,
			CrossTradeCount: crossTrades,
			Onboards:        []domain.OnboardCredit{},
			Type:            domain.PlayerAgent,
		}
		if e.details != nil {
			agent.Volume24hETH = domain.WeiToEth(e.details.Volume.Volume24h)
			agent.PriceChange24h = domain.ParseFloat(e.details.Price.PriceChange24h)
		}
		r.agents = append(r.agents, agent)
	}

	r.edges = r.rels.Edges(r.agents)
	log.Info().
		Int("agents", len(r.agents)).
		Int("notable_swaps", len(r.swaps)).
		Int("edges", len(r.edges)).
		Msg("relationships built")
}

// resolveMemos fills memos of token-feed swaps, from the cache first and then
// one batched chain lookup.
func (p *Pipeline) resolveMemos(ctx context.Context, r *run) {
	var missing []string
	for i := range r.swaps {
		ev := &r.swaps[i]
		if ev.Memo != nil {
			continue
		}
		if m, err := p.store.GetMemo(ctx, ev.TransactionHash); err == nil && m != "" {
			ev.Memo = strPtr(m)
			continue
		}
		missing = append(missing, ev.TransactionHash)
	}
	if len(missing) == 0 {
		return
	}

	resolved := p.wallets.ResolveMemos(ctx, missing)
	for i := range r.swaps {
		ev := &r.swaps[i]
		if ev.Memo != nil {
			continue
		}
		if m, ok := resolved[ev.TransactionHash]; ok {
			ev.Memo = strPtr(m)
		}
	}
	for hash, m := range resolved {
		p.cacheMemo(ctx, hash, m)
	}
	r.res.Memos += len(resolved)
	log.Info().Int("resolved", len(resolved)).Int("requested", len(missing)).Msg("batch memos")
}

func (p *Pipeline) cacheMemo(ctx context.Context, hash, memo string) {
	if err := p.store.PutMemo(ctx, hash, memo, p.opts.MemoTTL); err != nil {
		log.Debug().Err(err).Str("tx", hash).Msg("memo cache write failed")
	}
}

// mergeWalletActivity adds each creator's own outgoing transfers to the swap
// list. Known hashes only contribute a missing memo.
func (p *Pipeline) mergeWalletActivity(ctx context.Context, r *run) {
	if len(r.owners) == 0 || p.opts.WalletTxLimit <= 0 {
		return
	}

	perOwner := make([][]domain.WalletTx, len(r.owners))
	indexes := make([]int, len(r.owners))
	for i := range indexes {
		indexes[i] = i
	}
	err := gateway.BatchedFetch(ctx, indexes, func(ctx context.Context, i int) error {
		perOwner[i] = p.wallets.WalletSwaps(ctx, r.owners[i], p.opts.WalletTxLimit)
		return nil
	}, p.opts.Batch)
	if err != nil {
		log.Warn().Err(err).Msg("wallet activity incomplete")
	}

	byHash := make(map[string]int, len(r.swaps))
	for i, ev := range r.swaps {
		byHash[ev.TransactionHash] = i
	}
	cutoff := r.now.Add(-p.opts.LookBack)

	added := 0
	for i, owner := range r.owners {
		info, isAgent := r.rels.Creator(owner)

		for _, tx := range perOwner[i] {
			if idx, ok := byHash[tx.Hash]; ok {
				if tx.Memo != nil && r.swaps[idx].Memo == nil {
					r.swaps[idx].Memo = strPtr(*tx.Memo)
				}
				continue
			}
			if !tx.Timestamp.After(cutoff) {
				continue
			}

			ev := domain.SwapEvent{
				TokenName:       unknownToken,
				TokenSymbol:     defaultSymbol,
				Maker:           owner,
				Type:            domain.SideBuy,
				AmountETH:       tx.Value,
				Timestamp:       tx.Timestamp.Unix(),
				TransactionHash: tx.Hash,
				IsAgentSwap:     true,
			}
			if isAgent {
				ev.TokenAddress = info.TokenAddress
				ev.TokenName = info.Name
				ev.TokenSymbol = info.Symbol
				ev.MakerName = strPtr(info.Label())
				ev.MakerTokenAddress = strPtr(info.TokenAddress)
			}
			if tx.Memo != nil {
				ev.Memo = strPtr(*tx.Memo)
				p.cacheMemo(ctx, tx.Hash, *tx.Memo)
			}

			byHash[tx.Hash] = len(r.swaps)
			r.swaps = append(r.swaps, ev)
			added++
		}
	}
	log.Info().Int("added", added).Int("wallets", len(r.owners)).Msg("wallet activity merged")
}

// score counts memos, applies goal credits and ranks the agents.
func (p *Pipeline) score(r *run) {
	memos := make(map[string]int)
	for _, ev := range r.swaps {
		if ev.Memo != nil {
			memos[strings.ToLower(ev.Maker)]++
		}
	}

	goalWeight := 0.0
	if r.goal.Active(r.now) {
		switch r.goal.Metric {
		case domain.GoalMetricOnboards:
			goalWeight = r.goal.Weight
			credits := r.rels.OnboardCredits(r.agents)
			for i := range r.agents {
				a := &r.agents[i]
				a.Onboards = credits[strings.ToLower(a.TokenAddress)]
				a.GoalScore = ComputeOnboardGoalScore(len(a.Onboards))
			}
			log.Info().Str("goal", r.goal.Name).Int("agents", len(r.agents)).Msg("onboard credits computed")
		default:
			log.Warn().Str("metric", r.goal.Metric).Msg("unknown goal metric, goal ignored")
		}
	}

	for i := range r.agents {
		a := &r.agents[i]
		if a.Creator != "" {
			a.MemoCount = memos[strings.ToLower(a.Creator)]
		}
		a.PowerScore = p.scorer.Score(a, goalWeight, a.GoalScore)
	}

	sort.SliceStable(r.agents, func(i, j int) bool {
		return r.agents[i].PowerScore.Total > r.agents[j].PowerScore.Total
	})
}

func (p *Pipeline) publish(ctx context.Context, r *run, state *domain.NetworkState) error {
	if err := p.enter(ctx, r, StagePublishing); err != nil {
		return err
	}
	if err := p.store.PutState(ctx, state, p.opts.StateTTL); err != nil {
		return fmt.Errorf("store snapshot: %w", err)
	}

	r.res.Agents = len(state.Agents)
	r.res.Swaps = len(state.Swaps)
	r.res.Edges = len(state.CrossEdges)
	p.opts.Metrics.ObservePublish(r.res.Agents, r.res.Swaps, r.res.Edges, time.UnixMilli(state.Timestamp))
	return nil
}

// notify hands the published snapshot to every listener. Listener failures
// are logged and counted only.
func (p *Pipeline) notify(ctx context.Context, state *domain.NetworkState) {
	for _, l := range p.opts.Listeners {
		if err := l.OnSnapshot(ctx, state); err != nil {
			p.opts.Metrics.ObserveListenerFailure(l.Name())
			log.Warn().Err(err).Str("listener", l.Name()).Msg("snapshot listener failed")
		}
	}
}
