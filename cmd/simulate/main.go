package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/store"
	"github.com/TeneoProtocolAI/agent-network/internal/api"
	"github.com/TeneoProtocolAI/agent-network/internal/app"
	"github.com/TeneoProtocolAI/agent-network/internal/config"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
	"github.com/TeneoProtocolAI/agent-network/internal/observability"
	"github.com/TeneoProtocolAI/agent-network/pkg/version"
)

func main() {
	asJSON := flag.Bool("json", false, "Print the snapshot as JSON instead of the leaderboard")
	out := flag.String("out", "", "Persist the snapshot to this file store")
	top := flag.Int("top", 20, "Agents shown in the leaderboard")
	swaps := flag.Int("swaps", 10, "Swaps shown under the leaderboard")
	adminToken := flag.Bool("admin-token", false, "Print an admin token signed with ADMIN_TOKEN and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "Lifetime of the printed admin token (0 = no expiry)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if *adminToken {
		token, err := api.IssueAdminToken(cfg.AdminToken, *tokenTTL, time.Now())
		if err != nil {
			fmt.Fprintf(os.Stderr, "admin token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	// Logs go to stderr so -json output stays clean.
	observability.SetupLogger(cfg.LogLevel, !*asJSON)

	state, err := simulate(cfg, *out)
	if err != nil {
		log.Fatal().Err(err).Msg("simulation failed")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(state); err != nil {
			log.Fatal().Err(err).Msg("encode snapshot")
		}
		return
	}
	printLeaderboard(state, *top, *swaps)
}

func simulate(cfg *config.Config, out string) (*domain.NetworkState, error) {
	ctx := context.Background()

	var st domain.SnapshotStore = store.NewMemoryStore()
	if out != "" {
		fs, err := store.NewFileStore(out)
		if err != nil {
			return nil, err
		}
		st = fs
	}
	defer st.Close()

	pipeline, err := app.NewPipeline(ctx, cfg, st, nil)
	if err != nil {
		return nil, err
	}
	defer pipeline.Close()

	if _, err := pipeline.Run(ctx); err != nil {
		return nil, err
	}

	raw, err := st.GetState(ctx)
	if err != nil {
		return nil, fmt.Errorf("read published snapshot: %w", err)
	}
	var state domain.NetworkState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &state, nil
}

func printLeaderboard(state *domain.NetworkState, top, swaps int) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen, color.Bold)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	faint := color.New(color.Faint)

	cyan.Println("\n" + strings.Repeat("=", 96))
	cyan.Printf("%s v%s\n", version.ProjectName, version.Version())
	cyan.Println(strings.Repeat("=", 96))

	if len(state.Agents) == 0 {
		yellow.Println("No agent qualified this run.")
		return
	}

	if state.Goal != nil {
		yellow.Printf("Goal: %s (%s, weight %.2f)\n", state.Goal.Name, state.Goal.Metric, state.Goal.Weight)
	}
	green.Printf("%d agents, %d notable swaps, %d cross-holding edges\n\n",
		len(state.Agents), len(state.Swaps), len(state.CrossEdges))

	fmt.Printf("%-4s %-24s %-10s %5s  %4s %4s %4s %4s  %7s %9s %6s\n",
		"#", "AGENT", "SYMBOL", "POWER", "REV", "MKT", "NET", "VIT", "HOLDERS", "MCAP ETH", "CROSS")
	for i, a := range state.Agents {
		if i >= top {
			break
		}
		scoreColor := red
		switch {
		case a.PowerScore.Total >= 70:
			scoreColor = green
		case a.PowerScore.Total >= 40:
			scoreColor = yellow
		}
		fmt.Printf("%-4d %-24s %-10s ", i+1, truncate(a.Name, 24), truncate(a.Symbol, 10))
		scoreColor.Printf("%5d", a.PowerScore.Total)
		fmt.Printf("  %4d %4d %4d %4d  %7d %9.3f %6d\n",
			a.PowerScore.Revenue, a.PowerScore.Market, a.PowerScore.Network, a.PowerScore.Vitality,
			a.Holders, a.MarketCapETH, a.CrossHoldings)
	}

	if swaps <= 0 || len(state.Swaps) == 0 {
		return
	}
	cyan.Println("\nLatest swaps")
	for i, s := range state.Swaps {
		if i >= swaps {
			break
		}
		side := green.Sprint("BUY ")
		if s.Type == domain.SideSell {
			side = red.Sprint("SELL")
		}
		maker := observability.Abbrev(s.Maker)
		if s.MakerName != nil {
			maker = *s.MakerName
		}
		fmt.Printf("%s %s %8.4f ETH %-10s by %s", faint.Sprint(time.Unix(s.Timestamp, 0).UTC().Format("15:04:05")),
			side, s.AmountETH, truncate(s.TokenSymbol, 10), maker)
		if s.IsCrossTrade {
			yellow.Print(" [cross]")
		}
		if s.Memo != nil {
			faint.Printf(" %q", *s.Memo)
		}
		fmt.Println()
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
