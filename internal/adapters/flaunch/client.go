// Package flaunch reads agent tokens, holders and swaps from the Flaunch data API.
package flaunch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/TeneoProtocolAI/agent-network/internal/adapters/gateway"
	"github.com/TeneoProtocolAI/agent-network/internal/core/domain"
)

const (
	TokensPerPage  = 100
	HoldersPerPage = 100
	SwapsLimit     = 100
)

// Client implements domain.TokenSource over the Flaunch REST API.
type Client struct {
	baseURL        string
	managerAddress string
	gw             *gateway.Client
}

// NewClient creates a client for apiURL listing tokens of managerAddress.
func NewClient(apiURL, managerAddress string, gw *gateway.Client) *Client {
	return &Client{
		baseURL:        strings.TrimRight(apiURL, "/"),
		managerAddress: managerAddress,
		gw:             gw,
	}
}

var _ domain.TokenSource = (*Client)(nil)

// ListTokens pages the listing newest first until an empty or short page.
func (c *Client) ListTokens(ctx context.Context) ([]domain.ListToken, error) {
	var all []domain.ListToken

	for offset := 0; ; offset += TokensPerPage {
		q := url.Values{}
		q.Set("managerAddress", c.managerAddress)
		q.Set("orderBy", "datecreated")
		q.Set("orderDirection", "desc")
		q.Set("limit", fmt.Sprint(TokensPerPage))
		q.Set("offset", fmt.Sprint(offset))

		resp, err := c.gw.Get(ctx, c.baseURL+"/tokens?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("list tokens at offset %d: %w", offset, err)
		}
		if !resp.IsSuccess() {
			log.Warn().Int("status", resp.StatusCode()).Int("offset", offset).Msg("token listing stopped")
			break
		}

		var page listResponse
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("decode token page at offset %d: %w", offset, err)
		}
		if len(page.Data) == 0 {
			break
		}
		all = append(all, page.Data...)
		if len(page.Data) < TokensPerPage {
			break
		}
	}

	return all, nil
}

// TokenDetails returns nil on any failure.
func (c *Client) TokenDetails(ctx context.Context, tokenAddress string) *domain.TokenDetails {
	resp, err := c.gw.Get(ctx, fmt.Sprintf("%s/tokens/%s/details", c.baseURL, tokenAddress))
	if err != nil {
		log.Debug().Err(err).Str("token", tokenAddress).Msg("details fetch failed")
		return nil
	}
	if !resp.IsSuccess() {
		return nil
	}

	var details domain.TokenDetails
	if err := json.Unmarshal(resp.Body(), &details); err != nil {
		log.Debug().Err(err).Str("token", tokenAddress).Msg("details decode failed")
		return nil
	}
	return &details
}

// Holders accumulates holder pages until the reported total or a short page.
// On failure it returns whatever was collected so far.
func (c *Client) Holders(ctx context.Context, tokenAddress string) domain.HolderPage {
	var all []domain.Holder
	total := 0

	for offset := 0; ; offset += HoldersPerPage {
		u := fmt.Sprintf("%s/tokens/%s/holders?limit=%d&offset=%d", c.baseURL, tokenAddress, HoldersPerPage, offset)
		resp, err := c.gw.Get(ctx, u)
		if err != nil {
			log.Debug().Err(err).Str("token", tokenAddress).Int("offset", offset).Msg("holders fetch failed")
			break
		}
		if !resp.IsSuccess() {
			break
		}

		var body holdersResponse
		if err := json.Unmarshal(resp.Body(), &body); err != nil {
			log.Debug().Err(err).Str("token", tokenAddress).Msg("holders decode failed")
			break
		}
		if n := int(body.TotalHolders.IntPart()); n > 0 {
			total = n
		}

		page := body.page()
		if len(page) == 0 {
			break
		}
		all = append(all, page...)
		if len(all) >= total || len(page) < HoldersPerPage {
			break
		}
	}

	if total == 0 {
		total = len(all)
	}
	return domain.HolderPage{Holders: all, TotalHolders: total}
}

// Swaps returns the latest trades with native amounts in ether.
func (c *Client) Swaps(ctx context.Context, tokenAddress string) []domain.Swap {
	resp, err := c.gw.Get(ctx, fmt.Sprintf("%s/tokens/%s/swaps?limit=%d", c.baseURL, tokenAddress, SwapsLimit))
	if err != nil {
		log.Debug().Err(err).Str("token", tokenAddress).Msg("swaps fetch failed")
		return nil
	}
	if !resp.IsSuccess() {
		return nil
	}

	var body swapsResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		log.Debug().Err(err).Str("token", tokenAddress).Msg("swaps decode failed")
		return nil
	}

	raw := body.list()
	swaps := make([]domain.Swap, 0, len(raw))
	for _, s := range raw {
		swaps = append(swaps, domain.Swap{
			Maker:           s.Maker,
			Type:            strings.ToLower(s.Type),
			AmountETH:       s.amountETH(),
			Timestamp:       s.Timestamp,
			TransactionHash: s.TxHash,
		})
	}
	return swaps
}
