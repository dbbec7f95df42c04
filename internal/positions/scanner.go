// Package positions recovers holdings that predate the current process by
// querying the off-chain positions index and seeding the redemption queue.
package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/activity"
	"github.com/polyagent/updown/internal/redeem"
)

// syntheticEndOffset backdates recovered positions so the very next
// redemption tick picks them up
const syntheticEndOffset = 10 * time.Minute

// Position is one row from the positions index
type Position struct {
	TokenID     string          `json:"asset"`
	ConditionID string          `json:"conditionId"`
	Title       string          `json:"title"`
	Size        decimal.Decimal `json:"size"`
	CurPrice    decimal.Decimal `json:"curPrice"`
	Redeemable  bool            `json:"redeemable"`
	NegRisk     bool            `json:"negativeRisk"`
}

// ScanResult summarizes one position scan for the dashboard
type ScanResult struct {
	ScannedAt time.Time  `json:"scannedAt"`
	Addresses []string   `json:"addresses"`
	Found     int        `json:"found"`
	Enqueued  int        `json:"enqueued"`
	Lost      int        `json:"lost"`
	Skipped   int        `json:"skipped"`
	Positions []Position `json:"positions"`
}

// Scanner queries the positions index for the trading wallets
type Scanner struct {
	dataAPIURL string
	queue      *redeem.Queue
	bus        *activity.Bus
	httpClient *http.Client

	mu         sync.Mutex
	hasScanned bool
	lastResult *ScanResult
}

// NewScanner creates a scanner over the positions index
func NewScanner(dataAPIURL string, queue *redeem.Queue, bus *activity.Bus) *Scanner {
	return &Scanner{
		dataAPIURL: strings.TrimRight(dataAPIURL, "/"),
		queue:      queue,
		bus:        bus,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// ScanOnce runs the startup scan a single time; later calls are no-ops.
// Manual rescans go through Scan directly.
func (s *Scanner) ScanOnce(ctx context.Context, addresses ...string) {
	s.mu.Lock()
	if s.hasScanned {
		s.mu.Unlock()
		return
	}
	s.hasScanned = true
	s.mu.Unlock()

	s.Scan(ctx, addresses...)
}

// Scan queries the index for every address, merges the results and enqueues
// redemption candidates
func (s *Scanner) Scan(ctx context.Context, addresses ...string) *ScanResult {
	result := &ScanResult{ScannedAt: time.Now()}

	seen := make(map[string]bool)
	for _, addr := range addresses {
		if addr == "" {
			continue
		}
		result.Addresses = append(result.Addresses, addr)

		positions, err := s.fetchPositions(ctx, addr)
		if err != nil {
			log.Warn().Err(err).Str("address", addr).Msg("📦 Position scan failed for address")
			continue
		}
		for _, p := range positions {
			key := p.ConditionID
			if key == "" {
				key = p.TokenID
			}
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			result.Positions = append(result.Positions, p)
		}
	}

	for _, p := range result.Positions {
		result.Found++
		if !p.Size.IsPositive() {
			result.Skipped++
			continue
		}

		settled := p.CurPrice.IsZero() || p.CurPrice.Equal(decimal.NewFromInt(1))
		if !settled && !p.Redeemable {
			result.Skipped++
			continue
		}
		if p.CurPrice.IsZero() {
			// resolved against us, nothing to claim
			result.Lost++
			continue
		}

		added := s.queue.Add(redeem.Pending{
			ConditionID:   p.ConditionID,
			TokenID:       p.TokenID,
			Question:      p.Title,
			NegRisk:       p.NegRisk,
			Shares:        p.Size,
			MarketEndTime: time.Now().Add(-syntheticEndOffset),
		})
		if added {
			result.Enqueued++
		}
	}

	log.Info().
		Int("found", result.Found).
		Int("enqueued", result.Enqueued).
		Int("lost", result.Lost).
		Msg("📦 Position scan complete")
	if s.bus != nil {
		s.bus.LogActivity("positions", fmt.Sprintf(
			"position scan: %d found, %d enqueued, %d lost", result.Found, result.Enqueued, result.Lost))
	}

	s.mu.Lock()
	s.lastResult = result
	s.mu.Unlock()
	return result
}

// LastResult returns the most recent scan, nil before the first one
func (s *Scanner) LastResult() *ScanResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

func (s *Scanner) fetchPositions(ctx context.Context, address string) ([]Position, error) {
	q := url.Values{"user": {address}, "sizeThreshold": {"0.1"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/positions?%s", s.dataAPIURL, q.Encode()), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("positions index returned %d", resp.StatusCode)
	}

	var positions []Position
	if err := json.NewDecoder(resp.Body).Decode(&positions); err != nil {
		return nil, err
	}
	return positions, nil
}
