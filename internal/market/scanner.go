// scanner.go - Resolves the currently live 15-minute window to a market.
//
// Window slugs are timestamp based: {asset}-updown-15m-{unix}, where the
// timestamp is the window start aligned to a 15-minute UTC boundary.
package market

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const slotSeconds = 15 * 60

// slotOffsets are the candidate windows probed around the current slot
var slotOffsets = []int64{-2, -1, 0, 1, 2}

// Scanner queries the events index for live prediction windows
type Scanner struct {
	gammaURL   string
	asset      string
	minMinutes float64
	maxMinutes float64
	httpClient *http.Client

	now func() time.Time
}

// NewScanner creates a scanner for one asset. minMinutes/maxMinutes bound
// the acceptable time remaining in the window.
func NewScanner(gammaURL, asset string, minMinutes, maxMinutes int) *Scanner {
	return &Scanner{
		gammaURL:   strings.TrimRight(gammaURL, "/"),
		asset:      strings.ToUpper(asset),
		minMinutes: float64(minMinutes),
		maxMinutes: float64(maxMinutes),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// ScanMarkets returns zero or one live market for the scanner's asset
func (s *Scanner) ScanMarkets() []Market {
	now := s.now()
	currentSlot := (now.Unix() / slotSeconds) * slotSeconds

	candidates := make([]Market, 0, len(slotOffsets))
	seen := make(map[string]bool)

	for _, offset := range slotOffsets {
		slug := fmt.Sprintf("%s-updown-15m-%d", strings.ToLower(s.asset), currentSlot+offset*slotSeconds)

		m, err := s.fetchBySlug(slug)
		if err != nil {
			log.Debug().Str("slug", slug).Err(err).Msg("Window not found")
			continue
		}
		if m == nil || seen[m.ConditionID] {
			continue
		}
		if !m.EndTime.After(now) {
			continue
		}
		seen[m.ConditionID] = true
		candidates = append(candidates, *m)
	}

	best := pickBest(candidates, now)
	if best == nil {
		return nil
	}

	left := best.MinutesLeft(now)
	if left < s.minMinutes || left > s.maxMinutes {
		log.Debug().
			Str("slug", best.Slug).
			Float64("minutes_left", left).
			Msg("Window outside tradable range")
		return nil
	}
	return []Market{*best}
}

// pickBest keeps the candidate closest to resolution that still has more
// than one minute on the clock
func pickBest(candidates []Market, now time.Time) *Market {
	var best *Market
	for i := range candidates {
		left := candidates[i].MinutesLeft(now)
		if left <= 1 {
			continue
		}
		if best == nil || left < best.MinutesLeft(now) {
			best = &candidates[i]
		}
	}
	return best
}

// gammaEvent mirrors the fields the scanner needs from the events index
type gammaEvent struct {
	Title   string `json:"title"`
	Slug    string `json:"slug"`
	Active  bool   `json:"active"`
	Closed  bool   `json:"closed"`
	EndDate string `json:"endDate"`
	Markets []struct {
		ConditionID  string `json:"conditionId"`
		Question     string `json:"question"`
		Outcomes     string `json:"outcomes"`
		ClobTokenIds string `json:"clobTokenIds"`
		NegRisk      bool   `json:"negRisk"`
		EndDate      string `json:"endDate"`
		TickSize     string `json:"orderPriceMinTickSize"`
	} `json:"markets"`
}

func (s *Scanner) fetchBySlug(slug string) (*Market, error) {
	resp, err := s.httpClient.Get(fmt.Sprintf("%s/events?slug=%s", s.gammaURL, slug))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("events query returned %d", resp.StatusCode)
	}

	var events []gammaEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return nil, nil
	}

	event := events[0]
	if !event.Active || event.Closed {
		return nil, nil
	}
	raw := event.Markets[0]
	if raw.ConditionID == "" {
		return nil, nil
	}

	var tokenIDs []string
	if err := json.Unmarshal([]byte(raw.ClobTokenIds), &tokenIDs); err != nil || len(tokenIDs) < 2 {
		return nil, fmt.Errorf("invalid token ids for %s", slug)
	}

	// Outcome labels default to Up/Down when the payload omits them
	outcomes := []string{OutcomeUp, OutcomeDown}
	if raw.Outcomes != "" {
		var parsed []string
		if err := json.Unmarshal([]byte(raw.Outcomes), &parsed); err == nil && len(parsed) >= 2 {
			outcomes = parsed
		}
	}

	endDate := raw.EndDate
	if endDate == "" {
		endDate = event.EndDate
	}
	endTime, err := time.Parse(time.RFC3339, endDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", endDate, err)
	}

	tickSize := decimal.NewFromFloat(0.01)
	if raw.TickSize != "" {
		if ts, err := decimal.NewFromString(raw.TickSize); err == nil && ts.IsPositive() {
			tickSize = ts
		}
	}

	return &Market{
		ConditionID: raw.ConditionID,
		Question:    event.Title,
		Slug:        event.Slug,
		Asset:       s.asset,
		EndTime:     endTime,
		Tokens: [2]Token{
			{TokenID: tokenIDs[0], Outcome: outcomes[0]},
			{TokenID: tokenIDs[1], Outcome: outcomes[1]},
		},
		NegRisk:  raw.NegRisk,
		TickSize: tickSize,
	}, nil
}
