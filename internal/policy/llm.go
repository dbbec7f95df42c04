// llm.go - Language-model decision policy.
//
// The model receives a compact textual view of the market and the reference
// feed and must answer with a single JSON decision object. Every failure
// mode, transport, malformed output, unknown enum values, degrades to SKIP.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/polyagent/updown/internal/feed"
	"github.com/polyagent/updown/internal/market"
)

const (
	llmEndpoint  = "https://api.anthropic.com/v1/messages"
	llmVersion   = "2023-06-01"
	llmTimeout   = 45 * time.Second
	llmMaxTokens = 1024
)

var codeBlockRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

// LLMPolicy asks a language model to call the window
type LLMPolicy struct {
	apiKey     string
	model      string
	httpClient *http.Client
	endpoint   string
}

// NewLLMPolicy creates the policy. An empty apiKey yields a policy that
// always skips.
func NewLLMPolicy(apiKey, model string) *LLMPolicy {
	return &LLMPolicy{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: llmTimeout},
		endpoint:   llmEndpoint,
	}
}

// Name implements Strategy
func (p *LLMPolicy) Name() string { return "llm" }

type llmRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []llmMessage `json:"messages"`
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Decide implements Strategy
func (p *LLMPolicy) Decide(ctx context.Context, snap *market.Snapshot, feedCtx feed.Context) Decision {
	if p.apiKey == "" {
		return Skip("no LLM API key configured")
	}

	prompt := buildPrompt(snap, feedCtx)
	raw, err := p.complete(ctx, prompt)
	if err != nil {
		log.Warn().Err(err).Msg("🤖 LLM call failed, skipping window")
		return Skip(fmt.Sprintf("llm error: %v", err))
	}

	decision, err := parseDecision(raw)
	if err != nil {
		log.Warn().Err(err).Str("raw", truncate(raw, 200)).Msg("🤖 Unparseable LLM answer, skipping")
		return Skip(fmt.Sprintf("llm parse error: %v", err))
	}

	log.Info().
		Str("action", decision.Action).
		Str("confidence", decision.Confidence).
		Str("pattern", decision.Pattern).
		Msg("🤖 LLM decision")
	return decision.Normalize()
}

func (p *LLMPolicy) complete(ctx context.Context, prompt string) (string, error) {
	reqBody := llmRequest{
		Model:     p.model,
		MaxTokens: llmMaxTokens,
		System: "You are a short-horizon trader for 15-minute binary up/down " +
			"prediction markets. Answer with a single JSON object only, no prose.",
		Messages: []llmMessage{{Role: "user", Content: prompt}},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", llmVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	var parsed llmResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("api error %s: %s", parsed.Error.Type, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("api returned %d", resp.StatusCode)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return parsed.Content[0].Text, nil
}

// parseDecision extracts the JSON decision, tolerating markdown fences
func parseDecision(raw string) (Decision, error) {
	text := strings.TrimSpace(raw)
	if m := codeBlockRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	}

	// Tolerate leading commentary before the object
	if i := strings.Index(text, "{"); i > 0 {
		text = text[i:]
	}

	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return Decision{}, err
	}
	if d.Action == "" {
		return Decision{}, fmt.Errorf("missing action field")
	}
	return d, nil
}

// buildPrompt renders the snapshot and feed context for the model
func buildPrompt(snap *market.Snapshot, feedCtx feed.Context) string {
	var b strings.Builder
	m := snap.Market

	fmt.Fprintf(&b, "Market: %s\n", m.Question)
	fmt.Fprintf(&b, "Resolves in %.1f minutes.\n\n", m.MinutesLeft(time.Now()))

	b.WriteString("Reference price feed:\n")
	b.WriteString(feedContextText(feedCtx))
	b.WriteString("\n\n")

	b.WriteString("UP token:\n")
	writeTokenData(&b, snap.YesToken)
	b.WriteString("DOWN token:\n")
	writeTokenData(&b, snap.NoToken)

	if len(snap.PriceHistory) > 0 {
		first := snap.PriceHistory[0].Price
		last := snap.PriceHistory[len(snap.PriceHistory)-1].Price
		fmt.Fprintf(&b, "UP token price drifted %s -> %s over the history window.\n",
			first.StringFixed(3), last.StringFixed(3))
	}

	b.WriteString("\nDecide: will the reference price finish ABOVE (BUY_YES) or " +
		"BELOW (BUY_NO) the window open, or is the edge too small (SKIP)?\n")
	b.WriteString(`Respond with exactly: {"action":"BUY_YES|BUY_NO|SKIP",` +
		`"confidence":"LOW|MEDIUM|HIGH","pattern":"<short label>","reasoning":"<one sentence>"}`)
	return b.String()
}

func writeTokenData(b *strings.Builder, td market.TokenData) {
	writePricePart(b, "buy", td.Price.Buy)
	writePricePart(b, "sell", td.Price.Sel)
	writePricePart(b, "mid", td.Price.Mid)
	if td.Book != nil {
		fmt.Fprintf(b, "  book: bid vol %s, ask vol %s",
			td.Book.BidVolume.StringFixed(1), td.Book.AskVolume.StringFixed(1))
		if !td.Book.BidAskRatio.IsZero() {
			fmt.Fprintf(b, ", bid/ask ratio %s", td.Book.BidAskRatio.StringFixed(2))
		}
		b.WriteString("\n")
	}
}

func writePricePart(b *strings.Builder, label string, p *decimal.Decimal) {
	if p == nil {
		fmt.Fprintf(b, "  %s: n/a\n", label)
		return
	}
	fmt.Fprintf(b, "  %s: %s\n", label, p.StringFixed(3))
}

// feedContextText mirrors the feed client's textual rendering for a
// standalone Context value
func feedContextText(ctx feed.Context) string {
	if !ctx.Available {
		return "Reference price feed unavailable (no fresh samples)."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Current price: $%s\n", ctx.CurrentPrice.StringFixed(2))
	fmt.Fprintf(&b, "Direction: %s, momentum: %s\n", ctx.Direction, ctx.Momentum)
	for _, w := range []struct {
		label string
		ch    feed.Change
	}{{"1m", ctx.Change1m}, {"3m", ctx.Change3m}, {"5m", ctx.Change5m}, {"10m", ctx.Change10m}} {
		if !w.ch.OK {
			fmt.Fprintf(&b, "Change %s: n/a\n", w.label)
			continue
		}
		fmt.Fprintf(&b, "Change %s: $%s (%s%%)\n", w.label, w.ch.Dollars.StringFixed(2), w.ch.Percent.StringFixed(3))
	}
	fmt.Fprintf(&b, "30s volatility (high-low): $%s", ctx.RecentVolatility.StringFixed(2))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
