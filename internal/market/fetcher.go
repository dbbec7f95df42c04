// fetcher.go - Snapshots prices, books and history for one market.
//
// Every sub-request is best effort: a failed call leaves its field nil and
// the policy decides with what arrived.
package market

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/polyagent/updown/internal/clob"
)

// bookDepth caps the levels kept per side
const bookDepth = 10

// fetchTimeout bounds the whole snapshot fan-out
const fetchTimeout = 10 * time.Second

// Fetcher assembles full market snapshots from the CLOB read endpoints
type Fetcher struct {
	clob *clob.Client
}

// NewFetcher creates a fetcher over the given CLOB client
func NewFetcher(c *clob.Client) *Fetcher {
	return &Fetcher{clob: c}
}

// FetchFullMarketData snapshots both tokens of a market concurrently
func (f *Fetcher) FetchFullMarketData(ctx context.Context, m Market) *Snapshot {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	snap := &Snapshot{Market: m, FetchedAt: time.Now()}

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		snap.YesToken = f.fetchToken(m.UpToken().TokenID, true)
		return nil
	})
	g.Go(func() error {
		snap.NoToken = f.fetchToken(m.DownToken().TokenID, false)
		return nil
	})
	g.Go(func() error {
		points, err := f.clob.PricesHistory(m.UpToken().TokenID)
		if err != nil {
			log.Debug().Err(err).Str("market", m.Slug).Msg("Price history unavailable")
			return nil
		}
		snap.PriceHistory = points
		return nil
	})
	_ = g.Wait() // workers never fail, they degrade

	return snap
}

// fetchToken pulls buy/sell prices and the book for one token. The spread
// endpoint is queried on the primary side only.
func (f *Fetcher) fetchToken(tokenID string, withSpread bool) TokenData {
	var data TokenData
	var spread *decimal.Decimal

	g := new(errgroup.Group)
	g.Go(func() error {
		if p, err := f.clob.Price(tokenID, clob.SideBuy); err == nil {
			data.Price.Buy = &p
		}
		return nil
	})
	g.Go(func() error {
		if p, err := f.clob.Price(tokenID, clob.SideSell); err == nil {
			data.Price.Sel = &p
		}
		return nil
	})
	g.Go(func() error {
		book, err := f.clob.OrderBook(tokenID)
		if err != nil {
			return nil
		}
		data.Book = summarizeBook(book)
		return nil
	})
	if withSpread {
		g.Go(func() error {
			if sp, err := f.clob.Spread(tokenID); err == nil {
				spread = &sp
			}
			return nil
		})
	}
	_ = g.Wait()

	if data.Price.Buy != nil && data.Price.Sel != nil {
		mid := data.Price.Buy.Add(*data.Price.Sel).Div(decimal.NewFromInt(2))
		data.Price.Mid = &mid
	} else if mp, err := f.clob.Midpoint(tokenID); err == nil {
		// one side of the book is gone, the midpoint endpoint still answers
		data.Price.Mid = &mp
	}
	if spread != nil && data.Book != nil && data.Book.Spread == nil {
		data.Book.Spread = spread
	}
	return data
}

func summarizeBook(book *clob.Book) *BookSummary {
	s := &BookSummary{
		BidVolume: decimal.Zero,
		AskVolume: decimal.Zero,
	}
	for _, b := range book.Bids {
		s.BidVolume = s.BidVolume.Add(b.Size)
	}
	for _, a := range book.Asks {
		s.AskVolume = s.AskVolume.Add(a.Size)
	}

	s.Bids = book.Bids
	if len(s.Bids) > bookDepth {
		s.Bids = s.Bids[:bookDepth]
	}
	s.Asks = book.Asks
	if len(s.Asks) > bookDepth {
		s.Asks = s.Asks[:bookDepth]
	}

	if !s.AskVolume.IsZero() {
		s.BidAskRatio = s.BidVolume.Div(s.AskVolume)
	}
	if len(book.Bids) > 0 {
		s.BestBid = &book.Bids[0].Price
	}
	if len(book.Asks) > 0 {
		s.BestAsk = &book.Asks[0].Price
	}
	if s.BestBid != nil && s.BestAsk != nil {
		spread := s.BestAsk.Sub(*s.BestBid)
		s.Spread = &spread
	}
	return s
}
