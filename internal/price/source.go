// Package price implements the Price Source (component A): a polling spot
// price client with a short-lived cache, fed to the Paper Trader once per
// tick.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// Source polls a public spot-price endpoint and caches the result for
// CacheTTL, so bursts of ticks inside one TTL window issue no extra network
// calls. Grounded on _examples/chidi150c-coinbase/broker_coinbase.go's
// request-building idiom (context-scoped request, User-Agent header,
// status-code check before decode) rather than a websocket stream, and on
// its multi-field numeric parsing for tolerance to endpoint shape drift.
type Source struct {
	cfg    types.PriceSourceConfig
	symbol string
	hc     *http.Client
	logger *zap.Logger

	mu       sync.Mutex
	cached   *types.Tick
	cachedAt time.Time
}

// New constructs a Source for symbol (e.g. "BTC-USD") against cfg.
func New(cfg types.PriceSourceConfig, symbol string, logger *zap.Logger) *Source {
	return &Source{
		cfg:    cfg,
		symbol: symbol,
		hc:     &http.Client{Timeout: cfg.Timeout},
		logger: logger.Named("price_source"),
	}
}

// Current returns the latest Tick, from cache if still within TTL. On fetch
// failure it returns the last cached Tick (ok=true) if one exists, otherwise
// ok=false signalling the caller must skip this cycle.
func (s *Source) Current(ctx context.Context) (tick types.Tick, ok bool) {
	s.mu.Lock()
	if s.cached != nil && time.Since(s.cachedAt) < s.cfg.CacheTTL {
		t := *s.cached
		s.mu.Unlock()
		return t, true
	}
	s.mu.Unlock()

	t, err := s.fetch(ctx)
	if err != nil {
		s.logger.Warn("price fetch failed", zap.Error(err))
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.cached != nil {
			return *s.cached, true
		}
		return types.Tick{}, false
	}

	s.mu.Lock()
	s.cached = &t
	s.cachedAt = time.Now()
	s.mu.Unlock()
	return t, true
}

// fetch issues the spot/buy/sell requests concurrently via a WaitGroup fan-
// out, matching the teacher's preference for explicit goroutines over
// generic concurrency helpers rather than an errgroup.
func (s *Source) fetch(ctx context.Context) (types.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	var wg sync.WaitGroup
	var spot, buy, sell decimal.Decimal
	var spotErr, buyErr, sellErr error

	wg.Add(3)
	go func() {
		defer wg.Done()
		spot, spotErr = s.fetchOne(ctx, "spot")
	}()
	go func() {
		defer wg.Done()
		buy, buyErr = s.fetchOne(ctx, "buy")
	}()
	go func() {
		defer wg.Done()
		sell, sellErr = s.fetchOne(ctx, "sell")
	}()
	wg.Wait()

	if spotErr != nil {
		return types.Tick{}, fmt.Errorf("spot price: %w", spotErr)
	}
	if buyErr != nil {
		buy = spot
	}
	if sellErr != nil {
		sell = spot
	}

	// Price is the bid, per the data model ("conservative for a long-only
	// strategy"): the conservative mark used for indicators/signals, and the
	// price the Paper Trader opens and closes positions at, is what a position
	// could currently be sold for. Ask carries the buy-side quote.
	return types.Tick{
		Timestamp: time.Now(),
		Price:     sell,
		Bid:       sell,
		Ask:       buy,
	}, nil
}

// fetchOne hits /v2/prices/{symbol}/{kind} and parses the "amount" field as
// a decimal string; a bare JSON number in that field fails decoding.
func (s *Source) fetchOne(ctx context.Context, kind string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/v2/prices/%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), url.PathEscape(s.symbol), kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("User-Agent", "hhlabs-trading-agent/1.0")

	res, err := s.hc.Do(req)
	if err != nil {
		return decimal.Zero, err
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return decimal.Zero, fmt.Errorf("%s %d: %s", kind, res.StatusCode, string(body))
	}

	var payload struct {
		Data struct {
			Amount string `json:"amount"`
		} `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return decimal.Zero, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(payload.Data.Amount), 64)
	if err != nil || f <= 0 {
		return decimal.Zero, fmt.Errorf("no usable amount in %s payload", kind)
	}
	return decimal.NewFromFloat(f), nil
}
