// Package micro computes market-microstructure statistics per symbol.
//
//   - OBI (order book imbalance), Cont, Stoikov & Talreja (2010):
//     (ΣV_bid − ΣV_ask) / (ΣV_bid + ΣV_ask) over the top depth levels.
//   - OFI (order flow imbalance): net change in top-of-book liquidity,
//     sign-aware on price moves.
//   - VPIN, Easley, López de Prado & O'Hara (2012): volume-bucketed
//     buy/sell imbalance. This implementation normalizes mean(recent) by
//     max(recent) — that is the contract here, not the canonical paper form.
//   - Amihud illiquidity (2002): |return| per unit of traded notional.
//
// All state is per symbol, bounded, and serialized under one mutex; the
// lock is never held across I/O.
package micro

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/stat"

	"bithumb-scalper/internal/config"
	"bithumb-scalper/pkg/types"
)

// History capacities. Oldest entries are discarded on overflow.
const (
	obiHistoryCap    = 200
	ofiHistoryCap    = 200
	vpinBucketsCap   = 100
	amihudHistoryCap = 100
	amihudWindow     = 20
	pricesCap        = 2000
)

// window is a bounded FIFO of float64 samples.
type window struct {
	buf []float64
	max int
}

func newWindow(max int) window { return window{buf: make([]float64, 0, max), max: max} }

func (w *window) push(v float64) {
	if len(w.buf) == w.max {
		copy(w.buf, w.buf[1:])
		w.buf = w.buf[:len(w.buf)-1]
	}
	w.buf = append(w.buf, v)
}

func (w *window) len() int { return len(w.buf) }

// tail returns the most recent n samples (fewer if not yet filled).
func (w *window) tail(n int) []float64 {
	if len(w.buf) <= n {
		return w.buf
	}
	return w.buf[len(w.buf)-n:]
}

// bucket accumulates classified volume for the open VPIN bucket.
type bucket struct {
	buyVol  float64
	sellVol float64
	trades  int
}

// symbolState is the per-symbol microstructure state.
type symbolState struct {
	// OBI
	obiHistory window
	currentOBI float64
	obiSMA     float64

	// OFI — previous top of book; zero bid price means "no previous".
	ofiHistory      window
	currentOFI      float64
	prevBestBidP    float64
	prevBestBidQ    float64
	prevBestAskP    float64
	prevBestAskQ    float64

	// VPIN
	open        bucket
	vpinBuckets window
	currentVPIN float64

	// Amihud
	amihudHistory window
	currentAmihud float64

	lastPrice float64
	prices    window
}

func newSymbolState() *symbolState {
	return &symbolState{
		obiHistory:    newWindow(obiHistoryCap),
		ofiHistory:    newWindow(ofiHistoryCap),
		vpinBuckets:   newWindow(vpinBucketsCap),
		amihudHistory: newWindow(amihudHistoryCap),
		prices:        newWindow(pricesCap),
	}
}

// OBISignal is the order-book-imbalance view consumed by the ensemble.
type OBISignal struct {
	OBI          float64
	OBISMA       float64
	OFI          float64
	Signal       float64 // OBI clamped to [-1, 1]
	IsStrongBuy  bool
	IsStrongSell bool
}

// VPINSignal is the flow-toxicity view consumed by the ensemble.
type VPINSignal struct {
	VPIN     float64
	Amihud   float64
	IsDanger bool
	Signal   float64 // −VPIN when dangerous, else 0
}

// Analyzer owns the per-symbol microstructure state.
type Analyzer struct {
	cfg config.MicroConfig

	mu     sync.Mutex
	states map[string]*symbolState
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(cfg config.MicroConfig) *Analyzer {
	return &Analyzer{cfg: cfg, states: make(map[string]*symbolState)}
}

func (a *Analyzer) state(symbol string) *symbolState {
	s, ok := a.states[symbol]
	if !ok {
		s = newSymbolState()
		a.states[symbol] = s
	}
	return s
}

// UpdateOrderBook refreshes OBI and OFI from a depth snapshot and returns
// the current OBI. An empty or balanced book yields 0.
func (a *Analyzer) UpdateOrderBook(symbol string, bids, asks []types.OrderBookLevel) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state(symbol)

	depth := a.cfg.OBIDepthLevels
	if len(bids) < depth {
		depth = len(bids)
	}
	if len(asks) < depth {
		depth = len(asks)
	}
	if depth == 0 {
		return 0
	}

	var totalBid, totalAsk float64
	for _, l := range bids[:depth] {
		totalBid += l.Quantity.InexactFloat64()
	}
	for _, l := range asks[:depth] {
		totalAsk += l.Quantity.InexactFloat64()
	}
	total := totalBid + totalAsk
	if total == 0 {
		return 0
	}

	obi := (totalBid - totalAsk) / total
	s.currentOBI = obi
	s.obiHistory.push(obi)
	if s.obiHistory.len() >= a.cfg.OBILookback {
		s.obiSMA = stat.Mean(s.obiHistory.tail(a.cfg.OBILookback), nil)
	}

	a.updateOFI(s, bids[0], asks[0])
	return obi
}

// updateOFI applies the Cont et al. top-of-book increment rule. Not computed
// on the first update (no previous book).
func (a *Analyzer) updateOFI(s *symbolState, bestBid, bestAsk types.OrderBookLevel) {
	bidP := bestBid.Price.InexactFloat64()
	bidQ := bestBid.Quantity.InexactFloat64()
	askP := bestAsk.Price.InexactFloat64()
	askQ := bestAsk.Quantity.InexactFloat64()

	if s.prevBestBidP > 0 {
		var deltaBid float64
		switch {
		case bidP > s.prevBestBidP:
			deltaBid = bidQ
		case bidP == s.prevBestBidP:
			deltaBid = bidQ - s.prevBestBidQ
		default:
			deltaBid = -s.prevBestBidQ
		}

		var deltaAsk float64
		switch {
		case askP < s.prevBestAskP:
			deltaAsk = askQ
		case askP == s.prevBestAskP:
			deltaAsk = askQ - s.prevBestAskQ
		default:
			deltaAsk = -s.prevBestAskQ
		}

		s.currentOFI = deltaBid - deltaAsk
		s.ofiHistory.push(s.currentOFI)
	}

	s.prevBestBidP, s.prevBestBidQ = bidP, bidQ
	s.prevBestAskP, s.prevBestAskQ = askP, askQ
}

// UpdateTrade feeds one executed trade into the VPIN buckets, the Amihud
// estimator, and the price window, and returns the current VPIN.
func (a *Analyzer) UpdateTrade(symbol string, price, quantity float64, side types.Side) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state(symbol)

	// Amihud: |return| per unit of traded notional, rolling 20-sample mean.
	if prev := s.lastPrice; prev > 0 && quantity > 0 {
		ret := math.Abs((price - prev) / prev)
		s.amihudHistory.push(ret / (quantity * price))
		if s.amihudHistory.len() >= amihudWindow {
			s.currentAmihud = stat.Mean(s.amihudHistory.tail(amihudWindow), nil)
		}
	}

	s.lastPrice = price
	s.prices.push(price)

	if side == types.SideBuy {
		s.open.buyVol += quantity
	} else {
		s.open.sellVol += quantity
	}
	s.open.trades++

	if s.open.trades >= a.cfg.VPINBucketSize {
		s.vpinBuckets.push(math.Abs(s.open.buyVol - s.open.sellVol))
		s.open = bucket{}

		if s.vpinBuckets.len() >= a.cfg.VPINNumBuckets {
			recent := s.vpinBuckets.tail(a.cfg.VPINNumBuckets)
			maxImb := 0.0
			for _, v := range recent {
				if v > maxImb {
					maxImb = v
				}
			}
			if maxImb > 0 {
				s.currentVPIN = stat.Mean(recent, nil) / maxImb
			} else {
				s.currentVPIN = 0
			}
		}
	}

	return s.currentVPIN
}

// OBISignal returns the OBI view for a symbol.
func (a *Analyzer) OBISignal(symbol string) OBISignal {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state(symbol)
	return OBISignal{
		OBI:          s.currentOBI,
		OBISMA:       s.obiSMA,
		OFI:          s.currentOFI,
		Signal:       clamp(s.currentOBI, -1, 1),
		IsStrongBuy:  s.currentOBI >= a.cfg.OBIThreshold && s.currentOBI > s.obiSMA+0.1,
		IsStrongSell: s.currentOBI <= -a.cfg.OBIThreshold && s.currentOBI < s.obiSMA-0.1,
	}
}

// VPINSignal returns the VPIN view for a symbol.
func (a *Analyzer) VPINSignal(symbol string) VPINSignal {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state(symbol)
	danger := s.currentVPIN >= a.cfg.VPINDanger
	sig := 0.0
	if danger {
		sig = -s.currentVPIN
	}
	return VPINSignal{
		VPIN:     s.currentVPIN,
		Amihud:   s.currentAmihud,
		IsDanger: danger,
		Signal:   sig,
	}
}

// LastPrice returns the most recent trade price for a symbol (0 if none).
func (a *Analyzer) LastPrice(symbol string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state(symbol).lastPrice
}

// Prices returns a copy of the bounded price window for a symbol.
func (a *Analyzer) Prices(symbol string) []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	src := a.state(symbol).prices.buf
	out := make([]float64, len(src))
	copy(out, src)
	return out
}

// SeedPrices preloads the price window from historical closes (bootstrap).
func (a *Analyzer) SeedPrices(symbol string, prices []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.state(symbol)
	for _, p := range prices {
		if p > 0 {
			s.prices.push(p)
			s.lastPrice = p
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
