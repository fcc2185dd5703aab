/*

This file contains the price oracle port. Price retrieval itself is an
external capability; the engine only consumes current USD prices and treats a
price of 0 as "unavailable", never as "worthless".

*/

package oracle

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/vmccharlie/opbutler/internal/types"
)

// PriceOracle returns the current USD price for a token symbol. Unknown or
// stale symbols return 0; callers must block execution paths on 0 prices.
type PriceOracle interface {
	GetPrice(symbol types.AssetSymbol) float64
}

// Func adapts a plain function to the PriceOracle interface.
type Func func(symbol types.AssetSymbol) float64

func (f Func) GetPrice(symbol types.AssetSymbol) float64 {
	return f(symbol)
}

// Fixed is a symbol->price table with case-insensitive lookup. Prices can be
// replaced wholesale by an external feed between poll cycles; reads and
// updates are safe to interleave.
type Fixed struct {
	mu     sync.RWMutex
	prices map[types.AssetSymbol]float64
}

// NewFixed builds a Fixed oracle from an initial price table. Non-finite or
// negative prices are dropped.
func NewFixed(prices map[types.AssetSymbol]float64) *Fixed {
	f := &Fixed{prices: make(map[types.AssetSymbol]float64, len(prices))}
	for symbol, price := range prices {
		if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
			continue
		}
		f.prices[normalize(symbol)] = price
	}
	return f
}

// NewFixedFromJSON builds a Fixed oracle from a JSON object of symbol->price,
// the shape the bootstrap PRICE_TABLE environment variable carries.
func NewFixedFromJSON(raw string) (*Fixed, error) {
	var table map[types.AssetSymbol]float64
	if err := json.Unmarshal([]byte(raw), &table); err != nil {
		return nil, fmt.Errorf("failed to parse price table: %w", err)
	}
	return NewFixed(table), nil
}

// GetPrice implements PriceOracle.
func (f *Fixed) GetPrice(symbol types.AssetSymbol) float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.prices[normalize(symbol)]
}

// SetPrice updates one symbol's price. A non-finite or negative price is
// ignored.
func (f *Fixed) SetPrice(symbol types.AssetSymbol, price float64) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[normalize(symbol)] = price
}

func normalize(symbol types.AssetSymbol) types.AssetSymbol {
	return types.AssetSymbol(strings.ToUpper(string(symbol)))
}
