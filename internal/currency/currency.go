// Package currency converts amounts between a settlement currency (USD)
// and the native currencies products and services are priced in.
//
// Rates are looked up through a tiered cache: an in-process map, an
// optional shared cache (redis), the live RateSource and finally a static
// table compiled into the binary, so a rate-provider outage never blocks
// checkout.
package currency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Settlement is the currency every order and booking settles in.
const Settlement = "USD"

// DefaultTTL is how long a fetched rate table stays fresh.
const DefaultTTL = time.Hour

// Rate sources.
const (
	SourceLive   = "live"
	SourceCache  = "cache"
	SourceStatic = "static"
)

// ErrUnknownCurrency is returned when no tier knows the currency.
var ErrUnknownCurrency = errors.New("currency: unknown currency code")

// RateSource fetches a table of rates expressed as units of each currency
// per one USD.
type RateSource interface {
	FetchRates(ctx context.Context) (map[string]decimal.Decimal, error)
}

// SharedCache is a cache tier shared between processes.
type SharedCache interface {
	GetRate(ctx context.Context, code string) (decimal.Decimal, time.Time, bool, error)
	SetRates(ctx context.Context, rates map[string]decimal.Decimal, fetchedAt time.Time, ttl time.Duration) error
}

// Quote is a resolved rate with its provenance.
type Quote struct {
	Code      string
	Rate      decimal.Decimal // units of Code per USD
	FetchedAt time.Time
	Source    string
}

// Conversion is the result of converting an amount in minor units.
type Conversion struct {
	FromCurrency string
	ToCurrency   string
	FromCents    int64
	ToCents      int64
	Rate         decimal.Decimal // units of the non-USD side per USD
	Source       string
	At           time.Time
}

// zeroDecimal currencies have no minor unit.
var zeroDecimal = map[string]bool{"JPY": true, "KRW": true, "VND": true, "CLP": true, "ISK": true}

// staticRates is the fallback table, units per USD.
var staticRates = map[string]string{
	"USD": "1",
	"EUR": "0.92",
	"GBP": "0.79",
	"CAD": "1.36",
	"AUD": "1.52",
	"NZD": "1.65",
	"CHF": "0.88",
	"JPY": "151.5",
	"SEK": "10.6",
	"NOK": "10.8",
	"DKK": "6.87",
	"AED": "3.6725",
	"ZAR": "18.4",
	"MXN": "17.1",
	"SGD": "1.35",
	"HKD": "7.82",
}

// StaticRates returns a copy of the compiled fallback table.
func StaticRates() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(staticRates))
	for code, s := range staticRates {
		out[code] = decimal.RequireFromString(s)
	}
	return out
}

type cachedTable struct {
	rates     map[string]decimal.Decimal
	fetchedAt time.Time
}

// Converter resolves rates through the cache tiers.
type Converter struct {
	source RateSource
	shared SharedCache
	ttl    time.Duration
	static map[string]decimal.Decimal
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	local *cachedTable
}

// Option configures a Converter.
type Option func(*Converter)

// WithSharedCache adds a cross-process cache tier.
func WithSharedCache(c SharedCache) Option { return func(cv *Converter) { cv.shared = c } }

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option { return func(cv *Converter) { cv.ttl = ttl } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(cv *Converter) { cv.logger = l } }

// WithClock overrides time.Now, used by tests.
func WithClock(now func() time.Time) Option { return func(cv *Converter) { cv.now = now } }

// NewConverter creates a converter. A nil source means static rates only.
func NewConverter(source RateSource, opts ...Option) *Converter {
	c := &Converter{
		source: source,
		ttl:    DefaultTTL,
		static: StaticRates(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Rate resolves the rate for code.
func (c *Converter) Rate(ctx context.Context, code string) (Quote, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == Settlement {
		return Quote{Code: code, Rate: decimal.NewFromInt(1), FetchedAt: c.now(), Source: SourceStatic}, nil
	}

	if q, ok := c.fromLocal(code); ok {
		return q, nil
	}

	if c.shared != nil {
		rate, fetchedAt, ok, err := c.shared.GetRate(ctx, code)
		if err != nil {
			c.logger.Warn("shared rate cache unavailable", "currency", code, "error", err)
		} else if ok {
			return Quote{Code: code, Rate: rate, FetchedAt: fetchedAt, Source: SourceCache}, nil
		}
	}

	if c.source != nil {
		rates, err := c.source.FetchRates(ctx)
		if err == nil {
			fetchedAt := c.now()
			c.storeLocal(rates, fetchedAt)
			if c.shared != nil {
				if err := c.shared.SetRates(ctx, rates, fetchedAt, c.ttl); err != nil {
					c.logger.Warn("failed to populate shared rate cache", "error", err)
				}
			}
			if rate, ok := rates[code]; ok && rate.IsPositive() {
				return Quote{Code: code, Rate: rate, FetchedAt: fetchedAt, Source: SourceLive}, nil
			}
		} else {
			c.logger.Warn("rate source unavailable, using static rates", "currency", code, "error", err)
			if telemetry.Business != nil {
				telemetry.Business.RateFallbacks.WithLabelValues(code).Inc()
			}
		}
	}

	if rate, ok := c.static[code]; ok {
		return Quote{Code: code, Rate: rate, FetchedAt: c.now(), Source: SourceStatic}, nil
	}
	return Quote{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, code)
}

// ConvertToUSD converts minor units of currency into USD cents.
func (c *Converter) ConvertToUSD(ctx context.Context, cents int64, currency string) (Conversion, error) {
	q, err := c.Rate(ctx, currency)
	if err != nil {
		return Conversion{}, convertErr("currency.to_usd", currency, err)
	}
	major := toMajor(cents, q.Code)
	usd := major.Div(q.Rate)
	return Conversion{
		FromCurrency: q.Code,
		ToCurrency:   Settlement,
		FromCents:    cents,
		ToCents:      fromMajor(usd, Settlement),
		Rate:         q.Rate,
		Source:       q.Source,
		At:           q.FetchedAt,
	}, nil
}

// ConvertFromUSD converts USD cents into minor units of currency.
func (c *Converter) ConvertFromUSD(ctx context.Context, cents int64, currency string) (Conversion, error) {
	q, err := c.Rate(ctx, currency)
	if err != nil {
		return Conversion{}, convertErr("currency.from_usd", currency, err)
	}
	major := toMajor(cents, Settlement).Mul(q.Rate)
	return Conversion{
		FromCurrency: Settlement,
		ToCurrency:   q.Code,
		FromCents:    cents,
		ToCents:      fromMajor(major, q.Code),
		Rate:         q.Rate,
		Source:       q.Source,
		At:           q.FetchedAt,
	}, nil
}

// ConvertWithRate converts to USD using a previously locked rate.
func ConvertWithRate(cents int64, currency string, rate decimal.Decimal) int64 {
	code := strings.ToUpper(currency)
	if code == Settlement || rate.IsZero() {
		return cents
	}
	return fromMajor(toMajor(cents, code).Div(rate), Settlement)
}

// ConvertFromUSDWithRate is the inverse of ConvertWithRate.
func ConvertFromUSDWithRate(cents int64, currency string, rate decimal.Decimal) int64 {
	code := strings.ToUpper(currency)
	if code == Settlement || rate.IsZero() {
		return cents
	}
	return fromMajor(toMajor(cents, Settlement).Mul(rate), code)
}

func (c *Converter) fromLocal(code string) (Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.local == nil || c.now().Sub(c.local.fetchedAt) > c.ttl {
		return Quote{}, false
	}
	rate, ok := c.local.rates[code]
	if !ok {
		return Quote{}, false
	}
	return Quote{Code: code, Rate: rate, FetchedAt: c.local.fetchedAt, Source: SourceCache}, true
}

func (c *Converter) storeLocal(rates map[string]decimal.Decimal, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.local = &cachedTable{rates: rates, fetchedAt: at}
}

func convertErr(op, code string, err error) error {
	if errors.Is(err, ErrUnknownCurrency) {
		return domain.NewValidationError(op, "currency", fmt.Sprintf("unsupported currency %q", code))
	}
	return domain.External(err, op, "currency conversion failed")
}

func exponent(code string) int32 {
	if zeroDecimal[code] {
		return 0
	}
	return 2
}

func toMajor(cents int64, code string) decimal.Decimal {
	return decimal.New(cents, -exponent(code))
}

func fromMajor(amount decimal.Decimal, code string) int64 {
	return amount.Shift(exponent(code)).Round(0).IntPart()
}
