package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	masterdata "supplier-core/internal/masterdata/domain"
)

// MeteringPoints is an in-memory metering point repository.
type MeteringPoints struct {
	mu    sync.RWMutex
	items map[string]masterdata.MeteringPoint
}

// NewMeteringPoints constructs the repository.
func NewMeteringPoints() *MeteringPoints {
	return &MeteringPoints{items: make(map[string]masterdata.MeteringPoint)}
}

// Get returns a metering point by GSRN.
func (r *MeteringPoints) Get(_ context.Context, gsrn string) (*masterdata.MeteringPoint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	mp, ok := r.items[gsrn]
	if !ok {
		return nil, masterdata.ErrNotFound
	}
	return &mp, nil
}

// Upsert stores a metering point.
func (r *MeteringPoints) Upsert(_ context.Context, mp *masterdata.MeteringPoint) error {
	if err := mp.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[mp.GSRN] = *mp
	return nil
}

// Customers is an in-memory customer repository.
type Customers struct {
	mu    sync.RWMutex
	items map[string]masterdata.Customer
}

// NewCustomers constructs the repository.
func NewCustomers() *Customers {
	return &Customers{items: make(map[string]masterdata.Customer)}
}

// Get returns a customer.
func (r *Customers) Get(_ context.Context, id string) (*masterdata.Customer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, masterdata.ErrNotFound
	}
	return &c, nil
}

// FindOrCreate returns the stored customer or stores c.
func (r *Customers) FindOrCreate(_ context.Context, c masterdata.Customer) (*masterdata.Customer, bool, error) {
	if err := c.Validate(); err != nil {
		return nil, false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.items[c.ID]; ok {
		return &existing, false, nil
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	r.items[c.ID] = c
	return &c, true, nil
}

// Supplies is an in-memory supply repository.
type Supplies struct {
	mu    sync.RWMutex
	items map[string]masterdata.Supply
}

// NewSupplies constructs the repository.
func NewSupplies() *Supplies {
	return &Supplies{items: make(map[string]masterdata.Supply)}
}

// Get returns a supply.
func (r *Supplies) Get(_ context.Context, id string) (*masterdata.Supply, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.items[id]
	if !ok {
		return nil, masterdata.ErrNotFound
	}
	return &s, nil
}

// FindCovering returns the supply active at t.
func (r *Supplies) FindCovering(_ context.Context, gsrn string, at time.Time) (*masterdata.Supply, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.items {
		if s.MeteringPoint == gsrn && s.ActiveAt(at) {
			found := s
			return &found, nil
		}
	}
	return nil, masterdata.ErrNotFound
}

// FindStarting returns the supply starting at start.
func (r *Supplies) FindStarting(_ context.Context, gsrn string, start time.Time) (*masterdata.Supply, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.items {
		if s.MeteringPoint == gsrn && s.Start.Equal(start) {
			found := s
			return &found, nil
		}
	}
	return nil, masterdata.ErrNotFound
}

// ListByMeteringPoint returns supplies ordered by start.
func (r *Supplies) ListByMeteringPoint(_ context.Context, gsrn string) ([]masterdata.Supply, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []masterdata.Supply
	for _, s := range r.items {
		if s.MeteringPoint == gsrn {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

// Create stores a new supply.
func (r *Supplies) Create(_ context.Context, s *masterdata.Supply) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[s.ID] = *s
	return nil
}

// Update replaces a supply.
func (r *Supplies) Update(_ context.Context, s *masterdata.Supply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[s.ID]; !ok {
		return masterdata.ErrNotFound
	}
	r.items[s.ID] = *s
	return nil
}

// Products is an in-memory product repository.
type Products struct {
	mu    sync.RWMutex
	items map[string]masterdata.Product
}

// NewProducts constructs the repository.
func NewProducts(products ...masterdata.Product) *Products {
	r := &Products{items: make(map[string]masterdata.Product)}
	for _, p := range products {
		r.items[p.ID] = p
	}
	return r
}

// Get returns a product.
func (r *Products) Get(_ context.Context, id string) (*masterdata.Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.items[id]
	if !ok {
		return nil, masterdata.ErrNotFound
	}
	return &p, nil
}

// Put stores a product.
func (r *Products) Put(p masterdata.Product) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = p
}

// Prices is an in-memory price and price link repository.
type Prices struct {
	mu     sync.RWMutex
	prices map[string]masterdata.Price
	links  map[string]masterdata.PriceLink
}

// NewPrices constructs the repository.
func NewPrices() *Prices {
	return &Prices{
		prices: make(map[string]masterdata.Price),
		links:  make(map[string]masterdata.PriceLink),
	}
}

// Get returns a price.
func (r *Prices) Get(_ context.Context, id string) (*masterdata.Price, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.prices[id]
	if !ok {
		return nil, masterdata.ErrNotFound
	}
	return &p, nil
}

// FindByCharge returns a price by its charge identity.
func (r *Prices) FindByCharge(_ context.Context, chargeID, ownerGLN string, priceType masterdata.PriceType) (*masterdata.Price, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.prices {
		if p.ChargeID == chargeID && p.OwnerGLN == ownerGLN && p.Type == priceType {
			found := p
			return &found, nil
		}
	}
	return nil, masterdata.ErrNotFound
}

// Upsert stores a price keyed by charge identity.
func (r *Prices) Upsert(_ context.Context, p *masterdata.Price) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.prices {
		if existing.ChargeID == p.ChargeID && existing.OwnerGLN == p.OwnerGLN && existing.Type == p.Type {
			p.ID = id
		}
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	stored := *p
	stored.Points = append([]masterdata.PricePoint(nil), p.Points...)
	r.prices[p.ID] = stored
	return nil
}

// ListOverlapping returns links overlapping period.
func (r *Prices) ListOverlapping(_ context.Context, gsrn string, period masterdata.Period) ([]masterdata.PriceLink, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []masterdata.PriceLink
	for _, l := range r.links {
		if l.MeteringPoint == gsrn && l.Validity().Overlaps(period) {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ValidFrom.Equal(out[j].ValidFrom) {
			return out[i].ValidFrom.Before(out[j].ValidFrom)
		}
		return out[i].PriceID < out[j].PriceID
	})
	return out, nil
}

// UpsertLink stores a link keyed by (metering point, price, valid from).
func (r *Prices) UpsertLink(_ context.Context, l *masterdata.PriceLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.links {
		if existing.MeteringPoint == l.MeteringPoint && existing.PriceID == l.PriceID && existing.ValidFrom.Equal(l.ValidFrom) {
			l.ID = id
		}
	}
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	r.links[l.ID] = *l
	return nil
}

// Links adapts Prices to masterdata.PriceLinkRepository.
func (r *Prices) Links() masterdata.PriceLinkRepository {
	return priceLinks{r}
}

type priceLinks struct{ *Prices }

func (l priceLinks) Upsert(ctx context.Context, link *masterdata.PriceLink) error {
	return l.Prices.UpsertLink(ctx, link)
}

// TimeSeries is an in-memory versioned time series repository.
type TimeSeries struct {
	mu      sync.Mutex
	items   map[string]*masterdata.TimeSeries
	settled map[string]time.Time
	checked map[string]time.Time
}

// NewTimeSeries constructs the repository.
func NewTimeSeries() *TimeSeries {
	return &TimeSeries{
		items:   make(map[string]*masterdata.TimeSeries),
		settled: make(map[string]time.Time),
		checked: make(map[string]time.Time),
	}
}

// Append stores a new latest version.
func (r *TimeSeries) Append(_ context.Context, ts *masterdata.TimeSeries) (bool, error) {
	if ts.ID == "" {
		ts.ID = uuid.NewString()
	}
	if err := ts.Validate(); err != nil {
		return false, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	version := 0
	var latest []*masterdata.TimeSeries
	for _, existing := range r.items {
		if existing.MeteringPoint != ts.MeteringPoint || !existing.Period().Overlaps(ts.Period()) {
			continue
		}
		if existing.Version > version {
			version = existing.Version
		}
		if existing.IsLatest {
			latest = append(latest, existing)
		}
	}
	for _, l := range latest {
		if l.SameData(*ts) {
			*ts = *cloneSeries(l)
			return false, nil
		}
	}
	for _, l := range latest {
		l.IsLatest = false
	}
	ts.Version = version + 1
	ts.IsLatest = true
	if ts.ReceivedAt.IsZero() {
		ts.ReceivedAt = time.Now().UTC()
	}
	r.items[ts.ID] = cloneSeries(ts)
	return true, nil
}

// Get returns a time series version.
func (r *TimeSeries) Get(_ context.Context, id string) (*masterdata.TimeSeries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts, ok := r.items[id]
	if !ok {
		return nil, masterdata.ErrNotFound
	}
	return cloneSeries(ts), nil
}

// ListUnsettled returns latest unsettled versions.
func (r *TimeSeries) ListUnsettled(_ context.Context, limit int) ([]*masterdata.TimeSeries, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*masterdata.TimeSeries
	for id, ts := range r.items {
		if !ts.IsLatest {
			continue
		}
		if _, done := r.settled[id]; done {
			continue
		}
		out = append(out, cloneSeries(ts))
	}
	sort.Slice(out, func(i, j int) bool {
		ci, cj := r.checked[out[i].ID], r.checked[out[j].ID]
		if !ci.Equal(cj) {
			return ci.Before(cj)
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkSettled excludes a version from ListUnsettled.
func (r *TimeSeries) MarkSettled(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[id]; !ok {
		return masterdata.ErrNotFound
	}
	r.settled[id] = at
	return nil
}

// MarkChecked records an attempt that could not settle.
func (r *TimeSeries) MarkChecked(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checked[id] = at
	return nil
}

// Versions returns every stored version for a metering point, oldest first.
func (r *TimeSeries) Versions(gsrn string) []*masterdata.TimeSeries {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*masterdata.TimeSeries
	for _, ts := range r.items {
		if ts.MeteringPoint == gsrn {
			out = append(out, cloneSeries(ts))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func cloneSeries(ts *masterdata.TimeSeries) *masterdata.TimeSeries {
	out := *ts
	out.Observations = append([]masterdata.Observation(nil), ts.Observations...)
	return &out
}

// SpotPrices is an in-memory spot price repository.
type SpotPrices struct {
	mu    sync.RWMutex
	items map[string]decimal.Decimal
}

// NewSpotPrices constructs the repository.
func NewSpotPrices() *SpotPrices {
	return &SpotPrices{items: make(map[string]decimal.Decimal)}
}

func spotKey(area string, hour time.Time) string {
	return area + "|" + strconv.FormatInt(hour.UTC().Unix(), 10)
}

// Range returns DKK/kWh prices keyed by hour.
func (r *SpotPrices) Range(_ context.Context, area string, period masterdata.Period) (map[time.Time]decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[time.Time]decimal.Decimal)
	for hour := period.Start.UTC().Truncate(time.Hour); period.Contains(hour); hour = hour.Add(time.Hour) {
		if price, ok := r.items[spotKey(area, hour)]; ok {
			out[hour] = price
		}
	}
	return out, nil
}

// Upsert stores spot prices converted to DKK/kWh.
func (r *SpotPrices) Upsert(_ context.Context, prices []masterdata.SpotPrice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range prices {
		r.items[spotKey(p.Area, p.Hour)] = p.PerKWh()
	}
	return nil
}
