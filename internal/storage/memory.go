package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type seriesKey struct {
	productID int64
	sourceID  string
}

// series holds one (product, source) history behind its own lock so appends
// for different keys do not contend with each other.
type series struct {
	mu  sync.Mutex
	obs []PriceObservation
}

// MemoryStore is the in-process EngineStore used when no database DSN is
// configured. Histories do not survive restarts; everything else honours the
// same append, ordering, and alert transition semantics as the Postgres store.
type MemoryStore struct {
	mu            sync.Mutex
	products      map[string]Product
	productsByID  map[int64]Product
	nextProductID int64
	histories     map[seriesKey]*series

	alertMu sync.Mutex
	alerts  map[uuid.UUID]*Alert
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[string]Product),
		productsByID: make(map[int64]Product),
		histories:    make(map[seriesKey]*series),
		alerts:       make(map[uuid.UUID]*Alert),
	}
}

// EnsureProduct creates a product on first sight and returns the stored row.
func (m *MemoryStore) EnsureProduct(ctx context.Context, name, category string) (Product, error) {
	normalized := NormalizeProductName(name)
	if normalized == "" {
		return Product{}, fmt.Errorf("%w: empty product name", ErrInvalidObservation)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.products[normalized]; ok {
		if existing.Category == "" && category != "" {
			existing.Category = category
			m.products[normalized] = existing
			m.productsByID[existing.ID] = existing
		}
		return m.products[normalized], nil
	}

	m.nextProductID++
	product := Product{
		ID:        m.nextProductID,
		Name:      normalized,
		Category:  category,
		CreatedAt: time.Now().UTC(),
	}
	m.products[normalized] = product
	m.productsByID[product.ID] = product
	return product, nil
}

// FindProduct looks up a product by normalized name.
func (m *MemoryStore) FindProduct(ctx context.Context, name string) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.products[NormalizeProductName(name)]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// GetProduct looks up a product by id.
func (m *MemoryStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	product, ok := m.productsByID[id]
	if !ok {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// ListProducts lists catalog entries, optionally filtered by category.
func (m *MemoryStore) ListProducts(ctx context.Context, category string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	products := make([]Product, 0, len(m.products))
	for _, product := range m.products {
		if category != "" && product.Category != category {
			continue
		}
		products = append(products, product)
	}
	sort.Slice(products, func(i, j int) bool { return products[i].Name < products[j].Name })
	return products, nil
}

// AppendObservation stores a validated observation in timestamp order,
// ignoring duplicates on (product, source, observed_at).
func (m *MemoryStore) AppendObservation(ctx context.Context, obs PriceObservation) (AppendOutcome, error) {
	if err := obs.Validate(); err != nil {
		return ObservationAccepted, err
	}

	obs.ObservedAt = obs.ObservedAt.UTC()
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now().UTC()
	}

	history := m.history(seriesKey{productID: obs.ProductID, sourceID: obs.SourceID})

	history.mu.Lock()
	defer history.mu.Unlock()

	idx := sort.Search(len(history.obs), func(i int) bool {
		return !history.obs[i].ObservedAt.Before(obs.ObservedAt)
	})
	if idx < len(history.obs) && history.obs[idx].ObservedAt.Equal(obs.ObservedAt) {
		return DuplicateIgnored, nil
	}

	history.obs = append(history.obs, PriceObservation{})
	copy(history.obs[idx+1:], history.obs[idx:])
	history.obs[idx] = obs
	return ObservationAccepted, nil
}

// ListObservations returns matching price points ascending by observed_at.
func (m *MemoryStore) ListObservations(ctx context.Context, query ObservationQuery) ([]PriceObservation, error) {
	m.mu.Lock()
	keys := make([]seriesKey, 0, len(m.histories))
	for key := range m.histories {
		if key.productID != query.ProductID {
			continue
		}
		if query.SourceID != "" && key.sourceID != query.SourceID {
			continue
		}
		keys = append(keys, key)
	}
	m.mu.Unlock()

	matched := make([]PriceObservation, 0)
	for _, key := range keys {
		history := m.history(key)
		history.mu.Lock()
		for _, obs := range history.obs {
			if query.Since != nil && obs.ObservedAt.Before(*query.Since) {
				continue
			}
			if query.Until != nil && obs.ObservedAt.After(*query.Until) {
				continue
			}
			matched = append(matched, obs)
		}
		history.mu.Unlock()
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].ObservedAt.Equal(matched[j].ObservedAt) {
			return matched[i].ObservedAt.Before(matched[j].ObservedAt)
		}
		return matched[i].SourceID < matched[j].SourceID
	})
	return matched, nil
}

// ListRecentObservations returns the newest observations across all products.
func (m *MemoryStore) ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error) {
	m.mu.Lock()
	keys := make([]seriesKey, 0, len(m.histories))
	for key := range m.histories {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	all := make([]PriceObservation, 0)
	for _, key := range keys {
		history := m.history(key)
		history.mu.Lock()
		all = append(all, history.obs...)
		history.mu.Unlock()
	}

	sort.Slice(all, func(i, j int) bool { return all[i].ObservedAt.After(all[j].ObservedAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// CreateAlert persists a new active alert.
func (m *MemoryStore) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.State == "" {
		alert.State = AlertActive
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	stored := alert
	m.alerts[alert.ID] = &stored
	return stored, nil
}

// ListAlerts lists every alert regardless of state.
func (m *MemoryStore) ListAlerts(ctx context.Context) ([]Alert, error) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	alerts := make([]Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		alerts = append(alerts, *alert)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })
	return alerts, nil
}

// ListActiveAlerts lists active alerts for one product.
func (m *MemoryStore) ListActiveAlerts(ctx context.Context, productID int64) ([]Alert, error) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	alerts := make([]Alert, 0)
	for _, alert := range m.alerts {
		if alert.ProductID == productID && alert.State == AlertActive {
			alerts = append(alerts, *alert)
		}
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].CreatedAt.Before(alerts[j].CreatedAt) })
	return alerts, nil
}

// TriggerAlert performs the atomic active->triggered transition under the
// alert lock; exactly one concurrent caller observes true.
func (m *MemoryStore) TriggerAlert(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return false, ErrAlertNotFound
	}
	if alert.State != AlertActive {
		return false, nil
	}

	triggered := at.UTC()
	alert.State = AlertTriggered
	alert.LastTriggeredAt = &triggered
	return true, nil
}

// ResetAlert re-arms a triggered alert.
func (m *MemoryStore) ResetAlert(ctx context.Context, id uuid.UUID) (bool, error) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return false, ErrAlertNotFound
	}
	if alert.State != AlertTriggered {
		return false, nil
	}
	alert.State = AlertActive
	return true, nil
}

// CancelAlert retires an alert from any state.
func (m *MemoryStore) CancelAlert(ctx context.Context, id uuid.UUID) (bool, error) {
	m.alertMu.Lock()
	defer m.alertMu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return false, ErrAlertNotFound
	}
	if alert.State == AlertCancelled {
		return false, nil
	}
	alert.State = AlertCancelled
	return true, nil
}

func (m *MemoryStore) history(key seriesKey) *series {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, ok := m.histories[key]
	if !ok {
		history = &series{}
		m.histories[key] = history
	}
	return history
}

var _ EngineStore = (*MemoryStore)(nil)
