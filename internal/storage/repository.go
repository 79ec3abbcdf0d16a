package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrProductNotFound indicates a catalog lookup miss.
	ErrProductNotFound = errors.New("storage: product not found")
	// ErrAlertNotFound indicates an alert lookup miss.
	ErrAlertNotFound = errors.New("storage: alert not found")
)

const (
	ensureProductSQL = `INSERT INTO products (name, category)
    VALUES ($1, $2)
    ON CONFLICT (name) DO UPDATE
    SET category = COALESCE(NULLIF(products.category, ''), EXCLUDED.category)
    RETURNING id, name, category, created_at;`

	findProductSQL = `SELECT id, name, category, created_at
    FROM products
    WHERE name = $1;`

	getProductSQL = `SELECT id, name, category, created_at
    FROM products
    WHERE id = $1;`

	listProductsSQL = `SELECT id, name, category, created_at
    FROM products
    WHERE ($1 = '' OR category = $1)
    ORDER BY name;`

	insertObservationSQL = `INSERT INTO price_observations (
        product_id,
        source_id,
        price,
        currency,
        availability,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (product_id, source_id, observed_at) DO NOTHING;`

	listObservationsSQL = `SELECT
        product_id,
        source_id,
        price,
        currency,
        availability,
        observed_at,
        created_at
    FROM price_observations
    WHERE product_id = $1
      AND ($2 = '' OR source_id = $2)
      AND ($3::timestamptz IS NULL OR observed_at >= $3)
      AND ($4::timestamptz IS NULL OR observed_at <= $4)
    ORDER BY observed_at;`

	listRecentObservationsSQL = `SELECT
        product_id,
        source_id,
        price,
        currency,
        availability,
        observed_at,
        created_at
    FROM price_observations
    ORDER BY observed_at DESC
    LIMIT $1;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        product_id,
        target_price,
        contact,
        state
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    RETURNING id, product_id, target_price, contact, state, created_at, last_triggered_at;`

	listAlertsSQL = `SELECT
        id, product_id, target_price, contact, state, created_at, last_triggered_at
    FROM alerts
    ORDER BY created_at;`

	listActiveAlertsSQL = `SELECT
        id, product_id, target_price, contact, state, created_at, last_triggered_at
    FROM alerts
    WHERE product_id = $1
      AND state = 'active'
    ORDER BY created_at;`

	triggerAlertSQL = `UPDATE alerts
    SET state = 'triggered', last_triggered_at = $2
    WHERE id = $1
      AND state = 'active';`

	resetAlertSQL = `UPDATE alerts
    SET state = 'active'
    WHERE id = $1
      AND state = 'triggered';`

	cancelAlertSQL = `UPDATE alerts
    SET state = 'cancelled'
    WHERE id = $1
      AND state <> 'cancelled';`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines price history persistence. Observations are
// append-only: nothing here edits or deletes stored price points.
type ObservationStore interface {
	EnsureProduct(ctx context.Context, name, category string) (Product, error)
	FindProduct(ctx context.Context, name string) (Product, error)
	GetProduct(ctx context.Context, id int64) (Product, error)
	ListProducts(ctx context.Context, category string) ([]Product, error)
	AppendObservation(ctx context.Context, obs PriceObservation) (AppendOutcome, error)
	ListObservations(ctx context.Context, query ObservationQuery) ([]PriceObservation, error)
	ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error)
}

// AlertStore defines alert persistence and the state machine transitions.
// TriggerAlert is the only path from active to triggered and reports whether
// this call performed the transition, so concurrent evaluations of the same
// alert trigger exactly once.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert Alert) (Alert, error)
	ListAlerts(ctx context.Context) ([]Alert, error)
	ListActiveAlerts(ctx context.Context, productID int64) ([]Alert, error)
	TriggerAlert(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ResetAlert(ctx context.Context, id uuid.UUID) (bool, error)
	CancelAlert(ctx context.Context, id uuid.UUID) (bool, error)
}

// EngineStore joins the two persistence concerns the engine needs.
type EngineStore interface {
	ObservationStore
	AlertStore
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates Postgres-backed access to products, observations, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureProduct creates a product on first sight and returns the stored row.
func (s *Store) EnsureProduct(ctx context.Context, name, category string) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	normalized := NormalizeProductName(name)
	if normalized == "" {
		return Product{}, fmt.Errorf("%w: empty product name", ErrInvalidObservation)
	}

	row := pool.QueryRow(ctx, ensureProductSQL, normalized, category)
	product, scanErr := scanProduct(row)
	if scanErr != nil {
		return Product{}, fmt.Errorf("ensure product: %w", scanErr)
	}
	return product, nil
}

// FindProduct looks up a product by normalized name.
func (s *Store) FindProduct(ctx context.Context, name string) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	row := pool.QueryRow(ctx, findProductSQL, NormalizeProductName(name))
	product, scanErr := scanProduct(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("find product: %w", scanErr)
	}
	return product, nil
}

// GetProduct looks up a product by id.
func (s *Store) GetProduct(ctx context.Context, id int64) (Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return Product{}, err
	}

	row := pool.QueryRow(ctx, getProductSQL, id)
	product, scanErr := scanProduct(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Product{}, ErrProductNotFound
		}
		return Product{}, fmt.Errorf("get product: %w", scanErr)
	}
	return product, nil
}

// ListProducts lists catalog entries, optionally filtered by category.
func (s *Store) ListProducts(ctx context.Context, category string) ([]Product, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listProductsSQL, category)
	if queryErr != nil {
		return nil, fmt.Errorf("list products: %w", queryErr)
	}
	defer rows.Close()

	products := make([]Product, 0)
	for rows.Next() {
		product, scanErr := scanProduct(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		products = append(products, product)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return products, nil
}

// AppendObservation stores a validated observation. The unique index on
// (product_id, source_id, observed_at) makes re-delivery idempotent.
func (s *Store) AppendObservation(ctx context.Context, obs PriceObservation) (AppendOutcome, error) {
	pool, err := s.getPool()
	if err != nil {
		return ObservationAccepted, err
	}

	if err := obs.Validate(); err != nil {
		return ObservationAccepted, err
	}

	cmdTag, execErr := pool.Exec(ctx, insertObservationSQL,
		obs.ProductID,
		obs.SourceID,
		obs.Price.String(),
		obs.Currency,
		obs.Availability,
		obs.ObservedAt.UTC(),
	)
	if execErr != nil {
		return ObservationAccepted, fmt.Errorf("append observation: %w", execErr)
	}
	if cmdTag.RowsAffected() == 0 {
		return DuplicateIgnored, nil
	}
	return ObservationAccepted, nil
}

// ListObservations returns matching price points ascending by observed_at.
func (s *Store) ListObservations(ctx context.Context, query ObservationQuery) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsSQL,
		query.ProductID,
		query.SourceID,
		query.Since,
		query.Until,
	)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, 0)
}

// ListRecentObservations returns the newest observations across all products.
func (s *Store) ListRecentObservations(ctx context.Context, limit int) ([]PriceObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows, limit)
}

// CreateAlert persists a new active alert.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) (Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, err
	}

	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	if alert.State == "" {
		alert.State = AlertActive
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.ID,
		alert.ProductID,
		alert.TargetPrice.String(),
		alert.Contact,
		string(alert.State),
	)
	stored, scanErr := scanAlert(row)
	if scanErr != nil {
		return Alert{}, fmt.Errorf("create alert: %w", scanErr)
	}
	return stored, nil
}

// ListAlerts lists every alert regardless of state.
func (s *Store) ListAlerts(ctx context.Context) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listAlertsSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// ListActiveAlerts lists active alerts for one product.
func (s *Store) ListActiveAlerts(ctx context.Context, productID int64) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listActiveAlertsSQL, productID)
	if queryErr != nil {
		return nil, fmt.Errorf("list active alerts: %w", queryErr)
	}
	defer rows.Close()

	return collectAlerts(rows)
}

// TriggerAlert performs the atomic active->triggered transition. The guarded
// UPDATE means exactly one concurrent caller observes true.
func (s *Store) TriggerAlert(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, triggerAlertSQL, id, at.UTC())
	if execErr != nil {
		return false, fmt.Errorf("trigger alert: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// ResetAlert re-arms a triggered alert. Explicit user action only.
func (s *Store) ResetAlert(ctx context.Context, id uuid.UUID) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, resetAlertSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("reset alert: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

// CancelAlert retires an alert from any state.
func (s *Store) CancelAlert(ctx context.Context, id uuid.UUID) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	cmdTag, execErr := pool.Exec(ctx, cancelAlertSQL, id)
	if execErr != nil {
		return false, fmt.Errorf("cancel alert: %w", execErr)
	}
	return cmdTag.RowsAffected() > 0, nil
}

func collectObservations(rows pgx.Rows, sizeHint int) ([]PriceObservation, error) {
	observations := make([]PriceObservation, 0, sizeHint)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func collectAlerts(rows pgx.Rows) ([]Alert, error) {
	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var product Product
	if err := row.Scan(&product.ID, &product.Name, &product.Category, &product.CreatedAt); err != nil {
		return Product{}, err
	}
	return product, nil
}

func scanObservation(row pgx.Row) (PriceObservation, error) {
	var (
		obs      PriceObservation
		priceStr string
	)
	if err := row.Scan(
		&obs.ProductID,
		&obs.SourceID,
		&priceStr,
		&obs.Currency,
		&obs.Availability,
		&obs.ObservedAt,
		&obs.CreatedAt,
	); err != nil {
		return PriceObservation{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceObservation{}, fmt.Errorf("parse price: %w", err)
	}
	obs.Price = price
	return obs, nil
}

func scanAlert(row pgx.Row) (Alert, error) {
	var (
		alert       Alert
		targetStr   string
		state       string
		triggeredAt *time.Time
	)
	if err := row.Scan(
		&alert.ID,
		&alert.ProductID,
		&targetStr,
		&alert.Contact,
		&state,
		&alert.CreatedAt,
		&triggeredAt,
	); err != nil {
		return Alert{}, err
	}

	target, err := decimal.NewFromString(targetStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse target price: %w", err)
	}
	alert.TargetPrice = target
	alert.State = AlertState(state)
	alert.LastTriggeredAt = triggeredAt
	return alert, nil
}

var (
	_ ObservationStore = (*Store)(nil)
	_ AlertStore       = (*Store)(nil)
	_ AdvisoryLocker   = (*Store)(nil)
)
