package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const offersPath = "/offers"

// MarketOptions parameterise one marketplace price feed.
type MarketOptions struct {
	Name      string
	BaseURL   string
	Query     string
	Timeout   time.Duration
	UserAgent string
}

// Market fetches offer listings from a marketplace price API.
type Market struct {
	opts    MarketOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewMarket constructs a marketplace adapter.
func NewMarket(opts MarketOptions, logger zerolog.Logger) *Market {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Market{
		opts:    opts,
		logger:  logger.With().Str("component", "market_fetcher").Str("source", opts.Name).Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
	}
}

// Name identifies the source in storage and tie-break priority.
func (m *Market) Name() string {
	return m.opts.Name
}

// Fetch retrieves the current offer list and normalizes it.
func (m *Market) Fetch(ctx context.Context) ([]RawObservation, error) {
	if m.baseURL == "" {
		return nil, errors.New("source base_url not configured")
	}

	endpoint := m.baseURL + offersPath
	if m.opts.Query != "" {
		endpoint += "?q=" + url.QueryEscape(m.opts.Query)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(m.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", "dealwatcher/1.0")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payloadBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payloadBytes)
	}

	var listing offersResponse
	if err := json.Unmarshal(payloadBytes, &listing); err != nil {
		return nil, fmt.Errorf("decode offers payload: %w", err)
	}

	fetchedAt := time.Now().UTC()
	observations := make([]RawObservation, 0, len(listing.Offers))
	for i, offer := range listing.Offers {
		price, err := decimal.NewFromString(offer.Price)
		if err != nil {
			return nil, fmt.Errorf("offer %d: parse price %q: %w", i, offer.Price, err)
		}

		observedAt := fetchedAt
		if offer.ListedAt != "" {
			parsed, err := time.Parse(time.RFC3339, offer.ListedAt)
			if err != nil {
				return nil, fmt.Errorf("offer %d: parse listed_at %q: %w", i, offer.ListedAt, err)
			}
			observedAt = parsed.UTC()
		}

		observations = append(observations, RawObservation{
			ProductName:  offer.Product,
			Category:     offer.Category,
			Price:        price,
			Currency:     offer.Currency,
			Availability: offer.Availability,
			ObservedAt:   observedAt,
		})
	}

	m.logger.Debug().Int("offers", len(observations)).Msg("fetched offer listing")
	return observations, nil
}

type offersResponse struct {
	Offers []offerPayload `json:"offers"`
}

type offerPayload struct {
	Product      string `json:"product"`
	Category     string `json:"category"`
	Price        string `json:"price"`
	Currency     string `json:"currency"`
	Availability string `json:"availability"`
	ListedAt     string `json:"listed_at"`
}

type errorResponse struct {
	ErrorType   string `json:"errorType"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Description != "" {
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Description)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.ErrorType != "" {
			return fmt.Errorf("marketplace api error (%d): %s", status, apiErr.ErrorType)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("marketplace api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("marketplace api error (%d)", status)
}

var _ SourceAdapter = (*Market)(nil)
