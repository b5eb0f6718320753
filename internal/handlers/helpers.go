package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	domain "github.com/merchlane/ordercore/internal/domain"
	"github.com/merchlane/ordercore/internal/platform/httpx"
	"github.com/merchlane/ordercore/internal/platform/pagination"
	"github.com/merchlane/ordercore/internal/services"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxJSONBodySize = 64 * 1024
)

var (
	errEmptyBody    = errors.New("request body is empty")
	errBodyTooLarge = errors.New("request body too large")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxJSONBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	ctx := r.Context()
	body, err := readLimitedBody(r, maxJSONBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		case errors.Is(err, errEmptyBody):
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		}
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
		return false
	}
	return true
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func parsePagination(r *http.Request) (domain.Pagination, error) {
	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultPageSize,
		MaxPageSize:     maxPageSize,
	})
	if err != nil {
		return domain.Pagination{}, errors.New("page_size must be an integer")
	}
	return domain.Pagination{
		PageSize:  params.PageSize,
		PageToken: params.PageToken,
	}, nil
}

func parseFilterValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{})
	filters := make([]string, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			trimmed := strings.ToLower(strings.TrimSpace(part))
			if trimmed == "" {
				continue
			}
			if _, exists := seen[trimmed]; exists {
				continue
			}
			seen[trimmed] = struct{}{}
			filters = append(filters, trimmed)
		}
	}
	return filters
}

func parseTimeParam(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("timestamp is empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("must be RFC3339 timestamp")
}

func parseDateRange(r *http.Request) (domain.RangeQuery[time.Time], error) {
	var dateRange domain.RangeQuery[time.Time]
	query := r.URL.Query()
	if raw := strings.TrimSpace(query.Get("created_after")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return dateRange, errors.New("created_after must be a valid RFC3339 timestamp")
		}
		dateRange.From = &ts
	}
	if raw := strings.TrimSpace(query.Get("created_before")); raw != "" {
		ts, err := parseTimeParam(raw)
		if err != nil {
			return dateRange, errors.New("created_before must be a valid RFC3339 timestamp")
		}
		dateRange.To = &ts
	}
	return dateRange, nil
}

func pointerTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

type productPayload struct {
	ID                string  `json:"id"`
	Name              string  `json:"name,omitempty"`
	Price             int64   `json:"price"`
	Currency          string  `json:"currency,omitempty"`
	Inventory         int     `json:"inventory"`
	LowStockThreshold int     `json:"low_stock_threshold"`
	ViewCount         int64   `json:"view_count"`
	CartCount         int64   `json:"cart_count"`
	OrderCount        int64   `json:"order_count"`
	PurchaseCount     int64   `json:"purchase_count"`
	PopularityScore   float64 `json:"popularity_score"`
	Published         bool    `json:"published"`
	OutOfStock        bool    `json:"out_of_stock"`
	LowStock          bool    `json:"low_stock"`
	LastEngagedAt     string  `json:"last_engaged_at,omitempty"`
	UpdatedAt         string  `json:"updated_at,omitempty"`
}

func buildProductPayload(product services.Product) productPayload {
	return productPayload{
		ID:                product.ID,
		Name:              product.Name,
		Price:             product.Price,
		Currency:          strings.ToUpper(strings.TrimSpace(product.Currency)),
		Inventory:         product.Inventory,
		LowStockThreshold: product.LowStockThreshold,
		ViewCount:         product.ViewCount,
		CartCount:         product.CartCount,
		OrderCount:        product.OrderCount,
		PurchaseCount:     product.PurchaseCount,
		PopularityScore:   product.PopularityScore,
		Published:         product.Published,
		OutOfStock:        product.OutOfStock(),
		LowStock:          product.LowStock(),
		LastEngagedAt:     formatTime(pointerTime(product.LastEngagedAt)),
		UpdatedAt:         formatTime(product.UpdatedAt),
	}
}

type addressPayload struct {
	Recipient  string  `json:"recipient"`
	Line1      string  `json:"line1"`
	Line2      *string `json:"line2,omitempty"`
	City       string  `json:"city"`
	State      *string `json:"state,omitempty"`
	PostalCode string  `json:"postal_code"`
	Country    string  `json:"country"`
	Phone      *string `json:"phone,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Recipient:  addr.Recipient,
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
		Phone:      addr.Phone,
	}
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		Recipient:  strings.TrimSpace(p.Recipient),
		Line1:      strings.TrimSpace(p.Line1),
		Line2:      p.Line2,
		City:       strings.TrimSpace(p.City),
		State:      p.State,
		PostalCode: strings.TrimSpace(p.PostalCode),
		Country:    strings.TrimSpace(p.Country),
		Phone:      p.Phone,
	}
}
