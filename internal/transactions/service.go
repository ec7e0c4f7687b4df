// Package transactions fetches, caches and reconciles transaction records for
// the internal dashboard.
package transactions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sahara-drive/donation-portal/internal/backend"
	"github.com/sahara-drive/donation-portal/internal/display"
	log "github.com/sirupsen/logrus"
)

const (
	keyTopPayments    = "top-payments"
	keyRecentPayments = "recent-payments"
)

// ErrRowNotLoaded is returned when a refresh targets an order the dashboard is not showing.
var ErrRowNotLoaded = errors.New("transaction is not in the loaded list")

// Backend is the subset of the backend client the retrieval layer uses.
type Backend interface {
	ListPayments(ctx context.Context, req backend.ListRequest) ([]backend.TransactionRecord, error)
	SearchTransactions(ctx context.Context, query string) ([]backend.TransactionRecord, error)
	PaymentStats(ctx context.Context) (*backend.Statistics, error)
	TopPayments(ctx context.Context) ([]backend.TransactionRecord, error)
	RecentPayments(ctx context.Context) ([]backend.TransactionRecord, error)
	SyncOrder(ctx context.Context, orderID string) (*backend.SyncOrderResult, error)
}

// Notifier receives refresh notifications, e.g. to fan them out to live dashboards.
type Notifier interface {
	Publish(n Notification)
}

// FetchError is a failed retrieval. The dashboard shows Error() as a banner.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Unable to load %s from backend API: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Page is one page of transactions ready for display.
type Page struct {
	Rows        []backend.TransactionRecord
	Page        int
	PageSize    int
	HasNextPage bool
	Mode        Mode
	// Total is only known in search mode, where the full result set is fetched.
	Total int
}

// Notification reports the outcome of a single-record refresh.
type Notification struct {
	OrderID        string    `json:"order_id"`
	PreviousStatus string    `json:"previous_status"`
	Status         string    `json:"status"`
	Changed        bool      `json:"changed"`
	Message        string    `json:"message"`
	At             time.Time `json:"at"`
}

// Service is the process-wide retrieval layer shared by every dashboard session.
type Service struct {
	backend  Backend
	cache    *Cache
	pageSize int
	notifier Notifier
	now      Clock
}

// Options configure a Service.
type Options struct {
	PageSize int
	CacheTTL time.Duration
	Clock    Clock
	Notifier Notifier
}

// NewService builds the retrieval layer on top of b.
func NewService(b Backend, opts Options) *Service {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{
		backend:  b,
		cache:    NewCache(opts.CacheTTL, opts.Clock),
		pageSize: opts.PageSize,
		notifier: opts.Notifier,
		now:      opts.Clock,
	}
}

// PageSize returns the default page size.
func (s *Service) PageSize() int { return s.pageSize }

// Cache exposes the top/recent cache.
func (s *Service) Cache() *Cache { return s.cache }

// FetchTransactions loads one page. In list mode it asks the backend for
// pageSize+1 rows and uses the extra row only to decide HasNextPage. In search
// mode it fetches every match and paginates locally. On failure the returned
// page is empty with HasNextPage false.
func (s *Service) FetchTransactions(ctx context.Context, filters Filters, page, pageSize int) (*Page, error) {
	filters = filters.normalized()
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = s.pageSize
	}
	if filters.SearchMode() {
		return s.search(ctx, filters, page, pageSize)
	}

	result := &Page{Rows: []backend.TransactionRecord{}, Page: page, PageSize: pageSize, Mode: ModeList}
	rows, err := s.backend.ListPayments(ctx, backend.ListRequest{
		Page:         page,
		PageSize:     pageSize + 1,
		StatusFilter: string(filters.Status),
		AmountSort:   string(filters.Sort),
	})
	if err != nil {
		log.WithError(err).WithField("page", page).Warn("failed to fetch payments from backend")
		return result, &FetchError{Op: "transactions", Err: err}
	}
	result.HasNextPage = len(rows) > pageSize
	if result.HasNextPage {
		rows = rows[:pageSize]
	}
	result.Rows = rows
	return result, nil
}

func (s *Service) search(ctx context.Context, filters Filters, page, pageSize int) (*Page, error) {
	result := &Page{Rows: []backend.TransactionRecord{}, Page: page, PageSize: pageSize, Mode: ModeSearch}
	all, err := s.backend.SearchTransactions(ctx, filters.Query)
	if err != nil {
		log.WithError(err).Warn("failed to search transactions")
		return result, &FetchError{Op: "search results", Err: err}
	}

	rows := filterRecords(all, filters.Status)
	sortRecords(rows, filters.Sort)
	result.Total = len(rows)

	start := (page - 1) * pageSize
	if start >= len(rows) {
		return result, nil
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	result.Rows = rows[start:end]
	result.HasNextPage = end < len(rows)
	return result, nil
}

// FetchStatistics loads the aggregate counters. It never touches the list state.
func (s *Service) FetchStatistics(ctx context.Context) (*backend.Statistics, error) {
	stats, err := s.backend.PaymentStats(ctx)
	if err != nil {
		return nil, &FetchError{Op: "statistics", Err: err}
	}
	return stats, nil
}

// FetchTopPayments returns the cached top payments, fetching at most once per TTL.
func (s *Service) FetchTopPayments(ctx context.Context) ([]backend.TransactionRecord, error) {
	return s.cachedList(ctx, keyTopPayments, s.backend.TopPayments)
}

// FetchRecentPayments returns the cached recent payments, fetching at most once per TTL.
func (s *Service) FetchRecentPayments(ctx context.Context) ([]backend.TransactionRecord, error) {
	return s.cachedList(ctx, keyRecentPayments, s.backend.RecentPayments)
}

func (s *Service) cachedList(ctx context.Context, key string, fetch func(context.Context) ([]backend.TransactionRecord, error)) ([]backend.TransactionRecord, error) {
	data, err := s.cache.Fetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetch(ctx)
	})
	if err != nil {
		return nil, &FetchError{Op: strings.ReplaceAll(key, "-", " "), Err: err}
	}
	rows, _ := data.([]backend.TransactionRecord)
	return append([]backend.TransactionRecord(nil), rows...), nil
}

// RefreshTransaction asks the backend for the authoritative state of one order.
func (s *Service) RefreshTransaction(ctx context.Context, orderID string) (*backend.SyncOrderResult, error) {
	result, err := s.backend.SyncOrder(ctx, orderID)
	if err != nil {
		return nil, &FetchError{Op: "order " + orderID, Err: err}
	}
	return result, nil
}

func (s *Service) publish(n Notification) {
	if s.notifier != nil {
		s.notifier.Publish(n)
	}
}

// ApplySync patches the row matching orderID and returns a new slice. Other
// rows are copied unchanged. found is false when no row matches.
func ApplySync(rows []backend.TransactionRecord, orderID string, result *backend.SyncOrderResult) (patched []backend.TransactionRecord, previous backend.TransactionRecord, found bool) {
	patched = append([]backend.TransactionRecord(nil), rows...)
	for i := range patched {
		if patched[i].OrderID != orderID {
			continue
		}
		previous = patched[i]
		patched[i] = PatchRecord(patched[i], result)
		return patched, previous, true
	}
	return rows, previous, false
}

// PatchRecord applies a sync result to one record. Values the result does not
// carry are left as they are.
func PatchRecord(rec backend.TransactionRecord, result *backend.SyncOrderResult) backend.TransactionRecord {
	if result == nil {
		return rec
	}
	if result.Status != "" {
		rec.Status = result.Status
	}

	if d := result.Donor; d != nil {
		donor := backend.Donor{}
		if rec.Donor != nil {
			donor = *rec.Donor
		}
		if d.Name != "" {
			donor.Name = d.Name
		}
		if d.Email != nil {
			donor.Email = d.Email
		}
		if d.Phone != nil {
			donor.Phone = d.Phone
		}
		rec.Donor = &donor
	}

	p := result.Payment
	if p == nil {
		return rec
	}
	if p.PaymentID != nil {
		rec.PaymentID = p.PaymentID
	}
	if p.Method != nil {
		rec.Method = p.Method
	}
	if p.Email != nil {
		rec.Email = p.Email
	}
	if p.Contact != nil {
		rec.Contact = p.Contact
	}
	if p.Captured != nil {
		rec.Captured = p.Captured
	}
	if p.CreatedAt != nil {
		rec.PaymentCreatedAt = p.CreatedAt
	}
	if p.AmountPaise != nil {
		rec.AmountPaise = *p.AmountPaise
		rec.AmountRupees = backend.MajorAmountFromSubunits(*p.AmountPaise)
	}
	if p.Currency != nil {
		rec.Currency = *p.Currency
	}
	return rec
}

func newNotification(orderID, previous, current string, at time.Time) Notification {
	n := Notification{OrderID: orderID, PreviousStatus: previous, Status: current, At: at}
	n.Changed = current != "" && !strings.EqualFold(previous, current)
	if n.Changed {
		n.Message = fmt.Sprintf("Transaction %s updated to %s.", orderID, display.StatusLabel(current))
	} else {
		n.Message = fmt.Sprintf("Transaction %s is already up to date.", orderID)
	}
	return n
}
