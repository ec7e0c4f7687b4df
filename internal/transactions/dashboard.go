package transactions

import (
	"context"
	"sort"
	"sync"

	"github.com/sahara-drive/donation-portal/internal/backend"
)

// View is what one dashboard session currently shows.
type View struct {
	Filters     Filters
	Mode        Mode
	Page        int
	PageSize    int
	StartIndex  int
	Rows        []backend.TransactionRecord
	HasNextPage bool
	Total       int
	Error       string
	Refreshing  []string
}

// Dashboard holds the list state of one dashboard session. List responses are
// stamped with a sequence number and a response older than the newest applied
// one is dropped.
type Dashboard struct {
	svc      *Service
	pageSize int

	mu         sync.Mutex
	loaded     bool
	filters    Filters
	page       int
	rows       []backend.TransactionRecord
	hasNext    bool
	total      int
	lastErr    string
	issued     uint64
	applied    uint64
	refreshing map[string]int
}

// NewDashboard returns an empty dashboard view bound to svc.
func NewDashboard(svc *Service) *Dashboard {
	return &Dashboard{
		svc:        svc,
		pageSize:   svc.PageSize(),
		filters:    Filters{}.normalized(),
		page:       1,
		rows:       []backend.TransactionRecord{},
		refreshing: make(map[string]int),
	}
}

// Load fetches the requested page. Any change of filters, sort, query or mode
// resets to page 1, and moving past the last page keeps the current one.
func (d *Dashboard) Load(ctx context.Context, filters Filters, page int) (View, error) {
	filters = filters.normalized()

	d.mu.Lock()
	if page < 1 {
		page = 1
	}
	if d.loaded {
		switch {
		case filters != d.filters:
			page = 1
		case page > d.page && !d.hasNext:
			page = d.page
		}
	}
	d.issued++
	seq := d.issued
	d.mu.Unlock()

	result, err := d.svc.FetchTransactions(ctx, filters, page, d.pageSize)

	d.mu.Lock()
	defer d.mu.Unlock()
	if seq < d.applied {
		return d.view(), nil
	}
	d.applied = seq
	d.loaded = true
	d.filters = filters
	d.page = result.Page
	d.rows = result.Rows
	d.hasNext = result.HasNextPage
	d.total = result.Total
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
		d.rows = []backend.TransactionRecord{}
		d.hasNext = false
		d.total = 0
	}
	return d.view(), err
}

// Current returns the view without fetching.
func (d *Dashboard) Current() View {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.view()
}

// Refresh reconciles one loaded row with the backend and patches it in place.
// Concurrent refreshes of the same order are not prevented; the refreshing
// marker only lets the page disable its control.
func (d *Dashboard) Refresh(ctx context.Context, orderID string) (backend.TransactionRecord, Notification, error) {
	d.mu.Lock()
	if !d.hasRow(orderID) {
		d.mu.Unlock()
		return backend.TransactionRecord{}, Notification{}, ErrRowNotLoaded
	}
	d.refreshing[orderID]++
	d.mu.Unlock()

	result, err := d.svc.RefreshTransaction(ctx, orderID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.refreshing[orderID]--; d.refreshing[orderID] <= 0 {
		delete(d.refreshing, orderID)
	}
	if err != nil {
		d.lastErr = err.Error()
		return backend.TransactionRecord{}, Notification{}, err
	}

	rows, previous, found := ApplySync(d.rows, orderID, result)
	if !found {
		return backend.TransactionRecord{}, Notification{}, ErrRowNotLoaded
	}
	d.rows = rows
	var patched backend.TransactionRecord
	for _, row := range rows {
		if row.OrderID == orderID {
			patched = row
			break
		}
	}

	n := newNotification(orderID, previous.Status, patched.Status, d.svc.now())
	d.svc.publish(n)
	return patched, n, nil
}

func (d *Dashboard) hasRow(orderID string) bool {
	for _, row := range d.rows {
		if row.OrderID == orderID {
			return true
		}
	}
	return false
}

func (d *Dashboard) view() View {
	refreshing := make([]string, 0, len(d.refreshing))
	for id := range d.refreshing {
		refreshing = append(refreshing, id)
	}
	sort.Strings(refreshing)
	return View{
		Filters:     d.filters,
		Mode:        d.filters.Mode(),
		Page:        d.page,
		PageSize:    d.pageSize,
		StartIndex:  (d.page - 1) * d.pageSize,
		Rows:        append([]backend.TransactionRecord(nil), d.rows...),
		HasNextPage: d.hasNext,
		Total:       d.total,
		Error:       d.lastErr,
		Refreshing:  refreshing,
	}
}
