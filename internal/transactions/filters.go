package transactions

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sahara-drive/donation-portal/internal/backend"
	"github.com/sahara-drive/donation-portal/internal/display"
)

// StatusFilter restricts the listing to one payment status.
type StatusFilter string

const (
	StatusAll      StatusFilter = "all"
	StatusCaptured StatusFilter = "captured"
	StatusFailed   StatusFilter = "failed"
	StatusCreated  StatusFilter = "created"
)

// AmountSort orders the listing.
type AmountSort string

const (
	SortDefault   AmountSort = "default"
	SortLowToHigh AmountSort = "low-to-high"
	SortHighToLow AmountSort = "high-to-low"
)

// minSearchChars is the shortest query that switches to the search endpoint.
const minSearchChars = 2

// Mode tells whether a page came from the paginated listing or a full search.
type Mode string

const (
	ModeList   Mode = "list"
	ModeSearch Mode = "search"
)

// ParseStatusFilter accepts the known filters case-insensitively. Empty means all.
func ParseStatusFilter(raw string) (StatusFilter, error) {
	switch f := StatusFilter(strings.ToLower(strings.TrimSpace(raw))); f {
	case "":
		return StatusAll, nil
	case StatusAll, StatusCaptured, StatusFailed, StatusCreated:
		return f, nil
	default:
		return "", fmt.Errorf("unknown status filter %q", raw)
	}
}

// ParseAmountSort accepts the known sort orders case-insensitively. Empty means default.
func ParseAmountSort(raw string) (AmountSort, error) {
	switch s := AmountSort(strings.ToLower(strings.TrimSpace(raw))); s {
	case "":
		return SortDefault, nil
	case SortDefault, SortLowToHigh, SortHighToLow:
		return s, nil
	default:
		return "", fmt.Errorf("unknown amount sort %q", raw)
	}
}

// Filters are the listing criteria chosen on the dashboard.
type Filters struct {
	Status StatusFilter
	Sort   AmountSort
	Query  string
}

func (f Filters) normalized() Filters {
	if f.Status == "" {
		f.Status = StatusAll
	}
	if f.Sort == "" {
		f.Sort = SortDefault
	}
	f.Query = strings.TrimSpace(f.Query)
	return f
}

// SearchMode reports whether the query is long enough to use the search endpoint.
func (f Filters) SearchMode() bool {
	return len([]rune(strings.TrimSpace(f.Query))) >= minSearchChars
}

// Mode returns the retrieval mode the filters select.
func (f Filters) Mode() Mode {
	if f.SearchMode() {
		return ModeSearch
	}
	return ModeList
}

// filterRecords keeps rows whose status equals the filter, ignoring case.
func filterRecords(rows []backend.TransactionRecord, status StatusFilter) []backend.TransactionRecord {
	if status == "" || status == StatusAll {
		return append([]backend.TransactionRecord(nil), rows...)
	}
	out := make([]backend.TransactionRecord, 0, len(rows))
	for _, row := range rows {
		if row.NormalizedStatus() == string(status) {
			out = append(out, row)
		}
	}
	return out
}

// sortRecords orders rows in place. The default order is newest first by the
// later of payment and order creation time.
func sortRecords(rows []backend.TransactionRecord, order AmountSort) {
	switch order {
	case SortLowToHigh:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].AmountPaise < rows[j].AmountPaise })
	case SortHighToLow:
		sort.SliceStable(rows, func(i, j int) bool { return rows[i].AmountPaise > rows[j].AmountPaise })
	default:
		sort.SliceStable(rows, func(i, j int) bool { return recordTime(rows[i]).After(recordTime(rows[j])) })
	}
}

func recordTime(row backend.TransactionRecord) time.Time {
	t, _ := display.ParseTime(row.LatestTimestamp())
	return t
}
