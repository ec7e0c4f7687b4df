// Package display shapes backend values for people: status labels, dates and amounts.
package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NotAvailable is shown wherever an optional value is missing.
const NotAvailable = "N/A"

// Anonymous is shown for transactions without a donor name.
const Anonymous = "Anonymous"

// StatusLabel maps a backend payment status to the label shown on the dashboard.
func StatusLabel(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "captured":
		return "Success"
	case "created":
		return "Pending"
	default:
		return status
	}
}

var statusBadges = map[string]string{
	"captured": "bg-green-100 text-green-800",
	"created":  "bg-yellow-100 text-yellow-800",
	"failed":   "bg-red-100 text-red-800",
	"refunded": "bg-gray-100 text-gray-800",
}

// StatusBadge returns the badge style class for a status.
func StatusBadge(status string) string {
	if badge, ok := statusBadges[strings.ToLower(strings.TrimSpace(status))]; ok {
		return badge
	}
	return "bg-gray-100 text-gray-800"
}

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses the timestamp formats the backend emits, including unix seconds.
func ParseTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	if secs, err := strconv.ParseInt(value, 10, 64); err == nil && secs > 0 {
		return time.Unix(secs, 0).UTC(), true
	}
	return time.Time{}, false
}

// FormatDate renders a backend timestamp in loc. Missing values render as N/A
// and unparseable values are returned unchanged.
func FormatDate(value string, loc *time.Location) string {
	if strings.TrimSpace(value) == "" {
		return NotAvailable
	}
	t, ok := ParseTime(value)
	if !ok {
		return value
	}
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("02/01/2006, 15:04:05")
}

// FormatAmount renders an amount in currency subunits as major units, e.g. 50000 INR -> "500.00 INR".
func FormatAmount(subunits int64, currency string) string {
	sign := ""
	if subunits < 0 {
		sign = "-"
		subunits = -subunits
	}
	major := fmt.Sprintf("%s%d.%02d", sign, subunits/100, subunits%100)
	if currency = strings.ToUpper(strings.TrimSpace(currency)); currency == "" {
		return major
	}
	return major + " " + currency
}

// OrNotAvailable returns value or N/A when it is nil or blank.
func OrNotAvailable(value *string) string {
	if value == nil || strings.TrimSpace(*value) == "" {
		return NotAvailable
	}
	return *value
}
