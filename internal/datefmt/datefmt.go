package datefmt

import (
	"fmt"
	"net/http"
	"time"
)

// Layout is the round-trip form used by the legacy server for Raven-Last-Modified:
// UTC with exactly seven fractional digits.
const Layout = "2006-01-02T15:04:05.0000000Z"

const layoutNoZone = "2006-01-02T15:04:05.0000000"

// Format renders t in UTC using Layout. Precision below 100ns is truncated.
func Format(t time.Time) string {
	return t.UTC().Format(Layout)
}

// Parse reads Layout, the same layout without the zone marker (taken as UTC), or RFC 3339.
func Parse(s string) (time.Time, error) {
	for _, layout := range []string{Layout, layoutNoZone} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// HTTP renders t for the Last-Modified response header.
func HTTP(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseHTTP reads any of the date forms allowed in HTTP headers.
func ParseHTTP(s string) (time.Time, error) {
	return http.ParseTime(s)
}
