package main

import (
	"fmt"
	"strings"
	"time"
)

// asOfLayouts are tried in order. A bare date means midnight UTC.
var asOfLayouts = []string{time.RFC3339Nano, time.DateOnly}

func parseAsOf(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range asOfLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%q is neither RFC3339 nor YYYY-MM-DD", v)
}
