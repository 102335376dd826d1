package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitDB, fmt.Errorf("json encode: %w", err))
	}
	return nil
}

func stringsTrim(v string) string {
	return strings.TrimSpace(v)
}
