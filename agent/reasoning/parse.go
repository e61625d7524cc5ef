package reasoning

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
)

var errNoJSONObject = errors.New("response contains no JSON object")

// parseJSONObject decodes the outermost JSON object in a model response,
// tolerating markdown fences and prose around it.
func parseJSONObject(text string, v any) error {
	s := extractJSONObject(text)
	if s == "" {
		return errNoJSONObject
	}
	return json.Unmarshal([]byte(s), v)
}

func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return ""
}

// jsonFloat accepts a JSON number or a numeric string and remembers whether
// the field was present.
type jsonFloat struct {
	Value float64
	Valid bool
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = jsonFloat{}
		return nil
	}
	s := strings.Trim(string(data), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		*f = jsonFloat{}
		return nil
	}
	*f = jsonFloat{Value: v, Valid: true}
	return nil
}

// Or returns the value, or def when the field was missing.
func (f jsonFloat) Or(def float64) float64 {
	if !f.Valid {
		return def
	}
	return f.Value
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

func clamp01(v float64) float64 { return clamp(v, 0, 1) }

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
