package poll

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"
)

// Layouts accepted by ParseTimestamp, most specific first. Layouts without
// a zone are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp converts a provider date string to epoch milliseconds.
func ParseTimestamp(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

// PathTimestamp builds an ExtractTimestamp function reading the dotted
// path of a JSON-like item. String values are parsed with ParseTimestamp;
// numeric values are taken as epoch milliseconds.
func PathTimestamp(path string) func(item any) (int64, bool) {
	return func(item any) (int64, bool) {
		c, ok := container(item)
		if !ok {
			return 0, false
		}
		switch v := c.Path(path).Data().(type) {
		case string:
			return ParseTimestamp(v)
		case float64:
			return int64(v), true
		case int64:
			return v, true
		case int:
			return int64(v), true
		case json.Number:
			n, err := v.Int64()
			return n, err == nil
		}
		return 0, false
	}
}

func container(item any) (*gabs.Container, bool) {
	switch v := item.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return gabs.Wrap(v), true
	case []byte:
		c, err := gabs.ParseJSON(v)
		return c, err == nil
	}
	b, err := json.Marshal(item)
	if err != nil {
		return nil, false
	}
	c, err := gabs.ParseJSON(b)
	return c, err == nil
}
