package extract

import (
	"errors"
	"strings"

	"github.com/kalambet/bazar/internal/listing"
)

// Validate normalizes raw model attributes against the expected names. Every
// expected name appears exactly once, in order, followed by any extra
// attributes whose values are not duplicates. Placeholder values become
// listing.NotFound. Validate is idempotent.
func Validate(raw listing.Attributes, expected []string) listing.Attributes {
	out := listing.NewAttributes()
	consumed := make(map[string]bool, len(expected))

	for _, name := range expected {
		name = strings.TrimSpace(name)
		if name == "" || out.Has(name) {
			continue
		}
		key, value, ok := lookup(raw, name, consumed)
		if !ok {
			out.Set(name, listing.NotFound)
			continue
		}
		consumed[key] = true
		out.Set(name, normalize(value))
	}

	for key, value := range raw.All() {
		if consumed[key] || out.Has(key) {
			continue
		}
		v := normalize(value)
		if v != listing.NotFound && hasValue(out, v) {
			continue
		}
		out.Set(key, v)
	}
	return out
}

// lookup finds name in raw, exactly first and then ignoring case.
func lookup(raw listing.Attributes, name string, consumed map[string]bool) (string, string, bool) {
	if v, ok := raw.Get(name); ok && !consumed[name] {
		return name, v, true
	}
	for k, v := range raw.All() {
		if !consumed[k] && strings.EqualFold(strings.TrimSpace(k), name) {
			return k, v, true
		}
	}
	return "", "", false
}

func normalize(v string) string {
	v = strings.TrimSpace(v)
	if listing.IsMissing(v) {
		return listing.NotFound
	}
	return v
}

func hasValue(attrs listing.Attributes, v string) bool {
	for _, existing := range attrs.All() {
		if existing == v {
			return true
		}
	}
	return false
}

// manualExtract scans text line by line for "name: value" pairs. It is the
// last resort when the model's JSON cannot be parsed and is expected to be lossy.
func manualExtract(text string, expected []string) (listing.Attributes, error) {
	if strings.TrimSpace(text) == "" {
		return listing.Attributes{}, errors.New("no text to scan")
	}
	lines := strings.Split(text, "\n")
	out := listing.NewAttributes()
	for _, name := range expected {
		out.Set(name, scanLine(lines, name))
	}
	return out, nil
}

func scanLine(lines []string, name string) string {
	needle := strings.ToLower(strings.TrimSpace(name))
	if needle == "" {
		return listing.NotFound
	}
	for _, line := range lines {
		if !strings.Contains(strings.ToLower(line), needle) {
			continue
		}
		i := strings.Index(line, ":")
		if i < 0 {
			continue
		}
		v := strings.TrimSpace(line[i+1:])
		v = strings.TrimRight(v, ",")
		v = strings.TrimSpace(strings.Trim(strings.TrimSpace(v), `"'`))
		if v == "" {
			return listing.NotFound
		}
		return v
	}
	return listing.NotFound
}
