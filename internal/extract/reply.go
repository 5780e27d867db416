package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/kalambet/bazar/internal/listing"
)

// reply is the parsed model output, resolved once into one of two shapes.
type reply interface {
	attributes() listing.Attributes
}

// attributesOnly is an object whose keys are the attributes themselves.
type attributesOnly struct {
	attrs listing.Attributes
}

func (r attributesOnly) attributes() listing.Attributes { return r.attrs }

// envelope carries attributes alongside a price suggestion and listing copy.
type envelope struct {
	attrs listing.Attributes
	price listing.PriceSuggestion
	copy  listing.Copy
}

func (r envelope) attributes() listing.Attributes { return r.attrs }

const (
	keyAttributes = "attributes"
	keyPrice      = "price_suggestion"
	keyListing    = "listing"
)

// isolateJSON cuts the JSON object out of free-form model text. A ```json
// block wins, then a plain fenced block holding an object; otherwise the span
// from the first '{' to the last '}' is used.
func isolateJSON(content string) string {
	if body, ok := fenced(content, "```json"); ok {
		return body
	}
	if body, ok := fenced(content, "```"); ok && strings.Contains(body, "{") {
		return body
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start >= 0 && end > start {
		return content[start : end+1]
	}
	return strings.TrimSpace(content)
}

func fenced(content, marker string) (string, bool) {
	i := strings.Index(content, marker)
	if i < 0 {
		return "", false
	}
	rest := content[i+len(marker):]
	if marker == "```" {
		// Skip a language tag on the opening fence line.
		if nl := strings.IndexByte(rest, '\n'); nl >= 0 && !strings.Contains(rest[:nl], "{") {
			rest = rest[nl+1:]
		}
	}
	j := strings.Index(rest, "```")
	if j < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:j]), true
}

// parseReply decodes an isolated JSON document into a reply variant.
func parseReply(blob string) (reply, error) {
	data := []byte(strings.TrimSpace(blob))
	if len(data) == 0 {
		return nil, errors.New("no JSON object found in response")
	}
	if !json.Valid(data) {
		var probe any
		err := json.Unmarshal(data, &probe)
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if data[0] != '{' {
		return nil, errors.New("response JSON is not an object")
	}

	top := orderedmap.New[string, json.RawMessage]()
	if err := top.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("decoding response object: %w", err)
	}

	if raw, ok := top.Get(keyAttributes); ok && isObject(raw) {
		attrs, err := decodeAttributes(raw, nil)
		if err != nil {
			return nil, err
		}
		env := envelope{attrs: attrs}
		if raw, ok := top.Get(keyPrice); ok {
			// A malformed suggestion is dropped rather than failing the reply.
			_ = json.Unmarshal(raw, &env.price)
		}
		if raw, ok := top.Get(keyListing); ok {
			_ = json.Unmarshal(raw, &env.copy)
		}
		return env, nil
	}

	attrs, err := decodeAttributes(data, map[string]bool{keyAttributes: true, keyPrice: true, keyListing: true})
	if err != nil {
		return nil, err
	}
	return attributesOnly{attrs: attrs}, nil
}

func decodeAttributes(raw json.RawMessage, skip map[string]bool) (listing.Attributes, error) {
	m := orderedmap.New[string, json.RawMessage]()
	if err := m.UnmarshalJSON(raw); err != nil {
		return listing.Attributes{}, fmt.Errorf("decoding attributes: %w", err)
	}
	out := listing.NewAttributes()
	for p := m.Oldest(); p != nil; p = p.Next() {
		if skip[p.Key] {
			continue
		}
		out.Set(p.Key, stringify(p.Value))
	}
	return out, nil
}

func isObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

// stringify renders any JSON value as an attribute string.
func stringify(raw json.RawMessage) string {
	t := bytes.TrimSpace(raw)
	if len(t) == 0 {
		return ""
	}
	switch t[0] {
	case '"':
		var s string
		if err := json.Unmarshal(t, &s); err == nil {
			return s
		}
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(t, &items); err == nil {
			parts := make([]string, 0, len(items))
			for _, it := range items {
				if s := stringify(it); s != "" {
					parts = append(parts, s)
				}
			}
			return strings.Join(parts, ", ")
		}
	case 'n':
		return ""
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(t, &b); err == nil {
			return strconv.FormatBool(b)
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, t); err == nil {
		return buf.String()
	}
	return string(t)
}
