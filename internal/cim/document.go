package cim

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Document is a decoded market document.
type Document struct {
	Root         string
	Header       map[string]any
	Transactions []map[string]any
}

// Parse decodes a raw payload and locates its document root. Numbers are
// kept as json.Number so quantities survive without float rounding.
func Parse(raw []byte) (*Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, ErrEmptyPayload
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var top map[string]any
	if err := dec.Decode(&top); err != nil {
		return nil, err
	}

	root := ""
	for key := range top {
		if !strings.HasSuffix(key, RootSuffix) {
			continue
		}
		if root != "" {
			return nil, ErrNotClassified
		}
		root = key
	}
	if root == "" {
		return nil, ErrNotClassified
	}
	header, ok := top[root].(map[string]any)
	if !ok {
		return nil, ErrNotClassified
	}

	doc := &Document{Root: root, Header: header}
	for _, element := range []string{ElementActivityRecord, ElementSeries} {
		node, ok := header[element]
		if !ok {
			continue
		}
		switch v := node.(type) {
		case []any:
			for _, item := range v {
				if entry, ok := item.(map[string]any); ok {
					doc.Transactions = append(doc.Transactions, entry)
				}
			}
		case map[string]any:
			doc.Transactions = append(doc.Transactions, v)
		}
		break
	}
	return doc, nil
}

// Name returns the root name without the document suffix.
func (d *Document) Name() string {
	if d == nil {
		return ""
	}
	return strings.TrimSuffix(d.Root, RootSuffix)
}

// HeaderValue unwraps one header field.
func (d *Document) HeaderValue(key string) string {
	if d == nil {
		return ""
	}
	value, _ := Unwrap(d.Header[key])
	return value
}

// lookup resolves a dotted CIM field name. Keys on the wire often contain
// dots themselves, so the literal key wins before descending into objects.
func lookup(record map[string]any, path string) (any, bool) {
	if record == nil {
		return nil, false
	}
	if value, ok := record[path]; ok {
		return value, true
	}
	for i := 0; i < len(path); i++ {
		if path[i] != '.' {
			continue
		}
		sub, ok := record[path[:i]].(map[string]any)
		if !ok {
			continue
		}
		if value, ok := lookup(sub, path[i+1:]); ok {
			return value, true
		}
	}
	return nil, false
}
