// Package backup moves whole local collections in and out of a single JSON
// document.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agentworkforce/recordsync/internal/record"
)

const FormatVersion = 1

var ErrInvalidDocument = errors.New("invalid backup document")

type Document struct {
	Version     int                        `json:"version"`
	ExportedAt  string                     `json:"exportedAt"`
	Collections map[string][]record.Record `json:"collections"`
}

// Keys returns the collection keys in sorted order.
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d.Collections))
	for key := range d.Collections {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type Source interface {
	List(collection string) ([]record.Record, error)
}

// Export reads each key from src into a document.
func Export(src Source, keys []string, now time.Time) (Document, error) {
	doc := Document{
		Version:     FormatVersion,
		ExportedAt:  now.UTC().Format(time.RFC3339),
		Collections: make(map[string][]record.Record, len(keys)),
	}
	for _, key := range keys {
		records, err := src.List(key)
		if err != nil {
			return Document{}, fmt.Errorf("export %s: %w", key, err)
		}
		doc.Collections[key] = records
	}
	return doc, nil
}

func Write(w io.Writer, doc Document) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

const schemaURL = "https://recordsync.local/backup.schema.json"

const schemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["version", "collections"],
  "properties": {
    "version": {"const": 1},
    "exportedAt": {"type": "string"},
    "collections": {
      "type": "object",
      "additionalProperties": {
        "type": "array",
        "items": {
          "type": "object",
          "properties": {
            "id": {"type": "string", "minLength": 1}
          }
        }
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
		if err != nil {
			schemaErr = err
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaErr = err
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
	})
	return schema, schemaErr
}

// Parse reads and validates a backup document. Validation failures wrap
// ErrInvalidDocument.
func Parse(r io.Reader) (Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Document{}, err
	}
	sch, err := compiledSchema()
	if err != nil {
		return Document{}, fmt.Errorf("compile backup schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := sch.Validate(inst); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Collections == nil {
		doc.Collections = map[string][]record.Record{}
	}
	for key, records := range doc.Collections {
		if records == nil {
			doc.Collections[key] = []record.Record{}
		}
	}
	return doc, nil
}
