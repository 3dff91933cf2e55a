// Package threatdb loads the static threat database that maps component names
// to their known STRIDE threats and mitigations.
//
// The document schema is
//
//	{ "<component>": { "<threat>": "<mitigation>", ... }, ... }
//
// Key order in the document is kept: components and, within a component,
// threats are reported in the order they were written.
package threatdb

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/pkg/errors"

	"github.com/menta2k/stride-detect/pkg/types"
)

// SchemaError reports a value in the document that does not match the expected schema
type SchemaError struct {
	Path string
	Msg  string
}

func (e *SchemaError) Error() string {
	if e.Path == "" {
		return "threat database schema: " + e.Msg
	}
	return fmt.Sprintf("threat database schema: %s: %s", e.Path, e.Msg)
}

// Database is an immutable, ordered component -> threats mapping
type Database struct {
	order   []string
	entries map[string][]types.ThreatEntry
}

// Load reads and validates the threat database at path
func Load(path string) (*Database, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open threat database %s", path)
	}
	defer f.Close()

	db, err := Parse(f)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load threat database %s", path)
	}
	return db, nil
}

// Parse decodes a threat database document from r
func Parse(r io.Reader) (*Database, error) {
	dec := json.NewDecoder(r)

	if err := expectDelim(dec, '{', "", "top level must be an object of components"); err != nil {
		return nil, err
	}

	db := &Database{entries: make(map[string][]types.ThreatEntry)}
	for dec.More() {
		component, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		threats, err := parseThreats(dec, component)
		if err != nil {
			return nil, err
		}
		// Duplicate keys: last value wins, first position is kept.
		if _, seen := db.entries[component]; !seen {
			db.order = append(db.order, component)
		}
		db.entries[component] = threats
	}
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "malformed JSON")
	}
	if _, err := dec.Token(); err != io.EOF {
		if err != nil {
			return nil, errors.Wrap(err, "malformed JSON")
		}
		return nil, &SchemaError{Msg: "unexpected data after the top-level object"}
	}
	return db, nil
}

func parseThreats(dec *json.Decoder, component string) ([]types.ThreatEntry, error) {
	if err := expectDelim(dec, '{', component, "component value must be an object of threats"); err != nil {
		return nil, err
	}

	threats := []types.ThreatEntry{}
	index := map[string]int{}
	for dec.More() {
		threat, err := readKey(dec)
		if err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(err, "malformed JSON")
		}
		mitigation, ok := tok.(string)
		if !ok {
			return nil, &SchemaError{Path: component + "." + threat, Msg: "mitigation must be a string"}
		}
		if i, seen := index[threat]; seen {
			threats[i].Mitigation = mitigation
			continue
		}
		index[threat] = len(threats)
		threats = append(threats, types.ThreatEntry{Threat: threat, Mitigation: mitigation})
	}
	// closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, errors.Wrap(err, "malformed JSON")
	}
	return threats, nil
}

func expectDelim(dec *json.Decoder, want json.Delim, path, msg string) error {
	tok, err := dec.Token()
	if err != nil {
		return errors.Wrap(err, "malformed JSON")
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return &SchemaError{Path: path, Msg: msg}
	}
	return nil
}

func readKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", errors.Wrap(err, "malformed JSON")
	}
	key, ok := tok.(string)
	if !ok {
		return "", errors.Errorf("malformed JSON: expected object key, got %v", tok)
	}
	return key, nil
}

// Lookup returns the threats recorded for component. Matching is exact and case-sensitive.
func (db *Database) Lookup(component string) ([]types.ThreatEntry, bool) {
	threats, ok := db.entries[component]
	if !ok {
		return nil, false
	}
	return slices.Clone(threats), true
}

// Components returns the component names in document order
func (db *Database) Components() []string {
	return slices.Clone(db.order)
}

// Len returns the number of components
func (db *Database) Len() int {
	return len(db.order)
}
