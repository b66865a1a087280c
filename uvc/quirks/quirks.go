// Package quirks loads per-device Extension-Unit control documentation from
// a directory of JSON files, one per GUID, per spec §4.7.
package quirks

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ControlKind is the control.type enum a quirks document declares.
type ControlKind string

const (
	KindBool  ControlKind = "bool"
	KindRange ControlKind = "range"
	KindEnum  ControlKind = "enum"
	KindRaw   ControlKind = "raw"
)

// Control describes one named Extension Unit control selector.
type Control struct {
	// Selector is nil when the document only documents the unit's existence
	// without enumerating a specific selector (schema allows selector: null).
	Selector      *uint8
	Name          string
	Type          ControlKind
	Notes         string
	GetInfoExpect *uint8
	PayloadLen    *uint16
}

// Document is one parsed quirks JSON file.
type Document struct {
	SchemaVersion int
	GUID          uuid.UUID
	Name          string
	Controls      []Control
}

type rawControl struct {
	Selector      *uint8  `json:"selector"`
	Name          string  `json:"name"`
	Type          string  `json:"type"`
	Notes         string  `json:"notes,omitempty"`
	GetInfoExpect *uint8  `json:"get_info_expect,omitempty"`
	PayloadLen    *uint16 `json:"payload_len,omitempty"`
}

type rawDocument struct {
	SchemaVersion int          `json:"schema_version"`
	GUID          string       `json:"guid"`
	Name          string       `json:"name"`
	Controls      []rawControl `json:"controls"`
}

// Registry indexes loaded Documents by Extension Unit GUID.
type Registry struct {
	byGUID map[uuid.UUID]*Document
}

// Lookup returns the document for guid, if one was loaded.
func (r *Registry) Lookup(guid uuid.UUID) (*Document, bool) {
	d, ok := r.byGUID[guid]
	return d, ok
}

// LoadDir loads every *.json file directly under dir as a quirks document.
// A malformed file aborts the load with its path in the error so a bad
// document can't silently disable every other device's quirks.
func LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	reg := &Registry{byGUID: make(map[uuid.UUID]*Document)}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("quirks: reading %s: %w", path, err)
		}
		doc, err := parseDocument(data)
		if err != nil {
			return nil, fmt.Errorf("quirks: parsing %s: %w", path, err)
		}
		if existing, ok := reg.byGUID[doc.GUID]; ok {
			reg.byGUID[doc.GUID] = mergeDocuments(existing, doc)
			continue
		}
		reg.byGUID[doc.GUID] = doc
	}
	return reg, nil
}

func parseDocument(data []byte) (*Document, error) {
	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	guid, err := uuid.Parse(raw.GUID)
	if err != nil {
		return nil, fmt.Errorf("invalid guid %q: %w", raw.GUID, err)
	}

	doc := &Document{
		SchemaVersion: raw.SchemaVersion,
		GUID:          guid,
		Name:          raw.Name,
	}
	for _, rc := range raw.Controls {
		doc.Controls = append(doc.Controls, Control{
			Selector:      rc.Selector,
			Name:          rc.Name,
			Type:          ControlKind(rc.Type),
			Notes:         rc.Notes,
			GetInfoExpect: rc.GetInfoExpect,
			PayloadLen:    rc.PayloadLen,
		})
	}
	return doc, nil
}

// mergeDocuments combines two documents for the same GUID (e.g. a vendor
// drop plus a local override directory). Controls are merged by selector:
// a later document's control with the same selector adds any fields it sets
// but never overwrites a get_info_expect the earlier document already
// recorded, per spec §4.7's merge-without-overwrite policy — quirks files
// document what a device's firmware actually told us once; a newer, looser
// file shouldn't erase a previously confirmed expectation.
func mergeDocuments(base, overlay *Document) *Document {
	merged := &Document{
		SchemaVersion: overlay.SchemaVersion,
		GUID:          base.GUID,
		Name:          base.Name,
	}
	if merged.Name == "" {
		merged.Name = overlay.Name
	}

	bySelector := make(map[uint8]int)
	for i, c := range base.Controls {
		if c.Selector != nil {
			bySelector[*c.Selector] = i
		}
	}
	merged.Controls = append(merged.Controls, base.Controls...)

	for _, oc := range overlay.Controls {
		if oc.Selector == nil {
			merged.Controls = append(merged.Controls, oc)
			continue
		}
		idx, ok := bySelector[*oc.Selector]
		if !ok {
			bySelector[*oc.Selector] = len(merged.Controls)
			merged.Controls = append(merged.Controls, oc)
			continue
		}
		existing := merged.Controls[idx]
		if existing.Name == "" {
			existing.Name = oc.Name
		}
		if existing.Notes == "" {
			existing.Notes = oc.Notes
		}
		if existing.PayloadLen == nil {
			existing.PayloadLen = oc.PayloadLen
		}
		if existing.GetInfoExpect == nil {
			existing.GetInfoExpect = oc.GetInfoExpect
		}
		merged.Controls[idx] = existing
	}

	return merged
}
