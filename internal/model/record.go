// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one stored entity. Unknown fields are carried verbatim.
type Record map[string]json.RawMessage

// ID returns the "id" field, or "" when absent or not a string.
func (r Record) ID() string {
	return r.String("id")
}

// String returns a string field, or "" when absent or not a string.
func (r Record) String(field string) string {
	raw, ok := r[field]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Set encodes v into field.
func (r Record) Set(field string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", field, err)
	}
	r[field] = raw
	return nil
}

// DecodeList decodes a collection stored either as a JSON array or as an
// object keyed by id. Object values are returned in key order and get their
// map key as id when they carry none.
func DecodeList(raw string) ([]Record, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}
	if trimmed[0] == '[' {
		var list []Record
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil, fmt.Errorf("decode list: %w", err)
		}
		return list, nil
	}
	byID, err := DecodeMap(raw)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(byID))
	for id := range byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	list := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec := byID[id]
		if rec == nil {
			rec = Record{}
		}
		if rec.ID() == "" {
			if err := rec.Set("id", id); err != nil {
				return nil, err
			}
		}
		list = append(list, rec)
	}
	return list, nil
}

// DecodeMap decodes a collection stored as an object keyed by id.
func DecodeMap(raw string) (map[string]Record, error) {
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return map[string]Record{}, nil
	}
	var byID map[string]Record
	if err := json.Unmarshal(trimmed, &byID); err != nil {
		return nil, fmt.Errorf("decode map: %w", err)
	}
	if byID == nil {
		byID = map[string]Record{}
	}
	return byID, nil
}

// Encode marshals v for storage.
func Encode(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
