// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package settings keeps the application settings record consistent under
// concurrent writers. Updates are merged into the stored record, never
// replacing it, so keys written by newer clients survive.
package settings

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/language"
)

// Settings is the application settings record.
type Settings struct {
	CurrentGameID            *string `json:"currentGameId"`
	LastHomeTeamName         string  `json:"lastHomeTeamName"`
	Language                 string  `json:"language"`
	HasSeenAppGuide          bool    `json:"hasSeenAppGuide"`
	UseDemandCorrection      bool    `json:"useDemandCorrection"`
	HasConfiguredSeasonDates bool    `json:"hasConfiguredSeasonDates"`
	ClubSeasonStartDate      string  `json:"clubSeasonStartDate"`
	ClubSeasonEndDate        string  `json:"clubSeasonEndDate"`
	AutoBackupEnabled        bool    `json:"autoBackupEnabled"`
	AutoBackupIntervalHours  int     `json:"autoBackupIntervalHours"`
	LastBackupTime           *string `json:"lastBackupTime"`
}

// Defaults returns the settings of a fresh install.
func Defaults() Settings {
	return Settings{
		Language:                "en",
		ClubSeasonStartDate:     "2000-10-01",
		ClubSeasonEndDate:       "2000-05-01",
		AutoBackupIntervalHours: 24,
	}
}

// Patch is a partial update; nil fields are left unchanged. Setting
// CurrentGameID to "" clears the current game.
type Patch struct {
	CurrentGameID            *string `json:"currentGameId,omitempty"`
	LastHomeTeamName         *string `json:"lastHomeTeamName,omitempty"`
	Language                 *string `json:"language,omitempty"`
	HasSeenAppGuide          *bool   `json:"hasSeenAppGuide,omitempty"`
	UseDemandCorrection      *bool   `json:"useDemandCorrection,omitempty"`
	HasConfiguredSeasonDates *bool   `json:"hasConfiguredSeasonDates,omitempty"`
	ClubSeasonStartDate      *string `json:"clubSeasonStartDate,omitempty"`
	ClubSeasonEndDate        *string `json:"clubSeasonEndDate,omitempty"`
	AutoBackupEnabled        *bool   `json:"autoBackupEnabled,omitempty"`
	AutoBackupIntervalHours  *int    `json:"autoBackupIntervalHours,omitempty"`
	LastBackupTime           *string `json:"lastBackupTime,omitempty"`
}

// ValidationError rejects a malformed update. It is a caller bug and is
// never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid settings update: " + e.Reason
	}
	return fmt.Sprintf("invalid settings update: %s: %s", e.Field, e.Reason)
}

// IsEmpty reports whether p changes nothing.
func (p Patch) IsEmpty() bool {
	return p == Patch{}
}

// Validate checks p and normalises the language tag in place.
func (p *Patch) Validate() error {
	if p.IsEmpty() {
		return &ValidationError{Reason: "empty update"}
	}
	if p.Language != nil {
		tag, err := language.Parse(strings.TrimSpace(*p.Language))
		if err != nil {
			return &ValidationError{Field: "language", Reason: fmt.Sprintf("%q is not a BCP 47 tag", *p.Language)}
		}
		canonical := tag.String()
		p.Language = &canonical
	}
	for field, v := range map[string]*string{
		"clubSeasonStartDate": p.ClubSeasonStartDate,
		"clubSeasonEndDate":   p.ClubSeasonEndDate,
	} {
		if v == nil {
			continue
		}
		if _, err := time.Parse(time.DateOnly, *v); err != nil {
			return &ValidationError{Field: field, Reason: fmt.Sprintf("%q is not a YYYY-MM-DD date", *v)}
		}
	}
	if p.AutoBackupIntervalHours != nil && *p.AutoBackupIntervalHours <= 0 {
		return &ValidationError{Field: "autoBackupIntervalHours", Reason: "must be positive"}
	}
	if p.LastBackupTime != nil {
		if _, err := time.Parse(time.RFC3339Nano, *p.LastBackupTime); err != nil {
			return &ValidationError{Field: "lastBackupTime", Reason: "must be an RFC 3339 timestamp"}
		}
	}
	return nil
}

// fields encodes the keys p sets.
func (p Patch) fields() (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if p.CurrentGameID != nil && *p.CurrentGameID == "" {
		out["currentGameId"] = json.RawMessage("null")
	}
	return out, nil
}

// decode reads a stored record key by key, filling absent keys from
// Defaults. Keys whose value does not fit their field keep the default and
// are returned in bad.
func decode(fields map[string]json.RawMessage) (s Settings, bad []string) {
	s = Defaults()
	for k, v := range fields {
		one, err := json.Marshal(map[string]json.RawMessage{k: v})
		if err != nil {
			bad = append(bad, k)
			continue
		}
		next := s
		if err := json.Unmarshal(one, &next); err != nil {
			bad = append(bad, k)
			continue
		}
		s = next
	}
	sort.Strings(bad)
	return s, bad
}

// encodeFull turns s into a field map for merging.
func encodeFull(s Settings) (map[string]json.RawMessage, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var out map[string]json.RawMessage
	err = json.Unmarshal(raw, &out)
	return out, err
}
