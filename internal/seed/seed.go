// Package seed reads the serial_codes.json source document: a JSON object
// keyed by code, each value carrying the audio reference and quota.
package seed

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

const (
	defaultMaxUses    = 3
	defaultUsageCount = 0
)

type Entry struct {
	Code       string
	AudioURL   string
	UsageCount int
	MaxUses    int
}

type record struct {
	AudioURL   string `json:"audio_url"`
	UsageCount *int   `json:"usage_count"`
	MaxUses    *int   `json:"max_uses"`
}

// Parse decodes a seed document. Missing usage_count defaults to 0 and
// missing max_uses to 3. Entries come back sorted by code so sync reports
// are deterministic.
func Parse(data []byte) ([]Entry, error) {
	var doc map[string]record
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse seed document: %w", err)
	}

	entries := make([]Entry, 0, len(doc))
	for code, rec := range doc {
		if code == "" {
			return nil, fmt.Errorf("seed document contains an empty code")
		}
		if rec.AudioURL == "" {
			return nil, fmt.Errorf("seed entry %q: audio_url is required", code)
		}
		e := Entry{
			Code:       code,
			AudioURL:   rec.AudioURL,
			UsageCount: defaultUsageCount,
			MaxUses:    defaultMaxUses,
		}
		if rec.UsageCount != nil {
			e.UsageCount = *rec.UsageCount
		}
		if rec.MaxUses != nil {
			e.MaxUses = *rec.MaxUses
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
	return entries, nil
}

// Load reads and parses the seed file at path.
func Load(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
