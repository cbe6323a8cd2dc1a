package archiver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/dialogport/tg-archiver/internal/telegram"
)

// DialogFilter decides which dialogs a sync run touches.
// Loaded from an optional yaml file; an empty filter allows everything.
//
// Example:
//
//	include_types: [Channel]
//	exclude_ids: [1380524958]
type DialogFilter struct {
	IncludeIDs   []int64  `yaml:"include_ids"`
	ExcludeIDs   []int64  `yaml:"exclude_ids"`
	IncludeTypes []string `yaml:"include_types"`
	ExcludeTypes []string `yaml:"exclude_types"`
}

// LoadDialogFilter reads a filter definition from a yaml file.
// An empty path returns nil, meaning no filtering.
func LoadDialogFilter(path string) (*DialogFilter, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dialog filter: %w", err)
	}

	var filter DialogFilter
	if err := yaml.Unmarshal(data, &filter); err != nil {
		return nil, fmt.Errorf("parse dialog filter: %w", err)
	}

	if err := filter.Validate(); err != nil {
		return nil, err
	}

	return &filter, nil
}

// Validate checks type names and contradictory rules.
func (f *DialogFilter) Validate() error {
	known := map[string]bool{
		telegram.DialogTypeChannel: true,
		telegram.DialogTypeChat:    true,
		telegram.DialogTypeUser:    true,
	}

	for _, t := range append(append([]string{}, f.IncludeTypes...), f.ExcludeTypes...) {
		if !known[t] {
			return fmt.Errorf("unknown dialog type %q (want Channel, Chat or User)", t)
		}
	}

	for _, inc := range f.IncludeIDs {
		for _, exc := range f.ExcludeIDs {
			if inc == exc {
				return fmt.Errorf("dialog id %d is both included and excluded", inc)
			}
		}
	}

	return nil
}

// Allowed reports whether the dialog passes the filter.
// Exclusions take precedence; include lists, when present, are exhaustive.
func (f *DialogFilter) Allowed(d telegram.Dialog) bool {
	for _, id := range f.ExcludeIDs {
		if d.ID == id {
			return false
		}
	}
	for _, t := range f.ExcludeTypes {
		if d.Type == t {
			return false
		}
	}

	if len(f.IncludeIDs) > 0 {
		found := false
		for _, id := range f.IncludeIDs {
			if d.ID == id {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(f.IncludeTypes) > 0 {
		found := false
		for _, t := range f.IncludeTypes {
			if d.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	return true
}
