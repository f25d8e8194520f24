// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"fmt"
	"sort"
	"strings"
)

// Change classifies one key when an incoming set replaces a current one.
type Change string

const (
	Added     Change = "added"
	Changed   Change = "changed"
	Removed   Change = "removed"
	Unchanged Change = "unchanged"
)

// KeyChange is one diff line. It never carries a value.
type KeyChange struct {
	Key    string `json:"key"`
	Change Change `json:"change"`
}

// Diff is the key-level comparison of two sets.
type Diff struct {
	Entries []KeyChange `json:"entries"`
}

// Compute classifies every key of current and incoming, sorted by key.
func Compute(current, incoming *Set) Diff {
	seen := map[string]bool{}
	var d Diff
	for _, k := range incoming.keys {
		seen[k] = true
		switch {
		case !current.Has(k):
			d.Entries = append(d.Entries, KeyChange{Key: k, Change: Added})
		case current.sameValue(incoming, k):
			d.Entries = append(d.Entries, KeyChange{Key: k, Change: Unchanged})
		default:
			d.Entries = append(d.Entries, KeyChange{Key: k, Change: Changed})
		}
	}
	for _, k := range current.keys {
		if !seen[k] {
			d.Entries = append(d.Entries, KeyChange{Key: k, Change: Removed})
		}
	}
	sort.Slice(d.Entries, func(i, j int) bool { return d.Entries[i].Key < d.Entries[j].Key })
	return d
}

// Keys returns the keys with the given classification.
func (d Diff) Keys(c Change) []string {
	var out []string
	for _, e := range d.Entries {
		if e.Change == c {
			out = append(out, e.Key)
		}
	}
	return out
}

// Count returns how many keys have the classification.
func (d Diff) Count(c Change) int {
	return len(d.Keys(c))
}

// HasConflicts reports whether applying the diff would overwrite or drop
// existing keys.
func (d Diff) HasConflicts() bool {
	return d.Count(Changed) > 0 || d.Count(Removed) > 0
}

// Empty reports whether nothing would change.
func (d Diff) Empty() bool {
	return d.Count(Added) == 0 && !d.HasConflicts()
}

// Summary is a one-line count.
func (d Diff) Summary() string {
	return fmt.Sprintf("%d added, %d changed, %d removed, %d unchanged",
		d.Count(Added), d.Count(Changed), d.Count(Removed), d.Count(Unchanged))
}

// Lines renders the diff with +, ~, - and = markers.
func (d Diff) Lines() []string {
	marks := map[Change]string{Added: "+", Changed: "~", Removed: "-", Unchanged: "="}
	out := make([]string, 0, len(d.Entries))
	for _, e := range d.Entries {
		out = append(out, marks[e.Change]+" "+e.Key)
	}
	return out
}

func (d Diff) String() string {
	return strings.Join(d.Lines(), "\n")
}
