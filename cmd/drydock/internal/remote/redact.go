// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package remote

import (
	"regexp"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/secrets"
)

// assignmentPattern matches KEY=value pairs whose key looks sensitive.
var assignmentPattern = regexp.MustCompile(`(?i)\b([A-Z0-9_]*(PASSWORD|PASSWD|SECRET|TOKEN|API_KEY|PRIVATE_KEY|CREDENTIAL)[A-Z0-9_]*)=(\S+)`)

// Redactor scrubs remote output before it reaches logs or errors.
//
// Known secret values are replaced by key name; anything shaped like a
// sensitive assignment is masked even when the value is unknown.
type Redactor struct {
	set *secrets.Set
}

// NewRedactor creates a redactor. set may be nil.
func NewRedactor(set *secrets.Set) *Redactor {
	return &Redactor{set: set}
}

// Redact returns s with secrets masked.
func (r *Redactor) Redact(s string) string {
	if r == nil {
		return assignmentPattern.ReplaceAllString(s, "$1=[REDACTED]")
	}
	if r.set != nil {
		s = r.set.Redact(s)
	}
	return assignmentPattern.ReplaceAllString(s, "$1=[REDACTED]")
}
