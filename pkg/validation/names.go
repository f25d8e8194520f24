// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks identifiers taken from the command line before
// they reach a container runtime or a remote command line.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern matches service and environment names: lowercase letters,
// digits, dots, underscores and hyphens, starting with a letter or digit.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{0,62}$`)

// runRefPattern matches a run id or an unambiguous prefix of one.
var runRefPattern = regexp.MustCompile(`^[0-9a-f][0-9a-f-]{3,35}$`)

// ValidateName validates one service or environment name.
//
// Example:
//
//	if err := validation.ValidateName("service", arg); err != nil {
//	    return err
//	}
func ValidateName(kind, name string) error {
	if name == "" {
		return fmt.Errorf("%s name cannot be empty", kind)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("invalid %s name %q (lowercase letters, digits, '.', '_' or '-', at most 63 chars)", kind, name)
	}
	return nil
}

// ValidateNames validates every name and lists all invalid ones.
func ValidateNames(kind string, names []string) error {
	var invalid []string
	for _, n := range names {
		if ValidateName(kind, n) != nil {
			invalid = append(invalid, fmt.Sprintf("%q", n))
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid %s names: %s", kind, strings.Join(invalid, ", "))
	}
	return nil
}

// ValidateRunRef validates a run id or a prefix of at least four
// characters.
func ValidateRunRef(ref string) error {
	if !runRefPattern.MatchString(strings.ToLower(ref)) {
		return fmt.Errorf("invalid run reference %q (want a run id or a prefix of at least 4 hex characters)", ref)
	}
	return nil
}
