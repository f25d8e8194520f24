// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/AleutianAI/drydock/cmd/drydock/config"
)

// enumFlag is a string flag restricted to a closed set of values. Anything
// else is rejected while cobra parses the command line, before RunE.
type enumFlag struct {
	value   string
	allowed []string
	typ     string
}

var _ pflag.Value = (*enumFlag)(nil)

func newEnumFlag(typ, def string, allowed ...string) *enumFlag {
	return &enumFlag{value: def, allowed: allowed, typ: typ}
}

func (f *enumFlag) String() string { return f.value }

func (f *enumFlag) Set(s string) error {
	for _, a := range f.allowed {
		if strings.EqualFold(s, a) {
			f.value = a
			return nil
		}
	}
	return fmt.Errorf("must be one of %s", strings.Join(f.allowed, ", "))
}

func (f *enumFlag) Type() string { return f.typ }

// Usage lists the accepted values for flag help text.
func (f *enumFlag) Usage() string {
	return strings.Join(f.allowed, "|")
}

func stringsOf[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// newPersonalityFlag accepts the ux personality levels. Empty means
// auto-detect.
func newPersonalityFlag() *enumFlag {
	return newEnumFlag("personality", "", "full", "standard", "minimal", "machine")
}

func newLogLevelFlag() *enumFlag {
	return newEnumFlag("level", "", "debug", "info", "warn", "error")
}

func newProbeCategoryFlag() *enumFlag {
	return newEnumFlag("category", "", stringsOf(config.ProbeCategories)...)
}
