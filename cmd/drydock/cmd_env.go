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
	"encoding/json"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/drydock/cmd/drydock/internal/deploy"
	"github.com/AleutianAI/drydock/cmd/drydock/internal/remote"
	"github.com/AleutianAI/drydock/pkg/ux"
)

// detectionView is the JSON shape of env detect.
type detectionView struct {
	Environment  string            `json:"environment"`
	Kind         string            `json:"kind"`
	Source       remote.Source     `json:"source"`
	Evidence     string            `json:"evidence,omitempty"`
	Capabilities []string          `json:"capabilities"`
	Endpoints    map[string]string `json:"endpoints"`
}

func newDetectionView(d *remote.Detection) detectionView {
	v := detectionView{
		Environment:  d.Environment.Name,
		Kind:         string(d.Environment.Kind),
		Source:       d.Source,
		Evidence:     d.Evidence,
		Capabilities: d.Capabilities(),
		Endpoints:    d.Endpoints(),
	}
	if v.Capabilities == nil {
		v.Capabilities = []string{}
	}
	if v.Endpoints == nil {
		v.Endpoints = map[string]string{}
	}
	return v
}

func runEnvDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	det, err := remote.NewDetector(a.cfg.Environments).Detect(ctx)
	if err != nil {
		return deploy.NewStageError(deploy.ClassConfigurationError, "environment", err)
	}
	if outputJSON {
		return writeJSON(cmd.OutOrStdout(), newDetectionView(det))
	}
	printDetection(a.printer, det)
	return nil
}

func printDetection(p *ux.Printer, d *remote.Detection) {
	p.Title("Environment")
	detail := string(d.Source)
	if d.Evidence != "" {
		detail += ": " + d.Evidence
	}
	p.Status(ux.IconAnchor, d.Environment.Name+" ("+string(d.Environment.Kind)+")", detail)
	if caps := d.Capabilities(); len(caps) > 0 {
		p.Muted("  capabilities: " + strings.Join(caps, ", "))
	}
	eps := d.Endpoints()
	for _, name := range slices.Sorted(maps.Keys(eps)) {
		p.Muted("  " + name + ": " + eps[name])
	}
}

// writeJSON prints v indented, the form every --json flag uses.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
