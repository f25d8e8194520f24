// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package compose

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

type overrideFile struct {
	Services map[string]overrideService `yaml:"services"`
}

type overrideService struct {
	Image string `yaml:"image"`
}

// WriteImageOverride writes a compose override file pinning each service to
// the given image reference. An empty pin set removes the file.
func WriteImageOverride(path string, pins map[string]string) error {
	if len(pins) == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove override %s: %w", path, err)
		}
		return nil
	}
	doc := overrideFile{Services: make(map[string]overrideService, len(pins))}
	for svc, image := range pins {
		doc.Services[svc] = overrideService{Image: image}
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode override: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create override directory: %w", err)
	}
	header := []byte("# generated by drydock rollback; delete to return to the tracked images\n")
	return os.WriteFile(path, append(header, data...), 0644)
}

// ReadImageOverride returns the pins in an override file, sorted by service.
func ReadImageOverride(path string) (map[string]string, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var doc overrideFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("failed to parse override %s: %w", path, err)
	}
	pins := make(map[string]string, len(doc.Services))
	names := make([]string, 0, len(doc.Services))
	for svc, o := range doc.Services {
		pins[svc] = o.Image
		names = append(names, svc)
	}
	sort.Strings(names)
	return pins, names, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
