// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package secrets synchronizes dotenv secret files between environments.

Values are held in memguard locked buffers from the moment they are parsed
and only leave them when a file is written. Nothing in this package formats
a value into an error, a log record or a diff.
*/
package secrets

import (
	"bytes"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/awnumar/memguard"
)

// redactMinLength is the shortest value Redact will scrub; shorter values
// would match unrelated text.
const redactMinLength = 4

// Set is an ordered collection of secret keys with locked values.
type Set struct {
	keys   []string
	values map[string]*memguard.LockedBuffer
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{values: map[string]*memguard.LockedBuffer{}}
}

// Put stores value under key and wipes value. A repeated key keeps its
// original position.
func (s *Set) Put(key string, value []byte) {
	if old, ok := s.values[key]; ok {
		old.Destroy()
	} else {
		s.keys = append(s.keys, key)
	}
	s.values[key] = memguard.NewBufferFromBytes(value)
}

// Keys returns the keys in file order.
func (s *Set) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Len returns the number of keys.
func (s *Set) Len() int {
	return len(s.keys)
}

// Has reports whether key is present.
func (s *Set) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// sameValue compares the values of key in s and other in constant time.
func (s *Set) sameValue(other *Set, key string) bool {
	a, ok1 := s.values[key]
	b, ok2 := other.values[key]
	if !ok1 || !ok2 {
		return false
	}
	ab, bb := a.Bytes(), b.Bytes()
	if len(ab) != len(bb) {
		return false
	}
	return subtle.ConstantTimeCompare(ab, bb) == 1
}

// Destroy wipes every value.
func (s *Set) Destroy() {
	for _, v := range s.values {
		v.Destroy()
	}
}

// Encode renders the set as a dotenv file inside a locked buffer. The
// caller must Destroy the result.
func (s *Set) Encode() *memguard.LockedBuffer {
	size := 0
	for _, k := range s.keys {
		size += len(k) + 1 + encodedLen(s.values[k].Bytes()) + 1
	}
	out := make([]byte, 0, size)
	for _, k := range s.keys {
		out = append(out, k...)
		out = append(out, '=')
		out = appendValue(out, s.values[k].Bytes())
		out = append(out, '\n')
	}
	return memguard.NewBufferFromBytes(out)
}

// Redact replaces every value of the set that occurs in text with a
// placeholder naming its key.
func (s *Set) Redact(text string) string {
	if len(s.keys) == 0 || text == "" {
		return text
	}
	b := []byte(text)
	for _, k := range s.keys {
		v := s.values[k].Bytes()
		if len(v) < redactMinLength {
			continue
		}
		b = bytes.ReplaceAll(b, v, []byte("[REDACTED:"+k+"]"))
	}
	return string(b)
}

// Parse reads a dotenv document. data is wiped before Parse returns.
//
// # Description
//
// Supports blank lines, # comments, an optional "export " prefix, and
// single or double quoted values. Inside double quotes \n, \" and \\ are
// unescaped. Errors name the line number, never the content.
func Parse(data []byte) (*Set, error) {
	defer memguard.WipeBytes(data)

	set := NewSet()
	for i, line := range bytes.Split(data, []byte{'\n'}) {
		key, value, ok, err := parseLine(line)
		if err != nil {
			set.Destroy()
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		if !ok {
			continue
		}
		set.Put(key, value)
	}
	return set, nil
}

// ParseFile reads and parses a dotenv file.
func ParseFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// ParseKeys returns the keys of a dotenv file without retaining values.
func ParseKeys(path string) ([]string, error) {
	set, err := ParseFile(path)
	if err != nil {
		return nil, err
	}
	defer set.Destroy()
	return set.Keys(), nil
}

var (
	errMalformed     = errors.New("expected KEY=VALUE")
	errInvalidKey    = errors.New("invalid key")
	errUnterminated  = errors.New("unterminated quoted value")
	errTrailingValue = errors.New("unexpected text after quoted value")
)

func parseLine(line []byte) (string, []byte, bool, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] == '#' {
		return "", nil, false, nil
	}
	line = bytes.TrimPrefix(line, []byte("export "))
	eq := bytes.IndexByte(line, '=')
	if eq <= 0 {
		return "", nil, false, errMalformed
	}
	key := strings.TrimSpace(string(line[:eq]))
	if !validKey(key) {
		return "", nil, false, errInvalidKey
	}
	raw := bytes.TrimSpace(line[eq+1:])

	if len(raw) > 0 && (raw[0] == '"' || raw[0] == '\'') {
		end := closingQuote(raw)
		if end < 0 {
			return "", nil, false, errUnterminated
		}
		if rest := bytes.TrimSpace(raw[end+1:]); len(rest) > 0 && rest[0] != '#' {
			return "", nil, false, errTrailingValue
		}
		if raw[0] == '"' {
			return key, unescape(raw[1:end]), true, nil
		}
		return key, append([]byte(nil), raw[1:end]...), true, nil
	}
	if i := bytes.Index(raw, []byte(" #")); i >= 0 {
		raw = bytes.TrimSpace(raw[:i])
	}
	return key, append([]byte(nil), raw...), true, nil
}

// closingQuote returns the index of the quote closing raw[0], or -1.
// Backslash escapes are honoured inside double quotes only.
func closingQuote(raw []byte) int {
	q := raw[0]
	for i := 1; i < len(raw); i++ {
		switch {
		case q == '"' && raw[i] == '\\':
			i++
		case raw[i] == q:
			return i
		}
	}
	return -1
}

func validKey(key string) bool {
	if key == "" {
		return false
	}
	for i, r := range key {
		switch {
		case r == '_', r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9' && i > 0:
		case r == '.' || r == '-':
		default:
			return false
		}
	}
	return true
}

func unescape(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); i++ {
		if b[i] == '\\' && i+1 < len(b) {
			i++
			switch b[i] {
			case 'n':
				out = append(out, '\n')
			default:
				out = append(out, b[i])
			}
			continue
		}
		out = append(out, b[i])
	}
	return out
}

func needsQuotes(v []byte) bool {
	return bytes.ContainsAny(v, " \t#\"'\\\n")
}

func encodedLen(v []byte) int {
	if !needsQuotes(v) {
		return len(v)
	}
	n := 2
	for _, c := range v {
		switch c {
		case '"', '\\', '\n':
			n += 2
		default:
			n++
		}
	}
	return n
}

func appendValue(out, v []byte) []byte {
	if !needsQuotes(v) {
		return append(out, v...)
	}
	out = append(out, '"')
	for _, c := range v {
		switch c {
		case '"', '\\':
			out = append(out, '\\', c)
		case '\n':
			out = append(out, '\\', 'n')
		default:
			out = append(out, c)
		}
	}
	return append(out, '"')
}
