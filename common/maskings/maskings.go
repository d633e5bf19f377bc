// Copyright (C) ArangoDB GmbH, Cologne, Germany. 2014-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package maskings evaluates data-masking definitions during a dump. A
// maskings file decides per collection whether structure and data are dumped
// at all, and which attributes are obfuscated on the way out.
package maskings

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Collection dump modes.
const (
	TypeFull      = "full"      // dump structure and unmasked data
	TypeMasked    = "masked"    // dump structure and masked data
	TypeStructure = "structure" // dump structure only
	TypeExclude   = "exclude"   // dump nothing
)

// Attribute masking functions.
const (
	maskXifyFront = "xifyFront"
	maskEmail     = "email"
)

// Rule obfuscates one attribute path.
type Rule struct {
	Path           string `json:"path"`
	Type           string `json:"type"`
	UnmaskedLength int    `json:"unmaskedLength"`
}

type collectionDef struct {
	Type     string `json:"type"`
	Maskings []Rule `json:"maskings"`
}

type definitionFile struct {
	Default     *collectionDef           `json:"default"`
	Collections map[string]collectionDef `json:"collections"`
}

// Maskings holds the parsed masking definitions for a dump run.
type Maskings struct {
	def         *collectionDef
	collections map[string]collectionDef
}

// FromFile reads and validates a maskings definition file.
func FromFile(path string) (*Maskings, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read maskings file: %v", err)
	}
	var parsed definitionFile
	if err := json.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("cannot parse maskings file: %v", err)
	}

	m := &Maskings{def: parsed.Default, collections: parsed.Collections}
	for name, def := range parsed.Collections {
		switch def.Type {
		case TypeFull, TypeMasked, TypeStructure, TypeExclude:
		default:
			return nil, fmt.Errorf("unknown masking type '%v' for collection '%v'", def.Type, name)
		}
		for _, rule := range def.Maskings {
			switch rule.Type {
			case maskXifyFront, maskEmail:
			default:
				return nil, fmt.Errorf("unknown masking function '%v' for collection '%v'", rule.Type, name)
			}
			if rule.Path == "" {
				return nil, fmt.Errorf("masking rule without path for collection '%v'", name)
			}
		}
	}
	return m, nil
}

func (m *Maskings) lookup(collection string) *collectionDef {
	if def, found := m.collections[collection]; found {
		return &def
	}
	return m.def
}

// ShouldDumpStructure reports whether the collection's definition file is
// written at all.
func (m *Maskings) ShouldDumpStructure(collection string) bool {
	def := m.lookup(collection)
	if def == nil {
		return true
	}
	return def.Type != TypeExclude
}

// ShouldDumpData reports whether the collection's documents are dumped.
func (m *Maskings) ShouldDumpData(collection string) bool {
	def := m.lookup(collection)
	if def == nil {
		return true
	}
	return def.Type == TypeFull || def.Type == TypeMasked
}

// Mask applies the collection's masking rules to one document and returns
// the document to be written. System attributes (leading underscore on the
// top level) are never masked.
func (m *Maskings) Mask(collection string, doc map[string]interface{}) map[string]interface{} {
	def := m.lookup(collection)
	if def == nil || def.Type != TypeMasked || len(def.Maskings) == 0 {
		return doc
	}
	for _, rule := range def.Maskings {
		applyRule(doc, strings.Split(rule.Path, "."), rule)
	}
	return doc
}

func applyRule(doc map[string]interface{}, path []string, rule Rule) {
	if len(path) == 0 {
		return
	}
	key := path[0]
	if strings.HasPrefix(key, "_") && len(path) == 1 {
		// never touch system attributes
		return
	}
	value, found := doc[key]
	if !found {
		return
	}
	if len(path) > 1 {
		if sub, ok := value.(map[string]interface{}); ok {
			applyRule(sub, path[1:], rule)
		}
		return
	}
	if s, ok := value.(string); ok {
		doc[key] = maskString(s, rule)
	}
}

func maskString(s string, rule Rule) string {
	switch rule.Type {
	case maskEmail:
		return "xxxx@xxxx.xx"
	case maskXifyFront:
		runes := []rune(s)
		keep := rule.UnmaskedLength
		if keep < 0 {
			keep = 0
		}
		for i := 0; i < len(runes)-keep; i++ {
			runes[i] = 'x'
		}
		return string(runes)
	}
	return s
}
