// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package schema declares collection/field metadata and
// validates operation payloads against it. Each CollectionSchema is
// compiled once into a JSON Schema document via
// santhosh-tekuri/jsonschema/v5, the same way axonops-schema-registry
// compiles registered subjects, rather than hand-rolling a per-field
// type switch.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vsevex/carry/internal/model"
)

// FieldType enumerates the scalar field types a CollectionSchema can
// declare.
type FieldType string

// The field types the schema understands.
const (
	TypeString    FieldType = "string"
	TypeInt       FieldType = "int"
	TypeFloat     FieldType = "float"
	TypeBool      FieldType = "bool"
	TypeTimestamp FieldType = "timestamp"
	TypeJSON      FieldType = "json"
)

// Field declares one payload field.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Required bool      `json:"required"`
}

// CollectionSchema declares the fields of one collection, in
// declaration order.
type CollectionSchema struct {
	Name   string  `json:"name"`
	Fields []Field `json:"fields"`
}

// Definition is the wire shape of a Schema: a format
// version and a map of collection name to CollectionSchema.
type Definition struct {
	Version     uint32                      `json:"version"`
	Collections map[string]CollectionSchema `json:"collections"`
}

// Schema is a compiled Definition: every collection's JSON Schema
// document has already been built, so validate calls pay no
// compilation cost.
type Schema struct {
	def      Definition
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// Compile builds a Schema from a Definition, compiling each
// collection's field list into a JSON Schema document.
func Compile(def Definition) (*Schema, error) {
	s := &Schema{def: def, compiled: make(map[string]*jsonschema.Schema, len(def.Collections))}
	for name, coll := range def.Collections {
		compiled, err := compileCollection(coll)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling schema for collection %q", name)
		}
		s.compiled[name] = compiled
	}
	return s, nil
}

// Definition returns the Definition this Schema was compiled from.
func (s *Schema) Definition() Definition {
	return s.def
}

// Has reports whether name names a known collection.
func (s *Schema) Has(name string) bool {
	_, ok := s.def.Collections[name]
	return ok
}

// Collection returns the named collection's declared schema.
func (s *Schema) Collection(name string) (CollectionSchema, bool) {
	c, ok := s.def.Collections[name]
	return c, ok
}

// Validate checks payload against the named collection's schema. An
// empty payload fails with MissingRequiredField whenever the
// collection declares a required field, so callers do not call
// Validate for Delete operations.
func (s *Schema) Validate(collection string, payload model.Payload) error {
	coll, ok := s.def.Collections[collection]
	if !ok {
		return model.ErrUnknownCollection()
	}

	// Required-field presence is reported with the exact field name,
	// which a generic jsonschema validation error would bury inside a
	// causes slice, so check it directly first.
	for _, f := range coll.Fields {
		if !f.Required {
			continue
		}
		v, present := payload[f.Name]
		if !present || v == nil {
			return model.ErrMissingRequiredField(f.Name)
		}
	}

	s.mu.RLock()
	compiled := s.compiled[collection]
	s.mu.RUnlock()
	if compiled == nil {
		return nil
	}

	doc, err := toValidatable(payload)
	if err != nil {
		return model.ErrMalformed(err)
	}
	if err := compiled.Validate(doc); err != nil {
		if field, ok := fieldFromValidationError(err); ok {
			return model.ErrTypeMismatch(field)
		}
		return model.ErrTypeMismatch("")
	}
	return nil
}

// toValidatable round-trips payload through encoding/json so that the
// jsonschema library sees the same value kinds (float64, bool,
// string, nil, []any, map[string]any) it would see from any other
// JSON decode, regardless of what concrete numeric types the caller
// populated the map with.
func toValidatable(payload model.Payload) (any, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func fieldFromValidationError(err error) (string, bool) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok || len(verr.Causes) == 0 {
		return "", false
	}
	leaf := verr.Causes[0]
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	if len(leaf.InstanceLocation) == 0 {
		return "", false
	}
	return leaf.InstanceLocation[len(leaf.InstanceLocation)-1], true
}

// compileCollection builds a JSON Schema document for one
// CollectionSchema's fields and compiles it.
func compileCollection(coll CollectionSchema) (*jsonschema.Schema, error) {
	properties := make(map[string]any, len(coll.Fields))
	var required []string
	for _, f := range coll.Fields {
		properties[f.Name] = jsonTypeOf(f.Type)
		if f.Required {
			required = append(required, f.Name)
		}
	}
	sort.Strings(required)

	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"required":             required,
		"additionalProperties": true, // unknown fields are forward-compatible
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("mem://collections/%s.json", coll.Name)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// jsonTypeOf maps a spec field type onto the JSON Schema "type"
// keyword that constrains it/json).
func jsonTypeOf(t FieldType) map[string]any {
	switch t {
	case TypeString:
		return map[string]any{"type": "string"}
	case TypeInt, TypeTimestamp:
		return map[string]any{"type": "integer"}
	case TypeFloat:
		return map[string]any{"type": "number"}
	case TypeBool:
		return map[string]any{"type": "boolean"}
	case TypeJSON:
		return map[string]any{} // any JSON value is acceptable
	default:
		return map[string]any{}
	}
}
