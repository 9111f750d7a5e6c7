// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

// Package document defines the Document value type shared by the
// collection engine, the wire codec, and the query-condition evaluator.
package document

import (
	"encoding/json"
	"fmt"
)

// IDField is the reserved field name for a document's assigned identifier.
const IDField = "_id"

// Document is a field-name to scalar-string mapping, plus the reserved
// _id field assigned at insertion. Values keep their original textual
// form; callers that need a typed value re-parse it on demand (see the
// condition package's numeric/date comparisons).
type Document map[string]string

// Clone returns a shallow copy safe to hand to a caller without sharing
// the collection's internal map.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// ID returns the document's assigned identifier, or "" if unset.
func (d Document) ID() string {
	return d[IDField]
}

// FromJSON flattens a JSON object into a Document. Nested objects and
// arrays are re-encoded as their compact JSON text so that every value
// still round-trips through the string-valued map; scalars keep their
// natural string form (numbers without quotes, strings unescaped).
func FromJSON(raw []byte) (Document, error) {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("document: parse: %w", err)
	}
	doc := make(Document, len(m))
	for k, v := range m {
		doc[k] = stringify(v)
	}
	return doc, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(b)
	}
}

// ToJSON renders the document as a JSON object. Values that parse as
// valid JSON scalars, objects, or arrays are embedded as such; every
// other value is emitted as a JSON string. Because values are stored as
// text, a string input whose text is itself such JSON (e.g. "30") is
// emitted unquoted: the string/number distinction is not kept.
func (d Document) ToJSON() ([]byte, error) {
	raw := make(map[string]json.RawMessage, len(d))
	for k, v := range d {
		raw[k] = encodeValue(v)
	}
	return json.Marshal(raw)
}

func encodeValue(v string) json.RawMessage {
	if v == "" {
		return json.RawMessage(`""`)
	}
	var probe any
	if json.Unmarshal([]byte(v), &probe) == nil {
		switch probe.(type) {
		case float64, bool, nil, map[string]any, []any:
			return json.RawMessage(v)
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`""`)
	}
	return json.RawMessage(b)
}
