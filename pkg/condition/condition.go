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

// Package condition implements the query-condition language: a small
// tree of comparison leaves and AND/OR combinators, parsed from the
// JSON dialect described in SPEC_FULL.md §4.2 and evaluated against a
// document.Document by the collection engine.
package condition

import (
	"encoding/json"
	"fmt"
)

// Op identifies the kind of a condition node.
type Op string

const (
	OpEqual   Op = "$eq"
	OpGreater Op = "$gt"
	OpLess    Op = "$lt"
	OpLike    Op = "$like"
	OpIn      Op = "$in"
	OpAnd     Op = "$and"
	OpOr      Op = "$or"
)

// Condition is a node in the predicate tree. Leaf nodes (Equal, Greater,
// Less, Like, In) set Field and Value/Values; internal nodes (And, Or)
// set Children. The zero Condition matches every document (used for an
// empty query).
type Condition struct {
	Op       Op
	Field    string
	Value    string
	Values   []string
	Children []*Condition
}

// ErrMalformedCondition is returned when the query JSON is not a valid
// condition object: unbalanced brackets, a non-object top level, or an
// operator value of the wrong shape. Unknown operators are NOT an
// error — SPEC_FULL.md §4.2 keeps the original's behavior of silently
// dropping them (they become an always-true leaf).
var ErrMalformedCondition = fmt.Errorf("condition: malformed")

// Parse turns a query-condition JSON object into a Condition tree.
// An empty or nil input parses to a match-everything condition.
func Parse(raw []byte) (*Condition, error) {
	if len(raw) == 0 {
		return &Condition{}, nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
	}
	return parseObject(m)
}

func parseObject(m map[string]json.RawMessage) (*Condition, error) {
	var top []*Condition
	for field, raw := range m {
		cond, err := parseField(field, raw)
		if err != nil {
			return nil, err
		}
		if cond != nil {
			top = append(top, cond)
		}
	}
	switch len(top) {
	case 0:
		return &Condition{}, nil
	case 1:
		return top[0], nil
	default:
		return &Condition{Op: OpAnd, Children: top}, nil
	}
}

func parseField(field string, raw json.RawMessage) (*Condition, error) {
	switch field {
	case string(OpAnd), string(OpOr):
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %s requires an array: %v", ErrMalformedCondition, field, err)
		}
		children := make([]*Condition, 0, len(items))
		for _, item := range items {
			var obj map[string]json.RawMessage
			if err := json.Unmarshal(item, &obj); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformedCondition, err)
			}
			c, err := parseObject(obj)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		op := Op(field)
		return &Condition{Op: op, Children: children}, nil
	}

	// {field: "value"} implicit equality, or {field: {$op: value}}.
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return &Condition{Op: OpEqual, Field: field, Value: asString}, nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return &Condition{Op: OpEqual, Field: field, Value: asNumber.String()}, nil
	}

	var ops map[string]json.RawMessage
	if err := json.Unmarshal(raw, &ops); err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrMalformedCondition, field, err)
	}
	for opName, opRaw := range ops {
		switch Op(opName) {
		case OpEqual, OpGreater, OpLess, OpLike:
			var v string
			if err := unmarshalScalar(opRaw, &v); err != nil {
				return nil, fmt.Errorf("%w: %s %s: %v", ErrMalformedCondition, field, opName, err)
			}
			return &Condition{Op: Op(opName), Field: field, Value: v}, nil
		case OpIn:
			var values []string
			if err := json.Unmarshal(opRaw, &values); err != nil {
				return nil, fmt.Errorf("%w: %s $in requires an array: %v", ErrMalformedCondition, field, err)
			}
			return &Condition{Op: OpIn, Field: field, Values: values}, nil
		default:
			// Unknown operator: silently dropped, matching the
			// original's non-failing behavior (SPEC_FULL.md §4.2).
			continue
		}
	}
	// Every key was an unknown operator: the leaf is vacuously true.
	return &Condition{}, nil
}

func unmarshalScalar(raw json.RawMessage, out *string) error {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		*out = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		*out = n.String()
		return nil
	}
	return fmt.Errorf("value must be a string or number")
}
