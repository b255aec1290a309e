// Package ast implements the canonical criteria tree Focus compiles into
// backend queries.
//
// This is the canonical shape named in spec.md's Open Questions: untagged
// Child union, lowercase operands, screaming-snake condition types. It
// mirrors the original ast.rs, not the alternative Atomic/Compound design
// kept (unused) in alternative.go.
package ast

import (
	"encoding/json"
	"fmt"
)

// Operand is the boolean connective of an Operation node.
type Operand string

const (
	And Operand = "and"
	Or  Operand = "or"
)

// Infix renders the operand as the text used to join compiled fragments.
func (o Operand) Infix() string {
	if o == Or {
		return " or "
	}
	return " and "
}

// ConditionType enumerates the operators a leaf Condition may use.
type ConditionType string

const (
	Equals      ConditionType = "EQUALS"
	NotEquals   ConditionType = "NOT_EQUALS"
	In          ConditionType = "IN"
	Between     ConditionType = "BETWEEN"
	LowerThan   ConditionType = "LOWER_THAN"
	GreaterThan ConditionType = "GREATER_THAN"
	Contains    ConditionType = "CONTAINS"
)

// NumRange is a Between value over numbers.
type NumRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// DateRange is a Between value over date/datetime strings.
type DateRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// Value is the tagged union a Condition carries. Exactly one field is set;
// Kind tells the compiler which.
type Value struct {
	Kind        ValueKind
	String      string
	StringArray []string
	Boolean     bool
	Number      float64
	NumRange    NumRange
	DateRange   DateRange
}

// ValueKind discriminates which field of Value is populated.
type ValueKind int

const (
	ValueString ValueKind = iota
	ValueStringArray
	ValueBoolean
	ValueNumber
	ValueNumRange
	ValueDateRange
)

// Condition is a leaf (key, operator, value) triple.
type Condition struct {
	Key   string        `json:"key"`
	Type  ConditionType `json:"type"`
	Value Value         `json:"value"`
}

// Operation is a non-leaf node: an operand plus an ordered list of children.
// Empty Children is legal and must compile to a tautology.
type Operation struct {
	Operand  Operand `json:"operand"`
	Children []Child `json:"children"`
}

// Child is either an Operation or a Condition, distinguished structurally
// (an untagged union, matching the Rust source): a Child with "operand" is
// an Operation, one with "key" is a Condition.
type Child struct {
	Operation *Operation
	Condition *Condition
}

// IsOperation reports whether this child is a nested Operation.
func (c Child) IsOperation() bool { return c.Operation != nil }

// Ast is the top-level wrapper: an id plus the root Operation.
type Ast struct {
	ID   string    `json:"id"`
	Root Operation `json:"content"`
}

// --- JSON encoding/decoding for the untagged Child union ---

type conditionShape struct {
	Key   string          `json:"key"`
	Type  ConditionType   `json:"type"`
	Value json.RawMessage `json:"value"`
}

// UnmarshalJSON decides, by structural inspection, whether the raw object is
// an Operation (has "operand") or a Condition (has "key").
func (c *Child) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if _, ok := probe["operand"]; ok {
		var op Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return err
		}
		c.Operation = &op
		return nil
	}
	if _, ok := probe["key"]; ok {
		var cond Condition
		if err := json.Unmarshal(data, &cond); err != nil {
			return err
		}
		c.Condition = &cond
		return nil
	}
	return fmt.Errorf("ast: child has neither \"operand\" nor \"key\": %s", string(data))
}

// MarshalJSON emits whichever alternative is populated.
func (c Child) MarshalJSON() ([]byte, error) {
	if c.Operation != nil {
		return json.Marshal(c.Operation)
	}
	if c.Condition != nil {
		return json.Marshal(c.Condition)
	}
	return nil, fmt.Errorf("ast: child has neither operation nor condition set")
}

// UnmarshalJSON decodes a Condition, dispatching its Value by ConditionType
// and JSON shape.
func (cond *Condition) UnmarshalJSON(data []byte) error {
	var shape conditionShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return err
	}
	cond.Key = shape.Key
	cond.Type = shape.Type

	val, err := decodeValue(shape.Value)
	if err != nil {
		return fmt.Errorf("ast: condition %q: %w", shape.Key, err)
	}
	cond.Value = val
	return nil
}

// MarshalJSON re-encodes a Condition's Value from its discriminated Kind.
func (cond Condition) MarshalJSON() ([]byte, error) {
	valJSON, err := encodeValue(cond.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(conditionShape{Key: cond.Key, Type: cond.Type, Value: valJSON})
}

func decodeValue(raw json.RawMessage) (Value, error) {
	var probe any
	if err := json.Unmarshal(raw, &probe); err != nil {
		return Value{}, err
	}
	switch v := probe.(type) {
	case string:
		return Value{Kind: ValueString, String: v}, nil
	case bool:
		return Value{Kind: ValueBoolean, Boolean: v}, nil
	case float64:
		return Value{Kind: ValueNumber, Number: v}, nil
	case []any:
		arr := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return Value{}, fmt.Errorf("string array value contains a non-string element")
			}
			arr = append(arr, s)
		}
		return Value{Kind: ValueStringArray, StringArray: arr}, nil
	case map[string]any:
		if _, ok := v["min"]; ok {
			switch v["min"].(type) {
			case string:
				var dr DateRange
				if err := json.Unmarshal(raw, &dr); err != nil {
					return Value{}, err
				}
				return Value{Kind: ValueDateRange, DateRange: dr}, nil
			default:
				var nr NumRange
				if err := json.Unmarshal(raw, &nr); err != nil {
					return Value{}, err
				}
				return Value{Kind: ValueNumRange, NumRange: nr}, nil
			}
		}
		return Value{}, fmt.Errorf("unrecognized range value shape")
	default:
		return Value{}, fmt.Errorf("unrecognized condition value shape")
	}
}

func encodeValue(v Value) (json.RawMessage, error) {
	switch v.Kind {
	case ValueString:
		return json.Marshal(v.String)
	case ValueStringArray:
		return json.Marshal(v.StringArray)
	case ValueBoolean:
		return json.Marshal(v.Boolean)
	case ValueNumber:
		return json.Marshal(v.Number)
	case ValueNumRange:
		return json.Marshal(v.NumRange)
	case ValueDateRange:
		return json.Marshal(v.DateRange)
	default:
		return nil, fmt.Errorf("ast: value has unknown kind %d", v.Kind)
	}
}
