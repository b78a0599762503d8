package record

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ValueType identifies the concrete type carried by a Value
type ValueType int

const (
	TypeString ValueType = iota
	TypeNumber
	TypeBool
	TypeTime
	TypeBytes
	TypeReference // id of another record
	TypeList      // list of strings, merged as a set
)

// String returns a human-readable representation of the value type
func (t ValueType) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	case TypeBytes:
		return "bytes"
	case TypeReference:
		return "reference"
	case TypeList:
		return "list"
	default:
		return "unknown"
	}
}

func parseValueType(s string) (ValueType, error) {
	switch s {
	case "string":
		return TypeString, nil
	case "number":
		return TypeNumber, nil
	case "bool":
		return TypeBool, nil
	case "time":
		return TypeTime, nil
	case "bytes":
		return TypeBytes, nil
	case "reference":
		return TypeReference, nil
	case "list":
		return TypeList, nil
	default:
		return 0, fmt.Errorf("record: unknown value type %q", s)
	}
}

// Value is a typed field value. Exactly one of the payload members is
// meaningful, selected by Type.
type Value struct {
	Type  ValueType
	Str   string
	Num   float64
	Bool  bool
	Time  time.Time
	Bytes []byte
	List  []string
}

// Constructors

func String(s string) Value     { return Value{Type: TypeString, Str: s} }
func Number(n float64) Value    { return Value{Type: TypeNumber, Num: n} }
func Bool(b bool) Value         { return Value{Type: TypeBool, Bool: b} }
func Time(t time.Time) Value    { return Value{Type: TypeTime, Time: t} }
func Bytes(b []byte) Value      { return Value{Type: TypeBytes, Bytes: b} }
func Reference(id string) Value { return Value{Type: TypeReference, Str: id} }
func List(items []string) Value { return Value{Type: TypeList, List: items} }

// Clone returns a deep copy of the value. Byte slices and lists are
// copied so that a snapshot cannot be corrupted by later mutation of
// the original.
func (v Value) Clone() Value {
	out := v
	if v.Bytes != nil {
		out.Bytes = make([]byte, len(v.Bytes))
		copy(out.Bytes, v.Bytes)
	}
	if v.List != nil {
		out.List = make([]string, len(v.List))
		copy(out.List, v.List)
	}
	return out
}

// Equal reports whether two values have the same type and payload
func (v Value) Equal(other Value) bool {
	if v.Type != other.Type {
		return false
	}

	switch v.Type {
	case TypeString, TypeReference:
		return v.Str == other.Str
	case TypeNumber:
		return v.Num == other.Num
	case TypeBool:
		return v.Bool == other.Bool
	case TypeTime:
		return v.Time.Equal(other.Time)
	case TypeBytes:
		if len(v.Bytes) != len(other.Bytes) {
			return false
		}
		for i := range v.Bytes {
			if v.Bytes[i] != other.Bytes[i] {
				return false
			}
		}
		return true
	case TypeList:
		if len(v.List) != len(other.List) {
			return false
		}
		for i := range v.List {
			if v.List[i] != other.List[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// UnionList returns the sorted set union of two list values
func UnionList(a, b Value) Value {
	seen := make(map[string]bool, len(a.List)+len(b.List))
	for _, s := range a.List {
		seen[s] = true
	}
	for _, s := range b.List {
		seen[s] = true
	}

	merged := make([]string, 0, len(seen))
	for s := range seen {
		merged = append(merged, s)
	}
	sort.Strings(merged)

	return List(merged)
}

// wireValue is the JSON representation of a Value
type wireValue struct {
	Type   string   `json:"type"`
	String *string  `json:"string,omitempty"`
	Number *float64 `json:"number,omitempty"`
	Bool   *bool    `json:"bool,omitempty"`
	Time   *string  `json:"time,omitempty"`
	Bytes  *string  `json:"bytes,omitempty"`
	List   []string `json:"list,omitempty"`
}

// MarshalJSON implements json.Marshaler
func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.Type.String()}

	switch v.Type {
	case TypeString, TypeReference:
		w.String = &v.Str
	case TypeNumber:
		w.Number = &v.Num
	case TypeBool:
		w.Bool = &v.Bool
	case TypeTime:
		s := v.Time.UTC().Format(time.RFC3339Nano)
		w.Time = &s
	case TypeBytes:
		s := base64.StdEncoding.EncodeToString(v.Bytes)
		w.Bytes = &s
	case TypeList:
		w.List = v.List
		if w.List == nil {
			w.List = []string{}
		}
	default:
		return nil, fmt.Errorf("record: cannot encode value type %d", v.Type)
	}

	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler
func (v *Value) UnmarshalJSON(data []byte) error {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	typ, err := parseValueType(w.Type)
	if err != nil {
		return err
	}

	out := Value{Type: typ}
	switch typ {
	case TypeString, TypeReference:
		if w.String != nil {
			out.Str = *w.String
		}
	case TypeNumber:
		if w.Number != nil {
			out.Num = *w.Number
		}
	case TypeBool:
		if w.Bool != nil {
			out.Bool = *w.Bool
		}
	case TypeTime:
		if w.Time != nil {
			t, err := time.Parse(time.RFC3339Nano, *w.Time)
			if err != nil {
				return fmt.Errorf("record: invalid time value: %w", err)
			}
			out.Time = t
		}
	case TypeBytes:
		if w.Bytes != nil {
			b, err := base64.StdEncoding.DecodeString(*w.Bytes)
			if err != nil {
				return fmt.Errorf("record: invalid bytes value: %w", err)
			}
			out.Bytes = b
		}
	case TypeList:
		out.List = w.List
	}

	*v = out
	return nil
}
