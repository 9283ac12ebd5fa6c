package types

import (
	"encoding/json"
	"fmt"
	"sort"
)

// PropertyKind is the closed set of value shapes a property may hold.
type PropertyKind string

// Property kinds.
const (
	KindString     PropertyKind = "string"
	KindNumber     PropertyKind = "number"
	KindBool       PropertyKind = "bool"
	KindStringList PropertyKind = "string_list"
)

// PropertyValue is a tagged value. Exactly one payload field is meaningful,
// selected by Kind.
type PropertyValue struct {
	Kind PropertyKind
	Str  string
	Num  float64
	Bool bool
	List []string
}

// StringValue builds a string property.
func StringValue(s string) PropertyValue { return PropertyValue{Kind: KindString, Str: s} }

// NumberValue builds a numeric property.
func NumberValue(n float64) PropertyValue { return PropertyValue{Kind: KindNumber, Num: n} }

// BoolValue builds a boolean property.
func BoolValue(b bool) PropertyValue { return PropertyValue{Kind: KindBool, Bool: b} }

// ListValue builds a string-list property.
func ListValue(l []string) PropertyValue {
	return PropertyValue{Kind: KindStringList, List: append([]string(nil), l...)}
}

// Interface returns the payload as a plain Go value.
func (v PropertyValue) Interface() interface{} {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindNumber:
		return v.Num
	case KindBool:
		return v.Bool
	case KindStringList:
		return v.List
	}
	return nil
}

type propertyWire struct {
	Kind  PropertyKind    `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v PropertyValue) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, err
	}
	return json.Marshal(propertyWire{Kind: v.Kind, Value: raw})
}

// UnmarshalJSON decodes the tagged form produced by MarshalJSON.
func (v *PropertyValue) UnmarshalJSON(data []byte) error {
	var w propertyWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := PropertyValue{Kind: w.Kind}
	var err error
	switch w.Kind {
	case KindString:
		err = json.Unmarshal(w.Value, &out.Str)
	case KindNumber:
		err = json.Unmarshal(w.Value, &out.Num)
	case KindBool:
		err = json.Unmarshal(w.Value, &out.Bool)
	case KindStringList:
		err = json.Unmarshal(w.Value, &out.List)
	default:
		return fmt.Errorf("unknown property kind %q", w.Kind)
	}
	if err != nil {
		return fmt.Errorf("property of kind %s: %w", w.Kind, err)
	}
	*v = out
	return nil
}

// Properties is an open key set over a closed set of value kinds.
type Properties map[string]PropertyValue

// PropertiesFromMap converts loosely typed input (for example decoded JSON or
// YAML) into Properties. Values that do not fit a known kind are skipped and
// their keys returned so callers can report them.
func PropertiesFromMap(m map[string]interface{}) (Properties, []string) {
	if len(m) == 0 {
		return nil, nil
	}
	props := make(Properties, len(m))
	var skipped []string
	for k, raw := range m {
		switch val := raw.(type) {
		case string:
			props[k] = StringValue(val)
		case bool:
			props[k] = BoolValue(val)
		case float64:
			props[k] = NumberValue(val)
		case float32:
			props[k] = NumberValue(float64(val))
		case int:
			props[k] = NumberValue(float64(val))
		case int64:
			props[k] = NumberValue(float64(val))
		case []string:
			props[k] = ListValue(val)
		case []interface{}:
			list := make([]string, 0, len(val))
			ok := true
			for _, item := range val {
				s, isStr := item.(string)
				if !isStr {
					ok = false
					break
				}
				list = append(list, s)
			}
			if !ok {
				skipped = append(skipped, k)
				continue
			}
			props[k] = ListValue(list)
		default:
			skipped = append(skipped, k)
		}
	}
	sort.Strings(skipped)
	return props, skipped
}

// ToMap returns the properties as plain Go values.
func (p Properties) ToMap() map[string]interface{} {
	if len(p) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v.Interface()
	}
	return out
}

// Merge returns a copy of p with every key of other applied on top.
func (p Properties) Merge(other Properties) Properties {
	if len(p) == 0 && len(other) == 0 {
		return nil
	}
	out := make(Properties, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// String returns the string payload for key, if present with that kind.
func (p Properties) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v.Kind != KindString {
		return "", false
	}
	return v.Str, true
}
