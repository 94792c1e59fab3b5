package job

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueKind discriminates a ParamValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindTime
)

var kindNames = [...]string{"null", "string", "int", "float", "bool", "time"}

func (k ValueKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

func parseKind(s string) (ValueKind, bool) {
	for i, n := range kindNames {
		if n == s {
			return ValueKind(i), true
		}
	}
	return 0, false
}

// ParamValue is a typed job parameter. It carries no scheduling meaning.
// The zero value is null.
type ParamValue struct {
	kind ValueKind
	s    string
	i    int64
	f    float64
	b    bool
	t    time.Time
}

// Params maps parameter names to values.
type Params map[string]ParamValue

func Null() ParamValue               { return ParamValue{} }
func String(v string) ParamValue     { return ParamValue{kind: KindString, s: v} }
func Int(v int64) ParamValue         { return ParamValue{kind: KindInt, i: v} }
func Float(v float64) ParamValue     { return ParamValue{kind: KindFloat, f: v} }
func Bool(v bool) ParamValue         { return ParamValue{kind: KindBool, b: v} }
func Time(v time.Time) ParamValue    { return ParamValue{kind: KindTime, t: v} }
func (v ParamValue) Kind() ValueKind { return v.kind }
func (v ParamValue) IsNull() bool    { return v.kind == KindNull }

func (v ParamValue) AsString() (string, bool)  { return v.s, v.kind == KindString }
func (v ParamValue) AsInt() (int64, bool)      { return v.i, v.kind == KindInt }
func (v ParamValue) AsFloat() (float64, bool)  { return v.f, v.kind == KindFloat }
func (v ParamValue) AsBool() (bool, bool)      { return v.b, v.kind == KindBool }
func (v ParamValue) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// String renders the value for logs and command templates.
func (v ParamValue) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return ""
	}
}

func (v ParamValue) Equal(o ParamValue) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindTime:
		return v.t.Equal(o.t)
	default:
		return true
	}
}

type paramJSON struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON emits {"type":"int","value":42}.
func (v ParamValue) MarshalJSON() ([]byte, error) {
	var val any
	switch v.kind {
	case KindString:
		val = v.s
	case KindInt:
		val = v.i
	case KindFloat:
		val = v.f
	case KindBool:
		val = v.b
	case KindTime:
		val = v.t.Format(time.RFC3339Nano)
	default:
		return json.Marshal(paramJSON{Type: KindNull.String()})
	}
	raw, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	return json.Marshal(paramJSON{Type: v.kind.String(), Value: raw})
}

func (v *ParamValue) UnmarshalJSON(b []byte) error {
	var p paramJSON
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	kind, ok := parseKind(p.Type)
	if !ok {
		return fmt.Errorf("param: unknown type %q", p.Type)
	}
	out := ParamValue{kind: kind}
	var err error
	switch kind {
	case KindString:
		err = json.Unmarshal(p.Value, &out.s)
	case KindInt:
		err = json.Unmarshal(p.Value, &out.i)
	case KindFloat:
		err = json.Unmarshal(p.Value, &out.f)
	case KindBool:
		err = json.Unmarshal(p.Value, &out.b)
	case KindTime:
		var s string
		if err = json.Unmarshal(p.Value, &s); err == nil {
			out.t, err = time.Parse(time.RFC3339Nano, s)
		}
	}
	if err != nil {
		return fmt.Errorf("param: decode %s: %w", p.Type, err)
	}
	*v = out
	return nil
}

// FromAny infers a ParamValue from a decoded config value. Integral floats
// become ints; strings that parse as RFC 3339 stay strings.
func FromAny(x any) (ParamValue, error) {
	switch v := x.(type) {
	case nil:
		return Null(), nil
	case ParamValue:
		return v, nil
	case string:
		return String(v), nil
	case bool:
		return Bool(v), nil
	case int:
		return Int(int64(v)), nil
	case int64:
		return Int(v), nil
	case int32:
		return Int(int64(v)), nil
	case uint64:
		if v > math.MaxInt64 {
			return ParamValue{}, fmt.Errorf("param: %d overflows int64", v)
		}
		return Int(int64(v)), nil
	case float32:
		return FromAny(float64(v))
	case float64:
		if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
			return Int(int64(v)), nil
		}
		return Float(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := v.Float64()
		if err != nil {
			return ParamValue{}, fmt.Errorf("param: %w", err)
		}
		return Float(f), nil
	case time.Time:
		return Time(v), nil
	default:
		return ParamValue{}, fmt.Errorf("param: unsupported value type %T", x)
	}
}

// ParamsFromMap converts a decoded map into Params.
func ParamsFromMap(m map[string]any) (Params, error) {
	if len(m) == 0 {
		return nil, nil
	}
	out := make(Params, len(m))
	for k, x := range m {
		v, err := FromAny(x)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Get returns the string form of a parameter, or def when absent.
func (p Params) Get(name, def string) string {
	if v, ok := p[name]; ok && !v.IsNull() {
		return v.String()
	}
	return def
}
