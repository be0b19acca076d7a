package device

import "strconv"

type valueKind int

const (
	valueNone valueKind = iota
	valueBool
	valueInt
	valueFloat
	valueLabel
)

// Value is what a caller writes to, or reads from, a field. It holds exactly
// one of a bool, an integer, a float or an enum label.
type Value struct {
	kind valueKind
	b    bool
	i    int64
	f    float64
	s    string
}

func Bool(b bool) Value { return Value{kind: valueBool, b: b} }
func Int(n int64) Value { return Value{kind: valueInt, i: n} }
func Float(f float64) Value { return Value{kind: valueFloat, f: f} }
func Label(s string) Value { return Value{kind: valueLabel, s: s} }

func (v Value) Bool() (bool, bool) { return v.b, v.kind == valueBool }
func (v Value) Int() (int64, bool) { return v.i, v.kind == valueInt }
func (v Value) Float() (float64, bool) { return v.f, v.kind == valueFloat }
func (v Value) Label() (string, bool) { return v.s, v.kind == valueLabel }

// IsZero reports whether v was never set.
func (v Value) IsZero() bool { return v.kind == valueNone }

func (v Value) String() string {
	switch v.kind {
	case valueBool:
		return strconv.FormatBool(v.b)
	case valueInt:
		return strconv.FormatInt(v.i, 10)
	case valueFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case valueLabel:
		return v.s
	default:
		return "<none>"
	}
}
