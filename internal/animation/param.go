// Package animation defines typed animation parameter writes and the target
// that receives them.
package animation

import (
	"fmt"
)

// ValueType selects which setter a parameter write goes through.
// The integer values are part of the wire format.
type ValueType int

const (
	TypeFloat ValueType = iota
	TypeInt
	TypeBool
	TypeTrigger
)

func (v ValueType) String() string {
	switch v {
	case TypeFloat:
		return "float"
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeTrigger:
		return "trigger"
	default:
		return fmt.Sprintf("type(%d)", int(v))
	}
}

// ParseValueType maps a type name ("float", "int", "bool", "trigger") to its ValueType.
func ParseValueType(name string) (ValueType, error) {
	switch name {
	case "float":
		return TypeFloat, nil
	case "int":
		return TypeInt, nil
	case "bool":
		return TypeBool, nil
	case "trigger":
		return TypeTrigger, nil
	default:
		return 0, fmt.Errorf("unknown animation value type %q", name)
	}
}

// Target is an animation controller addressed by parameter name.
type Target interface {
	SetFloat(name string, v float64)
	SetInteger(name string, v int)
	SetBool(name string, v bool)
	SetTrigger(name string)
}

// Param is one typed parameter write. Only the field matching Type is meaningful.
type Param struct {
	Name    string
	Type    ValueType
	Float   float64
	Int     int
	Bool    bool
	Trigger string
}

// Float returns a float parameter write.
func Float(name string, v float64) Param { return Param{Name: name, Type: TypeFloat, Float: v} }

// Int returns an integer parameter write.
func Int(name string, v int) Param { return Param{Name: name, Type: TypeInt, Int: v} }

// Bool returns a boolean parameter write.
func Bool(name string, v bool) Param { return Param{Name: name, Type: TypeBool, Bool: v} }

// Trigger returns a trigger write.
func Trigger(name string) Param { return Param{Name: name, Type: TypeTrigger, Trigger: name} }

// Apply writes p to target through the setter chosen by p.Type.
//
// Postcondition: Returns an error and writes nothing if p.Type is unknown.
func Apply(target Target, p Param) error {
	switch p.Type {
	case TypeFloat:
		target.SetFloat(p.Name, p.Float)
	case TypeInt:
		target.SetInteger(p.Name, p.Int)
	case TypeBool:
		target.SetBool(p.Name, p.Bool)
	case TypeTrigger:
		target.SetTrigger(p.Name)
	default:
		return fmt.Errorf("applying %q: unknown value type %d", p.Name, int(p.Type))
	}
	return nil
}
