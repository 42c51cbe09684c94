package engine

import (
	"fmt"
	"math/bits"
)

// RuntimeOption is a searchable launch flag of the harness. The parameter
// holds the searched value; Format renders it with fmt.Sprintf.
type RuntimeOption struct {
	Parameter Parameter
	Format    string
}

// Render returns the flag for the parameter's cached value. A boolean switch
// renders Format verbatim when true and nothing when false.
func (o *RuntimeOption) Render() (string, error) {
	switch p := o.Parameter.(type) {
	case *SwitchParameter:
		label := p.Value()
		if b, ok := label.(bool); ok {
			if b {
				return o.Format, nil
			}
			return "", nil
		}
		return fmt.Sprintf(o.Format, label), nil
	case *IntegerParameter, *FloatParameter:
		return fmt.Sprintf(o.Format, p.Value()), nil
	default:
		return "", fmt.Errorf("runtime option %q has unsupported kind %s", o.Parameter.Name(), o.Parameter.Kind())
	}
}

// NewPowerOfTwoOption creates an option choosing among the powers of two in
// [min, max]. The initial value is the smallest power not below min.
func NewPowerOfTwoOption(name string, min, max int, format string) (*RuntimeOption, error) {
	if min <= 0 || min > max {
		return nil, NewDomainError(fmt.Sprintf("invalid power-of-two range [%d, %d]", min, max), nil).WithParameter(name)
	}
	var universe []any
	for v := 1 << (bits.Len(uint(min-1))); v <= max; v <<= 1 {
		universe = append(universe, v)
	}
	if len(universe) == 0 {
		return nil, NewDomainError(fmt.Sprintf("no power of two in [%d, %d]", min, max), nil).WithParameter(name)
	}
	p, err := NewSwitchParameter(name, "java.lang.Integer", universe, 0)
	if err != nil {
		return nil, err
	}
	return &RuntimeOption{Parameter: p, Format: format}, nil
}

// NewFlagOption creates an on/off option that starts off.
func NewFlagOption(name, format string) *RuntimeOption {
	return &RuntimeOption{Parameter: NewBooleanSwitch(name, false), Format: format}
}

// RenderFlags materializes every option from candidate and renders the
// non-empty flags in order.
func RenderFlags(options []*RuntimeOption, candidate Store) ([]string, error) {
	var flags []string
	for _, o := range options {
		if err := o.Parameter.Materialize(candidate); err != nil {
			return nil, err
		}
		flag, err := o.Render()
		if err != nil {
			return nil, err
		}
		if flag != "" {
			flags = append(flags, flag)
		}
	}
	return flags, nil
}
