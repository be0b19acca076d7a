package device

import "strings"

// Option is one named register value of an Enum.
type Option struct {
	Label string
	Code  uint16
}

// Enum is the closed set of values a select field accepts.
type Enum struct {
	Name    string
	Options []Option
}

// Code looks up an option by label, ignoring case.
func (e *Enum) Code(label string) (uint16, bool) {
	for _, o := range e.Options {
		if strings.EqualFold(o.Label, label) {
			return o.Code, true
		}
	}
	return 0, false
}

// Label looks up an option by register value.
func (e *Enum) Label(code uint16) (string, bool) {
	for _, o := range e.Options {
		if o.Code == code {
			return o.Label, true
		}
	}
	return "", false
}

// Labels lists the option labels in declaration order.
func (e *Enum) Labels() []string {
	out := make([]string, len(e.Options))
	for i, o := range e.Options {
		out[i] = o.Label
	}
	return out
}

// EcoMode is the ECO shutdown delay.
var EcoMode = &Enum{Name: "EcoMode", Options: []Option{
	{"HOURS1", 1},
	{"HOURS2", 2},
	{"HOURS3", 3},
	{"HOURS4", 4},
}}

var ChargingMode = &Enum{Name: "ChargingMode", Options: []Option{
	{"STANDARD", 0},
	{"SILENT", 1},
	{"TURBO", 2},
}}

// EL10LedMode is the EL10 torch setting.
var EL10LedMode = &Enum{Name: "EL10LedMode", Options: []Option{
	{"OFF", 0},
	{"COLD", 1},
	{"WARM", 2},
	{"SOS", 3},
}}
