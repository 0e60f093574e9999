// Package input defines the producer's pluggable data source interface
// (spec §4.4) and its concrete modules. Grounded on inputmodule.h's
// input_module_t function-pointer struct, translated into a Go interface.
package input

import (
	"sujoyan/icesgo/internal/buffer"
)

// Type distinguishes the two payload shapes the producer's timing and
// fan-out logic understand, matching inputmodule.h's input_type.
type Type int

const (
	TypePCM Type = iota
	TypeVorbis
)

// Event mirrors event.h's event_type enum: lifecycle notifications the
// producer delivers to the active module.
type Event int

const (
	EventNextTrack Event = iota
	EventMetadataUpdate
	EventShutdown
)

// Module is the producer's data source. GetData is called in a tight loop
// by the producer (spec §4.5); its three-way return matches
// inputmodule.h's getdata int contract:
//
//   - buf != nil, err == nil:  one payload was produced.
//   - buf == nil, err == nil:  no data ready right now, try again (ret==0).
//   - err != nil:              fatal, the producer shuts down (ret<0).
type Module interface {
	Type() Type
	GetData() (*buffer.RefBuffer, error)
	HandleEvent(ev Event, param any) error
	Close() error
}

// PCMSource is implemented by TypePCM modules to expose the geometry of
// the raw samples GetData returns, the counterpart of inputmodule.h's
// subtype field plus the rate/channels every PCM module carries. Instances
// use it to default their encoder parameters when the configuration
// doesn't override them.
type PCMSource interface {
	// PCMFormat returns the sample rate, channel count, and byte order of
	// the module's 16-bit PCM output.
	PCMFormat() (rate, channels int, bigEndian bool)
}

// Param is one name/value pair passed to a module's constructor, matching
// module_param_t.
type Param struct {
	Name  string
	Value string
}

// Lookup returns the value of name within params, if present.
func Lookup(params []Param, name string) (string, bool) {
	for _, p := range params {
		if p.Name == name {
			return p.Value, true
		}
	}
	return "", false
}
