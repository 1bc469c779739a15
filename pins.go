package mcp23s17

import (
	"errors"
	"fmt"
)

// PinIdx identifies one of the 16 GP I/O pins. Indices 0-7 are port B
// pins B0..B7, indices 8-15 are port A pins A0..A7; bit 3 selects the
// port. A register pair read as a 16-bit value therefore carries port A
// in the high byte and port B in the low byte.
type PinIdx uint8

const (
	B0 PinIdx = iota
	B1
	B2
	B3
	B4
	B5
	B6
	B7
	A0
	A1
	A2
	A3
	A4
	A5
	A6
	A7
)

func (p PinIdx) String() string {
	if p > A7 {
		return fmt.Sprintf("pin(%d)", uint8(p))
	}
	port := byte('B')
	if p.portA() {
		port = 'A'
	}
	return string([]byte{port, '0' + byte(p&0b111)})
}

// portA reports whether the pin belongs to port A.
func (p PinIdx) portA() bool {
	return p&0b1000 != 0
}

// mask is the pin's bit position within its own 8-bit port register.
func (p PinIdx) mask() byte {
	return 1 << (p & 0b111)
}

// bit is the pin's bit position within a combined 16-bit register pair.
func (p PinIdx) bit() uint16 {
	return 1 << p
}

// PinRole is the logical behavior assigned to a GP I/O pin. Each role
// implies a fixed contribution to the six configuration registers.
type PinRole uint8

const (
	// Unused pin. Contributes nothing to any register.
	Unused PinRole = iota
	// Output is a generic output pin, driven via WritePin.
	Output
	// Input is a generic input pin.
	Input
	// InputPullUp is a generic input pin with the internal pull-up enabled.
	InputPullUp
	// Switch is a push-button connected to ground. Its callback runs on
	// the pressing edge.
	Switch
	// RotaryPhaseA is the interrupt-generating phase of a rotary
	// encoder. Its callback runs on the rising edge of the phase.
	RotaryPhaseA
	// RotaryPhaseB is the direction phase of a rotary encoder. It never
	// interrupts; ReadPhaseB returns its level captured at the moment
	// the companion phase A fired.
	RotaryPhaseB
)

func (r PinRole) String() string {
	switch r {
	case Unused:
		return "Unused"
	case Output:
		return "Output"
	case Input:
		return "Input"
	case InputPullUp:
		return "InputPullUp"
	case Switch:
		return "Switch"
	case RotaryPhaseA:
		return "RotaryPhaseA"
	case RotaryPhaseB:
		return "RotaryPhaseB"
	default:
		return "unknown"
	}
}

// roleBits is the per-register contribution of a role: direction,
// polarity inversion, interrupt enable, comparison default, interrupt
// mode and pull-up.
type roleBits struct {
	iodir   bool
	ipol    bool
	gpinten bool
	defval  bool
	intcon  bool
	gppu    bool
}

// Switches and encoder phases are connected to ground, so their
// polarity is inverted and the pull-up enabled: a pressed switch or an
// asserted phase reads as true.
var roleRegisterBits = [...]roleBits{
	Unused:       {},
	Output:       {},
	Input:        {iodir: true},
	InputPullUp:  {iodir: true, gppu: true},
	Switch:       {iodir: true, ipol: true, gpinten: true, gppu: true},
	RotaryPhaseA: {iodir: true, ipol: true, gpinten: true, gppu: true},
	RotaryPhaseB: {iodir: true, ipol: true, gppu: true},
}

func (r PinRole) bits() roleBits {
	return roleRegisterBits[r]
}

// reactive reports whether the role owns a callback slot.
func (r PinRole) reactive() bool {
	return r == Switch || r == RotaryPhaseA
}

// PinAssignment binds one pin index to a role. Pins without an
// assignment are Unused.
type PinAssignment struct {
	Pin  PinIdx
	Role PinRole
}

// ErrPinConfig reports an invalid pin assignment table.
var ErrPinConfig = errors.New("invalid pin configuration")

// buildPinTable validates the assignments and expands them into a full
// 16-entry role table. An out-of-range index, an unknown role or a pin
// assigned more than once is an error; the device must not be touched
// with an ambiguous pin map.
func buildPinTable(assignments []PinAssignment) ([16]PinRole, error) {
	var roles [16]PinRole
	var seen [16]bool
	for _, a := range assignments {
		if a.Pin > A7 {
			return roles, fmt.Errorf("%w: pin index %d out of range", ErrPinConfig, uint8(a.Pin))
		}
		if a.Role > RotaryPhaseB {
			return roles, fmt.Errorf("%w: unknown role %d for pin %s", ErrPinConfig, uint8(a.Role), a.Pin)
		}
		if seen[a.Pin] {
			return roles, fmt.Errorf("%w: pin %s assigned more than once", ErrPinConfig, a.Pin)
		}
		seen[a.Pin] = true
		roles[a.Pin] = a.Role
	}
	return roles, nil
}

// registerImage holds the six assembled 16-bit configuration registers,
// port A in the high byte and port B in the low byte.
type registerImage struct {
	iodir   uint16
	ipol    uint16
	gpinten uint16
	defval  uint16
	intcon  uint16
	gppu    uint16
}

// assembleRegisters derives the configuration register pairs from the
// role table by OR-ing every pin's role contribution into its bit
// position. Pure; no bus traffic.
func assembleRegisters(roles [16]PinRole) registerImage {
	var img registerImage
	for pin := B0; pin <= A7; pin++ {
		b := roles[pin].bits()
		m := pin.bit()
		if b.iodir {
			img.iodir |= m
		}
		if b.ipol {
			img.ipol |= m
		}
		if b.gpinten {
			img.gpinten |= m
		}
		if b.defval {
			img.defval |= m
		}
		if b.intcon {
			img.intcon |= m
		}
		if b.gppu {
			img.gppu |= m
		}
	}
	return img
}
