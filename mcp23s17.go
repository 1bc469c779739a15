package mcp23s17

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

var (
	ErrPkg         = errors.New("mcp23s17")
	ErrPinRole     = errors.New("pin role does not support this operation")
	ErrNoInterrupt = errors.New("INT pin not configured")
)

// Config holds the platform-neutral device configuration.
type Config struct {
	// Pins assigns a role to every used GP I/O pin.
	// Pins without an assignment are Unused.
	Pins []PinAssignment
	// InterruptActiveHigh selects the polarity of the INT output.
	// True drives INT high on a pending interrupt, false drives it low.
	InterruptActiveHigh bool
}

type HardwareConfig struct {
	Config
	// INT is the interrupt pin interface observing the expander's INT
	// output. Optional. Without it, WaitForInterrupt and ServeInterrupts
	// are unavailable and external glue must call OnInterrupt and
	// ReArmInterrupt itself.
	INT Pin
}

// Device is a driver for one MCP23S17 SPI port expander.
//
// The callback slots are written during setup and only read from the
// dispatch path afterwards. All register access goes through one mutex,
// so the driver is safe to use from the dispatch goroutine and the main
// program at the same time; every call is a single blocking bus
// transaction.
type Device struct {
	config    HardwareConfig
	conn      SPI
	roles     [16]PinRole
	callbacks [16]func()
	irqChan   chan struct{}
	port      io.Closer
	mu        sync.Mutex
	scratch   [4]byte // opcode + address + register pair
}

// NewWithHardware creates and initializes a new MCP23S17 driver with the
// provided hardware interfaces.
//
// The pin assignment table is validated before the first bus
// transaction. Initialization writes IOCON, the six configuration
// register pairs derived from the pin roles, and finally clears the
// interrupt latch, so an edge occurring during configuration cannot
// leave the INT output stuck.
func NewWithHardware(c HardwareConfig, conn SPI) (*Device, error) {
	roles, err := buildPinTable(c.Pins)
	if err != nil {
		return nil, err
	}

	dev := &Device{
		config: c,
		conn:   conn,
		roles:  roles,
	}

	globalLogger.Info("Initializing MCP23S17 SPI communication...")

	if c.INT != nil {
		if err := c.INT.In(PullFloat); err != nil {
			return nil, fmt.Errorf("failed to configure INT pin: %w", err)
		}
		edge := FallingEdge
		if c.InterruptActiveHigh {
			edge = RisingEdge
		}
		dev.irqChan = make(chan struct{}, 1)
		err := c.INT.Watch(edge, func() {
			select {
			case dev.irqChan <- struct{}{}:
			default:
				// Channel full; the event is already pending.
			}
		})
		if err != nil {
			return nil, fmt.Errorf("failed to watch INT pin: %w", err)
		}
	}

	dev.init()

	globalLogger.Info("MCP23S17 initialized. Interrupt latch cleared.")
	return dev, nil
}

// init writes the full device configuration. Called once with the
// device in its power-on state.
func (d *Device) init() {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Byte mode with the address pointer toggling inside each A/B pair,
	// both INT outputs mirrored onto one line, polarity per config.
	iocon := byte(ioconSEQOP | ioconMIRROR)
	if d.config.InterruptActiveHigh {
		iocon |= ioconINTPOL
	}
	d.writeRegister(regIOCON, iocon)

	img := assembleRegisters(d.roles)
	d.writeRegisterPair(regIODIRA, img.iodir)
	d.writeRegisterPair(regIPOLA, img.ipol)
	d.writeRegisterPair(regGPINTENA, img.gpinten)
	d.writeRegisterPair(regDEFVALA, img.defval)
	d.writeRegisterPair(regINTCONA, img.intcon)
	d.writeRegisterPair(regGPPUA, img.gppu)

	// Reading INTCAP discards anything latched while configuring.
	d.readRegisterPair(regINTCAPA)
}

func (d *Device) String() string {
	var b strings.Builder
	b.WriteString("MCP23S17(")
	first := true
	for pin := B0; pin <= A7; pin++ {
		if d.roles[pin] == Unused {
			continue
		}
		if !first {
			b.WriteString(", ")
		}
		first = false
		fmt.Fprintf(&b, "%s=%s", pin, d.roles[pin])
	}
	b.WriteString(")")
	return b.String()
}

// Role returns the role assigned to pin, or Unused for an out-of-range
// index.
func (d *Device) Role(pin PinIdx) PinRole {
	if pin > A7 {
		return Unused
	}
	return d.roles[pin]
}

// Close releases the resources used by the driver: it stops watching
// the INT pin and closes the SPI port if the driver owns one.
// This method is concurrent safe.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.config.INT != nil {
		d.config.INT.Unwatch()
	}
	if d.port != nil {
		if err := d.port.Close(); err != nil {
			globalLogger.Warn("Failed to close SPI port")
			return err
		}
		globalLogger.Info("SPI bus closed.")
	}
	return nil
}

// --- Register transaction primitives ---

// spiTransfer runs one full-duplex transaction of n scratch bytes.
// One call is one chip-select bracket.
func (d *Device) spiTransfer(n int) []byte {
	buf := d.scratch[:n]
	if err := d.conn.Tx(buf, buf); err != nil {
		globalLogger.Error("SPI transfer error")
		return nil
	}
	return buf
}

func (d *Device) writeRegister(reg, val byte) {
	d.scratch[0] = opcodeWrite
	d.scratch[1] = reg
	d.scratch[2] = val
	d.spiTransfer(3)
}

func (d *Device) readRegister(reg byte) byte {
	d.scratch[0] = opcodeRead
	d.scratch[1] = reg
	d.scratch[2] = 0
	buf := d.spiTransfer(3)
	if buf == nil {
		return 0
	}
	return buf[2]
}

// writeRegisterPair writes a 16-bit value to the A/B register pair
// starting at reg: port A (high byte) first, then port B.
func (d *Device) writeRegisterPair(reg byte, val uint16) {
	d.scratch[0] = opcodeWrite
	d.scratch[1] = reg
	d.scratch[2] = byte(val >> 8)
	d.scratch[3] = byte(val)
	d.spiTransfer(4)
}

// readRegisterPair reads the A/B register pair starting at reg as one
// 16-bit value, port A in the high byte.
func (d *Device) readRegisterPair(reg byte) uint16 {
	d.scratch[0] = opcodeRead
	d.scratch[1] = reg
	d.scratch[2] = 0
	d.scratch[3] = 0
	buf := d.spiTransfer(4)
	if buf == nil {
		return 0
	}
	return uint16(buf[2])<<8 | uint16(buf[3])
}

// readCaptured returns the pin's bit in the interrupt capture register
// of its port. Call with the lock held.
func (d *Device) readCaptured(pin PinIdx) bool {
	reg := byte(regINTCAPB)
	if pin.portA() {
		reg = regINTCAPA
	}
	return d.readRegister(reg)&pin.mask() != 0
}

// --- Interrupt dispatch ---

// SetCallback registers fn to run when the pin's interrupt fires. Only
// Switch and RotaryPhaseA pins own a callback slot.
//
// Register callbacks during setup, before interrupts are served. fn is
// invoked from the dispatch context and must be non-blocking and
// minimal; hand anything slow to another goroutine.
func (d *Device) SetCallback(pin PinIdx, fn func()) error {
	if pin > A7 {
		return fmt.Errorf("%w: pin index %d out of range", ErrPinConfig, uint8(pin))
	}
	if !d.roles[pin].reactive() {
		return fmt.Errorf("%w: %s pin %s has no callback slot", ErrPinRole, d.roles[pin], pin)
	}
	d.mu.Lock()
	d.callbacks[pin] = fn
	d.mu.Unlock()
	return nil
}

// OnInterrupt dispatches one pending interrupt event: it reads the
// interrupt flag register pair in a single transaction and notifies
// every flagged pin. A Switch or RotaryPhaseA pin whose captured level
// is asserted runs its callback; the releasing edge and all other roles
// are ignored.
//
// The flag and capture reads happen inside the driver's critical
// section; the callbacks run after it is released, so a callback may
// call back into the device (read a phase B level, drive an output).
//
// OnInterrupt does not re-arm the interrupt. The caller must invoke
// ReArmInterrupt exactly once per event, after dispatch. Not reentrant.
func (d *Device) OnInterrupt() {
	var fire [16]func()
	n := 0

	d.mu.Lock()
	intf := d.readRegisterPair(regINTFA)
	for pin := B0; pin <= A7; pin++ {
		if intf&pin.bit() == 0 {
			continue
		}
		if cb := d.pending(pin); cb != nil {
			fire[n] = cb
			n++
		}
	}
	d.mu.Unlock()

	for _, cb := range fire[:n] {
		cb()
	}
}

// pending returns the callback a flagged pin should run, or nil. Roles
// that never enable their interrupt are a no-op; their flag bit cannot
// be set on a healthy device, so a set bit is ignored rather than acted
// on. Call with the lock held.
func (d *Device) pending(pin PinIdx) func() {
	if !d.roles[pin].reactive() {
		return nil
	}
	cb := d.callbacks[pin]
	if cb == nil {
		return nil
	}
	// INTCAP holds the level at interrupt time, already inverted by the
	// role's polarity bit: true means pressed / rising phase edge.
	if !d.readCaptured(pin) {
		return nil
	}
	return cb
}

// ReArmInterrupt clears the interrupt latch by reading the capture
// register pair, enabling the next edge to assert INT again.
// This method is concurrent safe.
func (d *Device) ReArmInterrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readRegisterPair(regINTCAPA)
}

// ReadPhaseB returns the level of a RotaryPhaseB pin captured at the
// moment the companion phase A interrupt fired, not the live level.
// Combined with the phase A callback this decodes the direction of
// rotation. This method is concurrent safe.
func (d *Device) ReadPhaseB(pin PinIdx) (bool, error) {
	if pin > A7 {
		return false, fmt.Errorf("%w: pin index %d out of range", ErrPinConfig, uint8(pin))
	}
	if d.roles[pin] != RotaryPhaseB {
		return false, fmt.Errorf("%w: %s pin %s is not a RotaryPhaseB pin", ErrPinRole, d.roles[pin], pin)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readCaptured(pin), nil
}

// WaitForInterrupt blocks until the INT pin asserts or the context is
// cancelled. If the pin is already asserted it returns immediately.
// This method is concurrent safe.
func (d *Device) WaitForInterrupt(ctx context.Context) error {
	if d.config.INT == nil {
		return fmt.Errorf("%w: %w", ErrPkg, ErrNoInterrupt)
	}

	if d.config.INT.Read() == Level(d.config.InterruptActiveHigh) {
		// The edge that asserted the line may already have queued a
		// token; consume it so one event is not dispatched twice.
		select {
		case <-d.irqChan:
		default:
		}
		return nil
	}

	select {
	case <-d.irqChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ServeInterrupts blocks, dispatching interrupt events until the
// context is cancelled. Each event is dispatched with OnInterrupt and
// re-armed with exactly one ReArmInterrupt afterwards. Callbacks run on
// the calling goroutine.
func (d *Device) ServeInterrupts(ctx context.Context) error {
	for {
		if err := d.WaitForInterrupt(ctx); err != nil {
			return err
		}
		d.OnInterrupt()
		d.ReArmInterrupt()
	}
}

// --- GPIO access ---

// Read returns the combined 16-bit GPIO register pair, port A in the
// high byte and port B in the low byte. Always a fresh bus transaction;
// nothing is cached. This method is concurrent safe.
func (d *Device) Read() uint16 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegisterPair(regGPIOA)
}

// ReadPortA returns the 8-bit GPIO register of port A.
// This method is concurrent safe.
func (d *Device) ReadPortA() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(regGPIOA)
}

// ReadPortB returns the 8-bit GPIO register of port B.
// This method is concurrent safe.
func (d *Device) ReadPortB() byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(regGPIOB)
}

// ReadPin returns the live GPIO level of a single pin.
// This method is concurrent safe.
func (d *Device) ReadPin(pin PinIdx) (bool, error) {
	if pin > A7 {
		return false, fmt.Errorf("%w: pin index %d out of range", ErrPinConfig, uint8(pin))
	}
	reg := byte(regGPIOB)
	if pin.portA() {
		reg = regGPIOA
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readRegister(reg)&pin.mask() != 0, nil
}

// WritePin sets the output latch of an Output pin via a
// read-modify-write of its port's OLAT register.
// This method is concurrent safe.
func (d *Device) WritePin(pin PinIdx, level bool) error {
	if pin > A7 {
		return fmt.Errorf("%w: pin index %d out of range", ErrPinConfig, uint8(pin))
	}
	if d.roles[pin] != Output {
		return fmt.Errorf("%w: %s pin %s is not an Output pin", ErrPinRole, d.roles[pin], pin)
	}
	reg := byte(regOLATB)
	if pin.portA() {
		reg = regOLATA
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	olat := d.readRegister(reg)
	if level {
		olat |= pin.mask()
	} else {
		olat &^= pin.mask()
	}
	d.writeRegister(reg, olat)
	return nil
}

// WritePort writes the combined 16-bit output latch pair, port A in the
// high byte and port B in the low byte. Bits of non-output pins are
// stored in the latch but not driven. This method is concurrent safe.
func (d *Device) WritePort(value uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeRegisterPair(regOLATA, value)
}
