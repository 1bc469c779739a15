//go:build !tinygo

package mcp23s17

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

// realPin wraps a gpio.PinIO to satisfy the Pin interface.
type realPin struct {
	gpio.PinIO
	stopWatch chan struct{}
}

func (p *realPin) Out(l Level) error {
	if l == High {
		return p.PinIO.Out(gpio.High)
	}
	return p.PinIO.Out(gpio.Low)
}

func (p *realPin) In(pull Pull) error {
	var pPull gpio.Pull
	switch pull {
	case PullFloat:
		pPull = gpio.Float
	case PullDown:
		pPull = gpio.PullDown
	case PullUp:
		pPull = gpio.PullUp
	default:
		pPull = gpio.PullNoChange
	}
	return p.PinIO.In(pPull, gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	var pEdge gpio.Edge
	switch edge {
	case RisingEdge:
		pEdge = gpio.RisingEdge
	case FallingEdge:
		pEdge = gpio.FallingEdge
	case BothEdges:
		pEdge = gpio.BothEdges
	default:
		pEdge = gpio.NoEdge
	}

	// Ensure we are in input mode with the correct edge detection
	if err := p.PinIO.In(gpio.Float, pEdge); err != nil {
		return err
	}

	// The goroutine keeps its own reference to the stop channel so that
	// Unwatch clearing the field cannot race with it.
	stop := make(chan struct{})
	p.stopWatch = stop

	go func() {
		for {
			// Wait for edge with -1 (infinite timeout)
			if p.PinIO.WaitForEdge(-1) {
				select {
				case <-stop:
					return
				default:
					handler()
				}
			} else {
				// WaitForEdge returned false (timeout or error), check stop
				select {
				case <-stop:
					return
				default:
				}
			}
		}
	}()
	return nil
}

func (p *realPin) Unwatch() error {
	if p.stopWatch != nil {
		close(p.stopWatch)
		p.stopWatch = nil
	}
	// Disabling edge detection makes a WaitForEdge parked in the watch
	// goroutine return, letting it observe the closed stop channel.
	return p.PinIO.In(gpio.Float, gpio.NoEdge)
}

// AdapterConfig holds the configuration for the Linux/periph.io driver.
type AdapterConfig struct {
	Config
	// INTPin names the host GPIO pin observing the expander's INT
	// output, as known to periph.io's gpio registry (e.g. "GPIO24").
	// Optional. Without it, interrupt dispatch must be driven
	// externally.
	INTPin string
	// SpiBusPath is the path to the SPI bus (e.g., "/dev/spidev0.0").
	// Defaults to "/dev/spidev0.0" if not provided.
	SpiBusPath string
	// SpiClockHz is the SPI clock frequency in Hz.
	// Defaults to 1000000 (1MHz) if not provided; the MCP23S17 supports
	// at most MaxSPIClock.
	SpiClockHz int
}

// New creates and initializes a new MCP23S17 driver for Linux systems.
// It applies configuration defaults, opens the GPIO and SPI interfaces
// using periph.io, and configures the expander.
// It returns the initialized driver or an error if hardware
// initialization fails.
func New(c AdapterConfig) (*Device, error) {
	// 1. Initialize periph.io host (Required for both SPI and GPIO)
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	// 2. Default SPI Path
	if c.SpiBusPath == "" {
		c.SpiBusPath = "/dev/spidev0.0"
	}

	// 3. Open the SPI Port
	p, err := spireg.Open(c.SpiBusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	// 4. Default Clock
	if c.SpiClockHz == 0 {
		c.SpiClockHz = 1000000
	}
	if c.SpiClockHz > MaxSPIClock {
		globalLogger.Warn("SPI clock above device maximum, clamping to 10 MHz")
		c.SpiClockHz = MaxSPIClock
	}

	// 5. Create the SPI Connection (Mode 0, 8 bits)
	conn, err := p.Connect(physic.Frequency(c.SpiClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	// 6. Setup INT Pin
	intWrapper, err := lookupINTPin(c.INTPin)
	if err != nil {
		p.Close()
		return nil, err
	}

	// 7. Call internal constructor
	hwConfig := HardwareConfig{
		Config: c.Config,
		INT:    intWrapper,
	}
	dev, err := NewWithHardware(hwConfig, conn)
	if err != nil {
		p.Close()
		return nil, err
	}

	// Store the port closer so we can close it later
	dev.port = p
	return dev, nil
}

// lookupINTPin resolves a gpio registry pin name to a Pin. An empty
// name means no INT pin is wired and yields (nil, nil).
func lookupINTPin(name string) (Pin, error) {
	if name == "" {
		return nil, nil
	}
	realInt := gpioreg.ByName(name)
	if realInt == nil {
		return nil, fmt.Errorf("failed to open INT pin %s", name)
	}
	return &realPin{PinIO: realInt}, nil
}
