package mcp23s17

// MaxSPIClock is the maximum SPI clock frequency supported by the
// MCP23S17, in Hz.
const MaxSPIClock = 10000000 // 10 MHz

// SPI opcodes, hardware address pins tied low.
const (
	opcodeWrite = 0b01000000
	opcodeRead  = 0b01000001
)

// Register addresses in BANK=0 mode. The port A and port B registers of
// each pair sit at consecutive addresses, so a single transfer with the
// address pointer toggling inside the pair covers both ports.
const (
	regIODIRA   = 0x00 // I/O direction, 1 = input
	regIODIRB   = 0x01
	regIPOLA    = 0x02 // Input polarity, 1 = GPIO reads inverted
	regIPOLB    = 0x03
	regGPINTENA = 0x04 // Interrupt-on-change enable
	regGPINTENB = 0x05
	regDEFVALA  = 0x06 // Comparison value for interrupt-on-change
	regDEFVALB  = 0x07
	regINTCONA  = 0x08 // 1 = compare against DEFVAL, 0 = against previous value
	regINTCONB  = 0x09
	regIOCON    = 0x0A // Device configuration (shared, mirrored at 0x0B)
	regGPPUA    = 0x0C // 100k pull-up enable
	regGPPUB    = 0x0D
	regINTFA    = 0x0E // Interrupt flags (read-only)
	regINTFB    = 0x0F
	regINTCAPA  = 0x10 // Port state captured at interrupt time; reading clears the latch
	regINTCAPB  = 0x11
	regGPIOA    = 0x12 // Live port state
	regGPIOB    = 0x13
	regOLATA    = 0x14 // Output latches
	regOLATB    = 0x15
)

// IOCON register bits.
const (
	ioconINTPOL = 1 << 1 // INT output active-high
	ioconODR    = 1 << 2 // INT output open-drain (overrides INTPOL)
	ioconHAEN   = 1 << 3 // Hardware address enable
	ioconDISSLW = 1 << 4 // Slew rate control disable
	ioconSEQOP  = 1 << 5 // Byte mode; address pointer toggles within the A/B pair
	ioconMIRROR = 1 << 6 // INTA/INTB outputs internally connected
	ioconBANK   = 1 << 7 // Registers grouped per bank instead of paired
)
