package iwldvm

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

func toGPIOPull(pull Pull) gpio.Pull {
	switch pull {
	case PullFloat:
		return gpio.Float
	case PullDown:
		return gpio.PullDown
	case PullUp:
		return gpio.PullUp
	default:
		return gpio.PullNoChange
	}
}

func toGPIOEdge(edge Edge) gpio.Edge {
	switch edge {
	case RisingEdge:
		return gpio.RisingEdge
	case FallingEdge:
		return gpio.FallingEdge
	case BothEdges:
		return gpio.BothEdges
	default:
		return gpio.NoEdge
	}
}

func (p *realPin) In(pull Pull) error {
	return p.PinIO.In(toGPIOPull(pull), gpio.NoEdge)
}

func (p *realPin) Read() Level {
	if p.PinIO.Read() == gpio.High {
		return High
	}
	return Low
}

func (p *realPin) Watch(edge Edge, handler func()) error {
	// The interrupt line is open drain, active low
	if err := p.PinIO.In(gpio.PullUp, toGPIOEdge(edge)); err != nil {
		return err
	}

	stop := make(chan struct{})
	p.stopWatch = stop

	go func() {
		for {
			// Wait for edge with -1 (infinite timeout)
			fired := p.PinIO.WaitForEdge(-1)
			select {
			case <-stop:
				return
			default:
			}
			if fired {
				handler()
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
	// Disable edge detection, which also releases WaitForEdge
	return p.PinIO.In(gpio.PullUp, gpio.NoEdge)
}

// New opens the SPI bridge to the card on a Linux host and returns a device
// wired to it. Scanner, Frames and Hooks are taken from hw; its transport
// fields are replaced by the bridge.
func New(c Config, hw HardwareConfig) (*Device, error) {
	// 1. Initialize periph.io host (Required for both SPI and GPIO)
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph.io host: %w", err)
	}

	if c.SPIBusPath == "" {
		c.SPIBusPath = "/dev/spidev0.0"
	}
	if c.SPIClockHz == 0 {
		c.SPIClockHz = 8000000
	}

	// 2. Open the SPI Port
	p, err := spireg.Open(c.SPIBusPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SPI port: %w", err)
	}

	// 3. Create the SPI Connection (Mode 0, 8 bits)
	conn, err := p.Connect(physic.Frequency(c.SPIClockHz)*physic.Hertz, spi.Mode0, 8)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to create SPI connection: %w", err)
	}

	// 4. Setup IRQ Pin
	var irqWrapper Pin
	if c.IRQPin != 0 {
		irqName := fmt.Sprintf("GPIO%d", c.IRQPin)
		realIrq := gpioreg.ByName(irqName)
		if realIrq == nil {
			p.Close()
			return nil, fmt.Errorf("failed to open IRQ pin %s", irqName)
		}
		irqWrapper = &realPin{PinIO: realIrq}
	}

	if c.LogFile != "" {
		SetLogger(NewFileLogger(c.LogFile, 0, 0))
	}

	// 5. Call internal constructor
	bridge := newSPIBridge(conn)
	hw.DeviceConfig = c.DeviceConfig
	hw.Bus = bridge
	hw.Source = bridge
	hw.Commands = bridge
	hw.IRQ = irqWrapper
	dev, err := NewWithHardware(hw)
	if err != nil {
		p.Close()
		return nil, err
	}

	// Store the port closer so we can close it later
	dev.closer = p
	globalLogger.Info(fmt.Sprintf("SPI bridge on %s at %s", c.SPIBusPath, physic.Frequency(c.SPIClockHz)*physic.Hertz))
	return dev, nil
}
