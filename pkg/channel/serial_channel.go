package channel

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// Reader line parameters. These are fixed by the reader hardware, not
// user-configurable: 38400 baud, 8 data bits, 1 stop bit, no parity, no flow
// control.
const (
	readerBaudRate = 38400
	readerDataBits = 8
)

// Default USB filter for the reader family's USB-to-serial bridge chipset.
// Other reader hardware needs different values via SerialConfig.
const (
	DefaultVendorID  = "10C4"
	DefaultProductID = "800A"
)

// SerialChannel implements PhysicalChannel for a directly attached reader.
type SerialChannel struct {
	port    serial.Port
	device  DeviceInfo
	writeMu sync.Mutex
	readBuf int
	closed  atomic.Bool

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
	}
}

// SerialConfig configures a serial channel
type SerialConfig struct {
	// Port is the OS port name ("/dev/ttyUSB0", "COM3"). Empty means
	// discover by USB vendor/product filter.
	Port string

	// VendorID / ProductID filter for discovery, hex without prefix.
	// Zero values use the defaults for the known reader family. Discovery
	// first requires both to match; if nothing matches it falls back to the
	// vendor alone, since bridge chips ship under several product IDs.
	VendorID  string
	ProductID string

	// ReadBufferSize is the chunk buffer handed to each read. 0 means 256.
	ReadBufferSize int
}

// NewSerialChannel discovers and opens the reader port. Failure modes are
// distinguishable by the caller: ErrNoSerialSupport when ports cannot be
// enumerated at all, ErrNoDevice when nothing matches the filter, and a
// wrapped open error (permissions, port busy, unplugged between discovery
// and open) otherwise.
func NewSerialChannel(config SerialConfig) (*SerialChannel, error) {
	if config.VendorID == "" {
		config.VendorID = DefaultVendorID
	}
	if config.ProductID == "" {
		config.ProductID = DefaultProductID
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 256
	}

	device, err := resolveDevice(config)
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: readerBaudRate,
		DataBits: readerDataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(device.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device.Port, err)
	}

	return &SerialChannel{
		port:    port,
		device:  device,
		readBuf: config.ReadBufferSize,
	}, nil
}

// resolveDevice maps the config to a concrete port, filtering USB devices by
// vendor/product where the platform reports them.
func resolveDevice(config SerialConfig) (DeviceInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return DeviceInfo{}, fmt.Errorf("%w: %v", ErrNoSerialSupport, err)
	}

	if config.Port != "" {
		// Explicit port: attach USB identity if we can see it.
		for _, p := range ports {
			if p.Name == config.Port {
				return deviceInfoFor(p), nil
			}
		}
		return DeviceInfo{Port: config.Port}, nil
	}

	if len(ports) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w: no serial ports present", ErrNoDevice)
	}

	// Exact vendor+product match first.
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, config.VendorID) &&
			strings.EqualFold(p.PID, config.ProductID) {
			return deviceInfoFor(p), nil
		}
	}

	// Broader vendor-only fallback.
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, config.VendorID) {
			return deviceInfoFor(p), nil
		}
	}

	return DeviceInfo{}, fmt.Errorf("%w: no port with vendor %s (of %d ports)",
		ErrNoDevice, config.VendorID, len(ports))
}

func deviceInfoFor(p *enumerator.PortDetails) DeviceInfo {
	return DeviceInfo{
		Port:      p.Name,
		VendorID:  p.VID,
		ProductID: p.PID,
		Serial:    p.SerialNumber,
	}
}

// Read implements PhysicalChannel.Read. The underlying port read has no
// context support; Close unblocks it.
func (sc *SerialChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		buf := make([]byte, sc.readBuf)
		n, err := sc.port.Read(buf)
		if err != nil {
			if sc.closed.Load() {
				return nil, ErrChannelClosed
			}
			sc.stats.readErrors.Add(1)
			return nil, fmt.Errorf("serial read: %w", err)
		}
		if n == 0 {
			// Port closed at OS level (device unplugged).
			if sc.closed.Load() {
				return nil, ErrChannelClosed
			}
			sc.stats.readErrors.Add(1)
			return nil, fmt.Errorf("serial read: %w", ErrNoDevice)
		}

		sc.stats.bytesReceived.Add(uint64(n))
		return buf[:n], nil
	}
}

// Write implements PhysicalChannel.Write
func (sc *SerialChannel) Write(ctx context.Context, data []byte) error {
	if sc.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()

	n, err := sc.port.Write(data)
	if err != nil {
		sc.stats.writeErrors.Add(1)
		return fmt.Errorf("serial write: %w", err)
	}

	sc.stats.bytesSent.Add(uint64(n))
	return nil
}

// Close implements PhysicalChannel.Close
func (sc *SerialChannel) Close() error {
	if !sc.closed.CompareAndSwap(false, true) {
		return nil
	}
	return sc.port.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (sc *SerialChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     sc.stats.bytesSent.Load(),
		BytesReceived: sc.stats.bytesReceived.Load(),
		WriteErrors:   sc.stats.writeErrors.Load(),
		ReadErrors:    sc.stats.readErrors.Load(),
	}
}

// DeviceInfo implements DeviceIdentifier.
func (sc *SerialChannel) DeviceInfo() DeviceInfo {
	return sc.device
}
