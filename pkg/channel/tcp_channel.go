package channel

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// TCPChannel implements PhysicalChannel as a client of a serial-over-TCP
// bridge (ser2net-class converters in front of a reader). There is no
// automatic reconnection: a lost bridge connection surfaces to the session
// and the operator reconnects explicitly.
type TCPChannel struct {
	conn    net.Conn
	writeMu sync.Mutex
	readBuf int
	closed  atomic.Bool

	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}
}

// TCPChannelConfig configures a TCP channel
type TCPChannelConfig struct {
	Address        string        // "host:port" of the bridge
	DialTimeout    time.Duration // 0 = 10s
	ReadBufferSize int           // 0 = 256
}

// NewTCPChannel dials the bridge.
func NewTCPChannel(config TCPChannelConfig) (*TCPChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.DialTimeout == 0 {
		config.DialTimeout = 10 * time.Second
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 256
	}

	conn, err := net.DialTimeout("tcp", config.Address, config.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address, err)
	}

	tc := &TCPChannel{
		conn:    conn,
		readBuf: config.ReadBufferSize,
	}
	tc.stats.connects.Add(1)
	return tc, nil
}

// Read implements PhysicalChannel.Read. Context cancellation is honored via a
// read deadline so the loop can observe shutdown.
func (tc *TCPChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tc.conn.SetReadDeadline(time.Now().Add(time.Second))

		buf := make([]byte, tc.readBuf)
		n, err := tc.conn.Read(buf)
		if n > 0 {
			tc.stats.bytesReceived.Add(uint64(n))
			return buf[:n], nil
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if tc.closed.Load() {
				return nil, ErrChannelClosed
			}
			tc.stats.readErrors.Add(1)
			return nil, fmt.Errorf("tcp read: %w", err)
		}
	}
}

// Write implements PhysicalChannel.Write
func (tc *TCPChannel) Write(ctx context.Context, data []byte) error {
	if tc.closed.Load() {
		return ErrChannelClosed
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	tc.writeMu.Lock()
	defer tc.writeMu.Unlock()

	tc.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	n, err := tc.conn.Write(data)
	if err != nil {
		tc.stats.writeErrors.Add(1)
		return fmt.Errorf("tcp write: %w", err)
	}

	tc.stats.bytesSent.Add(uint64(n))
	return nil
}

// Close implements PhysicalChannel.Close
func (tc *TCPChannel) Close() error {
	if !tc.closed.CompareAndSwap(false, true) {
		return nil
	}
	tc.stats.disconnects.Add(1)
	return tc.conn.Close()
}

// Statistics implements PhysicalChannel.Statistics
func (tc *TCPChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     tc.stats.bytesSent.Load(),
		BytesReceived: tc.stats.bytesReceived.Load(),
		WriteErrors:   tc.stats.writeErrors.Load(),
		ReadErrors:    tc.stats.readErrors.Load(),
		Connects:      tc.stats.connects.Load(),
		Disconnects:   tc.stats.disconnects.Load(),
	}
}

// DeviceInfo implements DeviceIdentifier.
func (tc *TCPChannel) DeviceInfo() DeviceInfo {
	return DeviceInfo{Port: tc.conn.RemoteAddr().String()}
}
