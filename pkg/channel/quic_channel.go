package channel

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
)

// QUICChannel implements PhysicalChannel over a QUIC stream, for venue setups
// where the reader hangs off a remote bridge host and the serial bytes are
// tunneled across the site network. One bidirectional stream carries the raw
// byte stream in both directions.
type QUICChannel struct {
	// Connection
	connection *quic.Conn
	stream     *quic.Stream
	streamLock sync.RWMutex

	// Configuration
	address   string
	isServer  bool
	listener  *quic.Listener
	tlsConfig *tls.Config
	readBuf   int

	// Statistics
	stats struct {
		bytesSent     atomic.Uint64
		bytesReceived atomic.Uint64
		writeErrors   atomic.Uint64
		readErrors    atomic.Uint64
		connects      atomic.Uint64
		disconnects   atomic.Uint64
	}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// QUICChannelConfig configures a QUIC channel
type QUICChannelConfig struct {
	Address        string      // "host:port" format
	IsServer       bool        // true = accept the bridge, false = dial it
	TLSConfig      *tls.Config // Optional; nil generates a self-signed cert
	ReadBufferSize int         // 0 = 256
}

// NewQUICChannel creates a new QUIC channel
func NewQUICChannel(config QUICChannelConfig) (*QUICChannel, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("address is required")
	}
	if config.ReadBufferSize == 0 {
		config.ReadBufferSize = 256
	}

	tlsConfig := config.TLSConfig
	if tlsConfig == nil {
		var err error
		tlsConfig, err = generateTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to generate TLS config: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	qc := &QUICChannel{
		address:   config.Address,
		isServer:  config.IsServer,
		tlsConfig: tlsConfig,
		readBuf:   config.ReadBufferSize,
		ctx:       ctx,
		cancel:    cancel,
	}

	if config.IsServer {
		if err := qc.startServer(); err != nil {
			cancel()
			return nil, err
		}
	} else {
		if err := qc.connect(); err != nil {
			cancel()
			return nil, err
		}
	}

	return qc, nil
}

// generateTLSConfig generates a self-signed certificate for QUIC
func generateTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}

	return &tls.Config{
		Certificates:       []tls.Certificate{tlsCert},
		NextProtos:         []string{"punchcard-bridge"},
		InsecureSkipVerify: true, // For self-signed certs
	}, nil
}

// startServer listens for the bridge to dial in
func (qc *QUICChannel) startServer() error {
	listener, err := quic.ListenAddr(qc.address, qc.tlsConfig, nil)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", qc.address, err)
	}

	qc.listener = listener

	qc.wg.Add(1)
	go qc.acceptLoop()

	return nil
}

// acceptLoop accepts bridge connections, keeping the most recent one
func (qc *QUICChannel) acceptLoop() {
	defer qc.wg.Done()

	for {
		conn, err := qc.listener.Accept(qc.ctx)
		if err != nil {
			return
		}

		stream, err := conn.AcceptStream(qc.ctx)
		if err != nil {
			conn.CloseWithError(0, "no stream")
			continue
		}

		qc.streamLock.Lock()
		if qc.stream != nil {
			qc.stream.Close()
			qc.stats.disconnects.Add(1)
		}
		if qc.connection != nil {
			qc.connection.CloseWithError(0, "replaced")
		}
		qc.connection = conn
		qc.stream = stream
		qc.stats.connects.Add(1)
		qc.streamLock.Unlock()
	}
}

// connect dials the bridge and opens the stream
func (qc *QUICChannel) connect() error {
	ctx, cancel := context.WithTimeout(qc.ctx, 10*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, qc.address, qc.tlsConfig, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", qc.address, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "no stream")
		return fmt.Errorf("failed to open stream: %w", err)
	}

	qc.streamLock.Lock()
	qc.connection = conn
	qc.stream = stream
	qc.stats.connects.Add(1)
	qc.streamLock.Unlock()

	return nil
}

// currentStream waits for a stream to exist (server mode may not have one yet)
func (qc *QUICChannel) currentStream(ctx context.Context) (*quic.Stream, error) {
	for {
		qc.streamLock.RLock()
		stream := qc.stream
		qc.streamLock.RUnlock()

		if stream != nil {
			return stream, nil
		}

		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-qc.ctx.Done():
			return nil, ErrChannelClosed
		}
	}
}

// Read implements PhysicalChannel.Read
func (qc *QUICChannel) Read(ctx context.Context) ([]byte, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-qc.ctx.Done():
			return nil, ErrChannelClosed
		default:
		}

		stream, err := qc.currentStream(ctx)
		if err != nil {
			return nil, err
		}

		stream.SetReadDeadline(time.Now().Add(time.Second))

		buf := make([]byte, qc.readBuf)
		n, err := stream.Read(buf)
		if n > 0 {
			qc.stats.bytesReceived.Add(uint64(n))
			return buf[:n], nil
		}
		if err != nil {
			if isTimeout(err) {
				continue
			}
			if qc.closed.Load() {
				return nil, ErrChannelClosed
			}
			qc.stats.readErrors.Add(1)
			qc.dropStream()
			if qc.isServer {
				// Wait for the bridge to dial back in.
				continue
			}
			return nil, fmt.Errorf("quic read: %w", err)
		}
	}
}

// Write implements PhysicalChannel.Write
func (qc *QUICChannel) Write(ctx context.Context, data []byte) error {
	if qc.closed.Load() {
		return ErrChannelClosed
	}

	stream, err := qc.currentStream(ctx)
	if err != nil {
		return err
	}

	stream.SetWriteDeadline(time.Now().Add(10 * time.Second))
	n, err := stream.Write(data)
	if err != nil {
		qc.stats.writeErrors.Add(1)
		return fmt.Errorf("quic write: %w", err)
	}

	qc.stats.bytesSent.Add(uint64(n))
	return nil
}

// dropStream discards the current stream after an I/O failure
func (qc *QUICChannel) dropStream() {
	qc.streamLock.Lock()
	defer qc.streamLock.Unlock()

	if qc.stream != nil {
		qc.stream.Close()
		qc.stream = nil
		qc.stats.disconnects.Add(1)
	}
	if qc.connection != nil {
		qc.connection.CloseWithError(0, "stream failed")
		qc.connection = nil
	}
}

// Close implements PhysicalChannel.Close
func (qc *QUICChannel) Close() error {
	if !qc.closed.CompareAndSwap(false, true) {
		return nil
	}

	qc.cancel()

	if qc.listener != nil {
		qc.listener.Close()
	}

	qc.dropStream()
	qc.wg.Wait()
	return nil
}

// Statistics implements PhysicalChannel.Statistics
func (qc *QUICChannel) Statistics() TransportStats {
	return TransportStats{
		BytesSent:     qc.stats.bytesSent.Load(),
		BytesReceived: qc.stats.bytesReceived.Load(),
		WriteErrors:   qc.stats.writeErrors.Load(),
		ReadErrors:    qc.stats.readErrors.Load(),
		Connects:      qc.stats.connects.Load(),
		Disconnects:   qc.stats.disconnects.Load(),
	}
}

// DeviceInfo implements DeviceIdentifier.
func (qc *QUICChannel) DeviceInfo() DeviceInfo {
	return DeviceInfo{Port: qc.address}
}

// isTimeout reports whether err is a deadline expiry rather than a failure
func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	return false
}
