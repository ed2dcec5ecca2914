package reader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"orienteer/punchcard-go/pkg/card"
	"orienteer/punchcard-go/pkg/channel"
	"orienteer/punchcard-go/pkg/frame"
	"orienteer/punchcard-go/pkg/logger"
)

// Dialer opens a fresh physical channel for each connect. A half-closed
// channel is never reused: reconnecting dials again.
type Dialer interface {
	Dial() (channel.PhysicalChannel, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func() (channel.PhysicalChannel, error)

// Dial implements Dialer.
func (f DialerFunc) Dial() (channel.PhysicalChannel, error) {
	return f()
}

// Config configures a session
type Config struct {
	// VerifyChecksum rejects inbound frames whose checksum does not match.
	// Off by default: the reader family this was validated against ships
	// frames the legacy tooling accepted unverified, and rejecting them
	// changes behavior at the registration desk. Rejected frames count as
	// frame errors and emit no event.
	VerifyChecksum bool

	// WriteTimeout bounds each outbound command. 0 = 5s.
	WriteTimeout time.Duration
}

// Session owns one connection to a physical reader: the channel, the frame
// assembler, the read loop and the observer fan-out. Create it once per
// logical reader; Connect and Disconnect cycle the underlying channel.
//
// All frame assembly, decoding and notification happen synchronously on the
// read loop goroutine, so observers see card_read events in the exact order
// cards were presented.
type Session struct {
	cfg    Config
	dialer Dialer
	log    logger.Logger
	obs    *observerList
	status *statusTracker

	mu            sync.Mutex // serializes Connect/Disconnect
	ch            channel.PhysicalChannel
	cancel        context.CancelFunc
	done          chan struct{}
	disconnecting atomic.Bool
}

// NewSession creates a session. The dialer is required; a nil logger disables
// logging.
func NewSession(dialer Dialer, cfg Config, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Session{
		cfg:    cfg,
		dialer: dialer,
		log:    log,
		obs:    newObserverList(log),
		status: &statusTracker{},
	}
}

// AddObserver registers an observer for reader events.
func (s *Session) AddObserver(o Observer) {
	s.obs.add(o)
}

// RemoveObserver unregisters an observer previously passed to AddObserver.
func (s *Session) RemoveObserver(o Observer) {
	s.obs.remove(o)
}

// Status returns an immutable snapshot of the session status.
func (s *Session) Status() Status {
	return s.status.snapshot()
}

// Statistics returns transport counters for the current channel, zero when
// disconnected.
func (s *Session) Statistics() channel.TransportStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return channel.TransportStats{}
	}
	return s.ch.Statistics()
}

// Connect dials the reader, starts the read loop and runs the reader init
// sequence (set master mode, then an audible connect beep). Init failure is
// non-fatal: the link stays up and a warning is logged. A *ConnectionError
// describes dial failures; nothing is retried automatically.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch != nil {
		if !s.loopEnded() {
			return ErrAlreadyConnected
		}
		// Previous loop died to a transport failure; clear the carcass and
		// dial fresh.
		s.teardownLocked()
	}

	ch, err := s.dialer.Dial()
	if err != nil {
		cerr := classifyConnectError(err)
		s.log.Error("Connect failed: %v", err)
		return cerr
	}

	var device channel.DeviceInfo
	if ident, ok := ch.(channel.DeviceIdentifier); ok {
		device = ident.DeviceInfo()
	}

	asm := frame.NewAssembler(s.log)
	asm.OnDrop = s.status.recordError

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.ch = ch
	s.cancel = cancel
	s.done = done
	s.disconnecting.Store(false)
	s.status.setConnected(true, device)
	s.log.Info("Reader connected on %s", device.Port)

	go s.readLoop(ctx, ch, asm, done)

	// Reader init: switch to master mode so the reader reports cards on its
	// own, then beep so the operator hears the link come up.
	if err := s.sendCommand(ctx, ch, frame.CmdSetMasterMode, []byte{frame.MasterModeParam}); err != nil {
		s.log.Warn("Reader init: set master mode failed: %v", err)
	} else if err := s.sendCommand(ctx, ch, frame.CmdBeep, nil); err != nil {
		s.log.Warn("Reader init: connect beep failed: %v", err)
	}

	return nil
}

// Disconnect stops the read loop and closes the channel. Idempotent: calling
// it twice, or without ever connecting, is a no-op. Close errors are logged,
// never returned.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ch == nil {
		return nil
	}

	s.disconnecting.Store(true)
	s.cancel()
	if err := s.ch.Close(); err != nil {
		s.log.Warn("Error closing channel: %v", err)
	}
	<-s.done

	s.teardownLocked()
	s.status.setDisconnected()
	s.log.Info("Reader disconnected")
	return nil
}

// loopEnded reports whether the read loop has already exited (transport
// failure path). Callers hold s.mu.
func (s *Session) loopEnded() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// teardownLocked clears per-connection state. Callers hold s.mu.
func (s *Session) teardownLocked() {
	if s.cancel != nil {
		s.cancel()
	}
	s.ch = nil
	s.cancel = nil
	s.done = nil
}

// readLoop pulls byte chunks off the channel, assembles frames and processes
// them in arrival order. It never takes s.mu, so Disconnect can hold the
// mutex while waiting for it to exit.
func (s *Session) readLoop(ctx context.Context, ch channel.PhysicalChannel, asm *frame.Assembler, done chan struct{}) {
	defer close(done)
	s.log.Debug("Read loop started")
	defer s.log.Debug("Read loop stopped")

	for {
		data, err := ch.Read(ctx)
		if err != nil {
			if ctx.Err() != nil || s.disconnecting.Load() || errors.Is(err, channel.ErrChannelClosed) {
				// Cancellation via Disconnect is normal termination, not a
				// lost connection.
				return
			}

			s.log.Error("Transport failure: %v", err)
			s.status.recordError()
			s.status.setDisconnected()
			if cerr := ch.Close(); cerr != nil {
				s.log.Warn("Error closing channel after failure: %v", cerr)
			}
			s.obs.notify(Event{Type: EventConnectionLost, Err: err})
			return
		}

		for _, f := range asm.Push(data) {
			s.handleFrame(ctx, ch, f)
		}
	}
}

// handleFrame decodes one frame and notifies observers. Protocol noise is
// absorbed here: nothing a frame contains can stop the loop.
func (s *Session) handleFrame(ctx context.Context, ch channel.PhysicalChannel, f *frame.Frame) {
	if s.cfg.VerifyChecksum && !f.Verify() {
		s.log.Warn("Dropping frame with bad checksum: %s", f)
		s.status.recordError()
		return
	}

	read, err := card.Decode(f)
	if err != nil {
		if errors.Is(err, card.ErrUnknownCommand) {
			// Future firmware speaks commands we have never seen. Not an
			// error; log and move on.
			s.log.Debug("Ignoring frame: %v", err)
			return
		}

		s.log.Warn("Frame processing failed: %v", err)
		s.status.recordError()
		s.obs.notify(Event{Type: EventReaderError, Err: err})
		return
	}

	cr := &CardRead{
		CardNumber: read.Number,
		Generation: read.Generation,
		ReadAt:     time.Now(),
		Battery:    read.Battery,
		ErrorCode:  read.ErrorCode,
	}
	s.status.recordRead(cr)
	s.log.Info("Card read: %d (%s)", cr.CardNumber, cr.Generation)
	s.obs.notify(Event{Type: EventCardRead, Card: cr})

	// Feedback beep so the runner knows the punch registered. Best-effort: a
	// failed beep never fails the read.
	if err := s.sendCommand(ctx, ch, frame.CmdBeep, nil); err != nil {
		s.log.Warn("Feedback beep failed: %v", err)
	}
}

// sendCommand serializes and writes one outbound command frame.
func (s *Session) sendCommand(ctx context.Context, ch channel.PhysicalChannel, cmd frame.Command, payload []byte) error {
	f := frame.New(cmd, payload)
	data, err := f.Serialize()
	if err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
	defer cancel()
	return ch.Write(wctx, data)
}
