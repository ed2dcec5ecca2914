package reader

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"orienteer/punchcard-go/pkg/channel"
	"orienteer/punchcard-go/pkg/frame"
)

// mockChannel is an in-memory PhysicalChannel for driving the session.
type mockChannel struct {
	readCh    chan []byte
	errCh     chan error
	closed    chan struct{}
	closeOnce sync.Once

	writeMu sync.Mutex
	writes  [][]byte
}

func newMockChannel() *mockChannel {
	return &mockChannel{
		readCh: make(chan []byte, 16),
		errCh:  make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (m *mockChannel) Read(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.closed:
		return nil, channel.ErrChannelClosed
	case err := <-m.errCh:
		return nil, err
	case data := <-m.readCh:
		return data, nil
	}
}

func (m *mockChannel) Write(ctx context.Context, data []byte) error {
	select {
	case <-m.closed:
		return channel.ErrChannelClosed
	default:
	}
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.writes = append(m.writes, append([]byte(nil), data...))
	return nil
}

func (m *mockChannel) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *mockChannel) Statistics() channel.TransportStats {
	return channel.TransportStats{}
}

func (m *mockChannel) DeviceInfo() channel.DeviceInfo {
	return channel.DeviceInfo{Port: "mock", VendorID: "10C4"}
}

func (m *mockChannel) written() [][]byte {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// chanObserver forwards events into a buffered channel for the test to drain.
type chanObserver struct {
	events chan Event
}

func newChanObserver() *chanObserver {
	return &chanObserver{events: make(chan Event, 32)}
}

func (o *chanObserver) OnReaderEvent(ev Event) {
	o.events <- ev
}

func waitEvent(t *testing.T, o *chanObserver) Event {
	t.Helper()
	select {
	case ev := <-o.events:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func assertNoEvent(t *testing.T, o *chanObserver) {
	t.Helper()
	select {
	case ev := <-o.events:
		t.Fatalf("unexpected event: %s", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func wire(t *testing.T, cmd frame.Command, payload []byte) []byte {
	t.Helper()
	data, err := frame.New(cmd, payload).Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	return data
}

// connected builds a session around a fresh mock channel and connects it.
func connected(t *testing.T, cfg Config) (*Session, *mockChannel) {
	t.Helper()
	mock := newMockChannel()
	s := NewSession(DialerFunc(func() (channel.PhysicalChannel, error) {
		return mock, nil
	}), cfg, nil)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { s.Disconnect() })
	return s, mock
}

// TestSession_ConnectRunsInitSequence verifies connect sends set-master-mode
// followed by a beep, and flips status to connected with device info.
func TestSession_ConnectRunsInitSequence(t *testing.T) {
	s, mock := connected(t, Config{})

	writes := mock.written()
	if len(writes) != 2 {
		t.Fatalf("got %d init writes, want 2", len(writes))
	}
	if !bytes.Equal(writes[0], wire(t, frame.CmdSetMasterMode, []byte{frame.MasterModeParam})) {
		t.Errorf("first init write = % X, want set master mode", writes[0])
	}
	if !bytes.Equal(writes[1], wire(t, frame.CmdBeep, nil)) {
		t.Errorf("second init write = % X, want beep", writes[1])
	}

	st := s.Status()
	if !st.Connected {
		t.Error("Connected = false after Connect")
	}
	if st.Device.Port != "mock" {
		t.Errorf("Device.Port = %q, want mock", st.Device.Port)
	}
}

// TestSession_ConnectTwice verifies a live session refuses a second connect.
func TestSession_ConnectTwice(t *testing.T) {
	s, _ := connected(t, Config{})
	if err := s.Connect(); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect err = %v, want ErrAlreadyConnected", err)
	}
}

// TestSession_ConnectFailureClassified verifies dial failures surface as
// ConnectionError with the matching reason and leave status disconnected.
func TestSession_ConnectFailureClassified(t *testing.T) {
	tests := []struct {
		name       string
		dialErr    error
		wantReason ConnectFailure
	}{
		{"no device", channel.ErrNoDevice, FailureNoDevice},
		{"no serial support", channel.ErrNoSerialSupport, FailureUnsupported},
		{"open failed", errors.New("permission denied"), FailureOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSession(DialerFunc(func() (channel.PhysicalChannel, error) {
				return nil, tt.dialErr
			}), Config{}, nil)

			err := s.Connect()
			var cerr *ConnectionError
			if !errors.As(err, &cerr) {
				t.Fatalf("err = %v, want *ConnectionError", err)
			}
			if cerr.Reason != tt.wantReason {
				t.Errorf("Reason = %d, want %d", cerr.Reason, tt.wantReason)
			}
			if cerr.Guidance() == "" {
				t.Error("Guidance() is empty")
			}
			if s.Status().Connected {
				t.Error("Connected = true after failed Connect")
			}
		})
	}
}

// TestSession_CardReadOrdering injects three card reports in one chunk and
// checks observers see three card_read events in the same order.
func TestSession_CardReadOrdering(t *testing.T) {
	s, mock := connected(t, Config{})
	obs := newChanObserver()
	s.AddObserver(obs)

	var chunk []byte
	chunk = append(chunk, wire(t, frame.CmdCardSeries8, []byte{0x00, 0x01, 0x0F, 0x72, 0x71, 0x65, 0xE9, 0xFF})...)
	chunk = append(chunk, wire(t, frame.CmdCardSeries5, []byte{0x00, 0x00, 0x00, 0x00, 0x1A, 0x2B})...)
	chunk = append(chunk, wire(t, frame.CmdCardSeries6, []byte{0x07, 0xA1, 0x20, 0x00})...)
	mock.readCh <- chunk

	wantNumbers := []uint32{7500133, 6699, 0x07A120}
	for i, want := range wantNumbers {
		ev := waitEvent(t, obs)
		if ev.Type != EventCardRead {
			t.Fatalf("event %d: Type = %s, want card_read", i, ev.Type)
		}
		if ev.Card.CardNumber != want {
			t.Errorf("event %d: CardNumber = %d, want %d", i, ev.Card.CardNumber, want)
		}
	}

	st := s.Status()
	if st.ReadCount != 3 {
		t.Errorf("ReadCount = %d, want 3", st.ReadCount)
	}
	if st.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", st.ErrorCount)
	}
	if st.LastCard == nil || st.LastCard.CardNumber != 0x07A120 {
		t.Errorf("LastCard = %+v, want number %d", st.LastCard, 0x07A120)
	}

	// Two init writes plus one feedback beep per read. The last beep races
	// the last notification, so poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for len(mock.written()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if writes := mock.written(); len(writes) != 5 {
		t.Errorf("got %d writes, want 5", len(writes))
	}
}

// TestSession_ObserverIsolation registers a panicking observer ahead of a
// healthy one; the healthy one must still receive the event.
func TestSession_ObserverIsolation(t *testing.T) {
	s, mock := connected(t, Config{})

	panicker := ObserverFunc(func(ev Event) { panic("observer bug") })
	s.AddObserver(&panicker)
	obs := newChanObserver()
	s.AddObserver(obs)

	mock.readCh <- wire(t, frame.CmdCardSeries6, []byte{0x00, 0x12, 0x34, 0x00})

	ev := waitEvent(t, obs)
	if ev.Type != EventCardRead {
		t.Fatalf("Type = %s, want card_read", ev.Type)
	}
	if ev.Card.CardNumber != 0x001234 {
		t.Errorf("CardNumber = %d, want %d", ev.Card.CardNumber, 0x001234)
	}
}

// TestSession_RemoveObserver verifies removal by identity.
func TestSession_RemoveObserver(t *testing.T) {
	s, mock := connected(t, Config{})
	kept := newChanObserver()
	removed := newChanObserver()
	s.AddObserver(removed)
	s.AddObserver(kept)
	s.RemoveObserver(removed)

	mock.readCh <- wire(t, frame.CmdCardSeries6, []byte{0x00, 0x12, 0x34, 0x00})

	if ev := waitEvent(t, kept); ev.Type != EventCardRead {
		t.Fatalf("kept observer Type = %s, want card_read", ev.Type)
	}
	assertNoEvent(t, removed)
}

// TestSession_UnknownCommandTolerated verifies a foreign command emits
// nothing, counts nothing, and the next frame in the same chunk decodes.
func TestSession_UnknownCommandTolerated(t *testing.T) {
	s, mock := connected(t, Config{})
	obs := newChanObserver()
	s.AddObserver(obs)

	chunk := append(wire(t, frame.Command(0xAA), []byte{0x01}),
		wire(t, frame.CmdCardSeries6, []byte{0x00, 0x12, 0x34, 0x00})...)
	mock.readCh <- chunk

	ev := waitEvent(t, obs)
	if ev.Type != EventCardRead || ev.Card.CardNumber != 0x001234 {
		t.Fatalf("event = %+v, want card_read 4660", ev)
	}
	if st := s.Status(); st.ErrorCount != 0 {
		t.Errorf("ErrorCount = %d, want 0", st.ErrorCount)
	}
}

// TestSession_TruncatedPayload verifies a short payload counts an error,
// emits reader_error but no card_read, and leaves the loop running.
func TestSession_TruncatedPayload(t *testing.T) {
	s, mock := connected(t, Config{})
	obs := newChanObserver()
	s.AddObserver(obs)

	chunk := append(wire(t, frame.CmdCardSeries8, []byte{0x00}),
		wire(t, frame.CmdCardSeries6, []byte{0x00, 0x12, 0x34, 0x00})...)
	mock.readCh <- chunk

	ev := waitEvent(t, obs)
	if ev.Type != EventReaderError {
		t.Fatalf("first event Type = %s, want reader_error", ev.Type)
	}
	ev = waitEvent(t, obs)
	if ev.Type != EventCardRead {
		t.Fatalf("second event Type = %s, want card_read", ev.Type)
	}

	st := s.Status()
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}
	if st.ReadCount != 1 {
		t.Errorf("ReadCount = %d, want 1", st.ReadCount)
	}
}

// TestSession_ChecksumVerification enables inbound verification and feeds a
// frame with a corrupted checksum followed by a clean one.
func TestSession_ChecksumVerification(t *testing.T) {
	s, mock := connected(t, Config{VerifyChecksum: true})
	obs := newChanObserver()
	s.AddObserver(obs)

	bad := []byte{frame.STX, 0xE1, 0x04, 0x00, 0x12, 0x34, 0x55, 0xAA, 0xBB, frame.ETX}
	mock.readCh <- append(bad, wire(t, frame.CmdCardSeries6, []byte{0x07, 0xA1, 0x20, 0x00})...)

	ev := waitEvent(t, obs)
	if ev.Type != EventCardRead || ev.Card.CardNumber != 0x07A120 {
		t.Fatalf("event = %+v, want card_read from the clean frame", ev)
	}
	if st := s.Status(); st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}
}

// TestSession_IdempotentDisconnect: double disconnect and disconnect without
// connect are both no-ops.
func TestSession_IdempotentDisconnect(t *testing.T) {
	never := NewSession(DialerFunc(func() (channel.PhysicalChannel, error) {
		return newMockChannel(), nil
	}), Config{}, nil)
	if err := never.Disconnect(); err != nil {
		t.Fatalf("Disconnect before Connect: %v", err)
	}

	s, _ := connected(t, Config{})
	if err := s.Disconnect(); err != nil {
		t.Fatalf("first Disconnect: %v", err)
	}
	if err := s.Disconnect(); err != nil {
		t.Fatalf("second Disconnect: %v", err)
	}
	if s.Status().Connected {
		t.Error("Connected = true after Disconnect")
	}
}

// TestSession_DisconnectIsNotConnectionLost verifies a deliberate disconnect
// synthesizes no connection_lost event.
func TestSession_DisconnectIsNotConnectionLost(t *testing.T) {
	s, _ := connected(t, Config{})
	obs := newChanObserver()
	s.AddObserver(obs)

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	assertNoEvent(t, obs)
}

// TestSession_ConnectionLost injects a transport failure and checks the
// connection_lost event, status flip and that a fresh Connect works after.
func TestSession_ConnectionLost(t *testing.T) {
	dials := 0
	var current *mockChannel
	s := NewSession(DialerFunc(func() (channel.PhysicalChannel, error) {
		dials++
		current = newMockChannel()
		return current, nil
	}), Config{}, nil)
	if err := s.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer s.Disconnect()

	obs := newChanObserver()
	s.AddObserver(obs)

	current.errCh <- errors.New("device yanked")

	ev := waitEvent(t, obs)
	if ev.Type != EventConnectionLost {
		t.Fatalf("Type = %s, want connection_lost", ev.Type)
	}
	if ev.Err == nil {
		t.Error("Err is nil on connection_lost")
	}

	st := s.Status()
	if st.Connected {
		t.Error("Connected = true after transport failure")
	}
	if st.ErrorCount != 1 {
		t.Errorf("ErrorCount = %d, want 1", st.ErrorCount)
	}

	// Reconnect dials a fresh channel; the dead one is never reused. The
	// notification slightly precedes final loop teardown, so retry as an
	// operator would.
	deadline := time.Now().Add(2 * time.Second)
	err := s.Connect()
	for errors.Is(err, ErrAlreadyConnected) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		err = s.Connect()
	}
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if dials != 2 {
		t.Errorf("dials = %d, want 2", dials)
	}
	if !s.Status().Connected {
		t.Error("Connected = false after reconnect")
	}
}
