package reader

import (
	"sync"

	"orienteer/punchcard-go/pkg/channel"
)

// Status describes the current session: connection state, the last decoded
// card, cumulative counters and device identity. Returned values are snapshot
// copies, never live references; callers on any goroutine may poll it while
// the read loop mutates the tracked state.
type Status struct {
	Connected  bool               `json:"connected"`
	LastCard   *CardRead          `json:"lastCard,omitempty"`
	ReadCount  uint64             `json:"readCount"`
	ErrorCount uint64             `json:"errorCount"`
	Device     channel.DeviceInfo `json:"device"`
}

// statusTracker guards the mutable status. The read loop is the only writer
// of reads/errors, but Connect/Disconnect and pollers run on other
// goroutines, so a mutex it is.
type statusTracker struct {
	mu  sync.RWMutex
	cur Status
}

func (st *statusTracker) setConnected(connected bool, device channel.DeviceInfo) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.Connected = connected
	st.cur.Device = device
}

// setDisconnected flips the connected flag but keeps device identity, so the
// operator can still see which reader just went away.
func (st *statusTracker) setDisconnected() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.Connected = false
}

func (st *statusTracker) recordRead(cr *CardRead) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.LastCard = cr
	st.cur.ReadCount++
}

func (st *statusTracker) recordError() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.cur.ErrorCount++
}

// snapshot returns an immutable copy.
func (st *statusTracker) snapshot() Status {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s := st.cur
	if st.cur.LastCard != nil {
		cardCopy := *st.cur.LastCard
		s.LastCard = &cardCopy
	}
	return s
}
