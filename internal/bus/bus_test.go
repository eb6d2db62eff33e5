package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/physic"
)

// fakeI2CBus records whether two Tx calls ever overlapped in time.
type fakeI2CBus struct {
	mu          sync.Mutex
	inFlight    bool
	overlapped  bool
	txDuration  time.Duration
}

func (f *fakeI2CBus) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	if f.inFlight {
		f.overlapped = true
	}
	f.inFlight = true
	f.mu.Unlock()

	time.Sleep(f.txDuration)

	f.mu.Lock()
	f.inFlight = false
	f.mu.Unlock()
	return nil
}

func (f *fakeI2CBus) SetSpeed(physic.Frequency) error { return nil }
func (f *fakeI2CBus) String() string                  { return "fake" }
func (f *fakeI2CBus) Halt() error                      { return nil }
func (f *fakeI2CBus) Close() error                     { return nil }

func TestSharedBusSerializesConcurrentTransactions(t *testing.T) {
	fake := &fakeI2CBus{txDuration: 5 * time.Millisecond}
	shared := New(fake)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(addr uint16) {
			defer wg.Done()
			require.NoError(t, shared.Tx(addr, []byte{0x01}, nil))
		}(uint16(i))
	}
	wg.Wait()

	assert.False(t, fake.overlapped, "two transactions ran concurrently on the shared bus")
}

func TestDevRoutesThroughSharedBus(t *testing.T) {
	fake := &fakeI2CBus{}
	shared := New(fake)
	dev := shared.Dev(0x42)
	require.NoError(t, dev.Tx([]byte{0x00}, nil))
}
