package sensor

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hawkw/eclssd/internal/bus"
	"github.com/hawkw/eclssd/internal/metricsregistry"
)

const pmsa003iAddr = 0x12

const pmsa003iFrameLength = 32

// pmsa003iMagic is the two-byte preamble every frame starts with.
var pmsa003iMagic = [2]byte{0x42, 0x4D}

// PMSA003IAdapter drives a Plantower PMSA003I particulate sensor. Unlike
// every other adapter here it speaks no command protocol at all: the
// device streams a fixed-length frame continuously and Poll just reads and
// validates the next one, per the original lib/eclss/src/sensor/pmsa003i.rs
// (whose init() is a no-op for the same reason).
type PMSA003IAdapter struct {
	dev *bus.SharedBus

	conc  map[string]*metricsregistry.Gauge
	count map[string]*metricsregistry.Gauge
}

var pmsa003iConcDiameters = []string{"1.0", "2.5", "10.0"}
var pmsa003iCountDiameters = []string{"0.3", "0.5", "1.0", "2.5", "5.0", "10.0"}

// NewPMSA003IAdapter constructs the adapter.
func NewPMSA003IAdapter(b *bus.SharedBus, fams Families) (*PMSA003IAdapter, error) {
	a := &PMSA003IAdapter{
		dev:   b,
		conc:  make(map[string]*metricsregistry.Gauge, len(pmsa003iConcDiameters)),
		count: make(map[string]*metricsregistry.Gauge, len(pmsa003iCountDiameters)),
	}
	for _, d := range pmsa003iConcDiameters {
		g, err := fams.PMConc.Gauge(d)
		if err != nil {
			return nil, err
		}
		a.conc[d] = g
	}
	for _, d := range pmsa003iCountDiameters {
		g, err := fams.PMCount.Gauge(d)
		if err != nil {
			return nil, err
		}
		a.count[d] = g
	}
	return a, nil
}

// Identity implements Adapter.
func (a *PMSA003IAdapter) Identity() Identity { return PMSA003I }

// PollInterval implements Adapter.
func (a *PMSA003IAdapter) PollInterval() time.Duration { return 2 * time.Second }

// Init implements Adapter. The device free-runs as soon as it has power;
// there's nothing to configure.
func (a *PMSA003IAdapter) Init(ctx context.Context) error {
	_, err := a.readFrame()
	if err != nil {
		return err
	}
	return nil
}

// Poll implements Adapter.
func (a *PMSA003IAdapter) Poll(ctx context.Context) error {
	frame, err := a.readFrame()
	if err != nil {
		return err
	}

	atm := func(offset int) float64 { return float64(binary.BigEndian.Uint16(frame[offset:])) }
	a.conc["1.0"].Set(atm(10))
	a.conc["2.5"].Set(atm(12))
	a.conc["10.0"].Set(atm(14))

	a.count["0.3"].Set(atm(16))
	a.count["0.5"].Set(atm(18))
	a.count["1.0"].Set(atm(20))
	a.count["2.5"].Set(atm(22))
	a.count["5.0"].Set(atm(24))
	a.count["10.0"].Set(atm(26))

	return nil
}

func (a *PMSA003IAdapter) readFrame() ([]byte, error) {
	frame := make([]byte, pmsa003iFrameLength)
	if err := a.dev.Tx(pmsa003iAddr, nil, frame); err != nil {
		return nil, WrapI2C(PMSA003I, "read_frame", err)
	}
	if frame[0] != pmsa003iMagic[0] || frame[1] != pmsa003iMagic[1] {
		return nil, Wrap(PMSA003I, "read_frame", fmt.Errorf("bad frame magic 0x%02X%02X", frame[0], frame[1]))
	}
	var checksum uint16
	for _, b := range frame[:pmsa003iFrameLength-2] {
		checksum += uint16(b)
	}
	if want := binary.BigEndian.Uint16(frame[pmsa003iFrameLength-2:]); checksum != want {
		return nil, Wrap(PMSA003I, "read_frame", ErrCRCMismatch)
	}
	return frame, nil
}
