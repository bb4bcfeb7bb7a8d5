package capture

import "time"

// Ticker is a cancellable periodic timer.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory starts a ticker firing every d.
type TickerFactory func(d time.Duration) Ticker

type timeTicker struct {
	t *time.Ticker
}

// NewTimeTicker returns a Ticker backed by time.Ticker.
func NewTimeTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }
func (t *timeTicker) Stop()               { t.t.Stop() }

// Camera is the frame source as seen by the state machine: it is started when
// validation begins and stopped (frozen) while a snapshot is reviewed.
// Stop must be safe to call more than once.
type Camera interface {
	Start() error
	Stop()
}

// NopCamera is a Camera for flows where frames are pushed by a client.
type NopCamera struct{}

func (NopCamera) Start() error { return nil }
func (NopCamera) Stop()        {}
