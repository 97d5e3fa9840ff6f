package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Stats counts scheduler activity across all cameras.
type Stats struct {
	Ticks          atomic.Int64
	CameraTicks    atomic.Int64
	FramesMissing  atomic.Int64
	MotionTicks    atomic.Int64
	Escalations    atomic.Int64
	Confirmed      atomic.Int64
	Starts         atomic.Int64
	Stops          atomic.Int64
	Panics         atomic.Int64
	lastTickMicros atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	Ticks         int64
	CameraTicks   int64
	FramesMissing int64
	MotionTicks   int64
	Escalations   int64
	Confirmed     int64
	Starts        int64
	Stops         int64
	Panics        int64
	LastTick      time.Duration
}

// Snapshot copies the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Ticks:         s.Ticks.Load(),
		CameraTicks:   s.CameraTicks.Load(),
		FramesMissing: s.FramesMissing.Load(),
		MotionTicks:   s.MotionTicks.Load(),
		Escalations:   s.Escalations.Load(),
		Confirmed:     s.Confirmed.Load(),
		Starts:        s.Starts.Load(),
		Stops:         s.Stops.Load(),
		Panics:        s.Panics.Load(),
		LastTick:      time.Duration(s.lastTickMicros.Load()) * time.Microsecond,
	}
}

func (s *Stats) observeTick(d time.Duration) {
	s.Ticks.Add(1)
	s.lastTickMicros.Store(d.Microseconds())
}

func (snap StatsSnapshot) log(l zerolog.Logger) {
	l.Info().
		Int64("ticks", snap.Ticks).
		Int64("frames_missing", snap.FramesMissing).
		Int64("motion_ticks", snap.MotionTicks).
		Int64("escalations", snap.Escalations).
		Int64("confirmed", snap.Confirmed).
		Int64("starts", snap.Starts).
		Int64("stops", snap.Stops).
		Int64("panics", snap.Panics).
		Dur("last_tick", snap.LastTick).
		Msg("Scheduler stats")
}
