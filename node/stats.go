package node

import (
	"time"

	"github.com/loov/hrtime"

	"render-compositor/logging"
	"render-compositor/timeline"
)

// Stats accumulates frame timings and peer observations for one loop and
// logs a summary every interval.
type Stats struct {
	role     string
	interval time.Duration

	frames   uint64
	ready    uint64
	overruns uint64
	total    time.Duration
	worst    time.Duration

	windowStart  time.Duration
	windowFrames uint64
}

type Snapshot struct {
	Frames   uint64
	Late     uint64 // peer had not reached the expected value
	Overruns uint64 // peer was past the expected value
	Mean     time.Duration
	Worst    time.Duration
}

func NewStats(role string, interval time.Duration) *Stats {
	return &Stats{role: role, interval: interval, windowStart: hrtime.Now()}
}

// Begin returns the start mark for a frame.
func (s *Stats) Begin() time.Duration { return hrtime.Now() }

// End records a frame that started at begin.
func (s *Stats) End(begin time.Duration, obs timeline.Observation) {
	now := hrtime.Now()
	elapsed := now - begin

	s.frames++
	s.windowFrames++
	s.total += elapsed
	s.worst = max(s.worst, elapsed)
	if obs.Ready {
		s.ready++
	}
	if obs.Overrun {
		s.overruns++
		logging.Logger().Debug("peer overrun", "role", s.role, "observed", obs.Value)
	}

	if s.interval > 0 && now-s.windowStart >= s.interval {
		snap := s.Snapshot()
		fps := float64(s.windowFrames) / (now - s.windowStart).Seconds()
		logging.Logger().Info("frame stats",
			"loop", s.role,
			"frames", snap.Frames,
			"fps", fps,
			"mean", snap.Mean,
			"worst", snap.Worst,
			"late", snap.Late,
			"overruns", snap.Overruns)
		s.windowStart = now
		s.windowFrames = 0
	}
}

func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Frames:   s.frames,
		Late:     s.frames - s.ready,
		Overruns: s.overruns,
		Worst:    s.worst,
	}
	if s.frames > 0 {
		snap.Mean = s.total / time.Duration(s.frames)
	}
	return snap
}
