package web

import (
	"sync/atomic"
	"time"

	"github.com/KarunTCD/loga-botb/internal/fusion"
	"github.com/KarunTCD/loga-botb/internal/gps"
)

// Status aggregates what the process is doing for the HTTP API. Writers
// are the tick loop and the source services; readers are request handlers.
type Status struct {
	startUnixNano int64
	lastTickNano  int64
	ticks         uint64

	mode     atomic.Value // string: sim, replay, live
	interval atomic.Value // string

	estimator atomic.Value // fusion.Snapshot
	gps       atomic.Value // gps.Snapshot

	feedReceived uint64
	feedDropped  uint64
}

func NewStatus() *Status {
	s := &Status{}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.mode.Store("")
	s.interval.Store("")
	s.estimator.Store(fusion.Snapshot{})
	s.gps.Store(gps.Snapshot{})
	return s
}

func (s *Status) SetStatic(mode, interval string) {
	if mode != "" {
		s.mode.Store(mode)
	}
	if interval != "" {
		s.interval.Store(interval)
	}
}

func (s *Status) MarkTick(nowUTC time.Time) {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	atomic.StoreInt64(&s.lastTickNano, nowUTC.UnixNano())
	atomic.AddUint64(&s.ticks, 1)
}

func (s *Status) SetEstimator(snap fusion.Snapshot) {
	s.estimator.Store(snap)
}

func (s *Status) SetGPS(snap gps.Snapshot) {
	s.gps.Store(snap)
}

func (s *Status) SetFeedStats(received, dropped uint64) {
	atomic.StoreUint64(&s.feedReceived, received)
	atomic.StoreUint64(&s.feedDropped, dropped)
}

type StatusSnapshot struct {
	Service     string `json:"service"`
	NowUTC      string `json:"now_utc"`
	UptimeSec   int64  `json:"uptime_sec"`
	Mode        string `json:"mode"`
	Interval    string `json:"interval"`
	TicksTotal  uint64 `json:"ticks_total"`
	LastTickUTC string `json:"last_tick_utc,omitempty"`

	Estimator fusion.Snapshot `json:"estimator"`
	GPS       gps.Snapshot    `json:"gps"`

	FeedReceived uint64 `json:"feed_received"`
	FeedDropped  uint64 `json:"feed_dropped"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	out := StatusSnapshot{
		Service:      "loga-botb",
		NowUTC:       nowUTC.Format(time.RFC3339Nano),
		Mode:         s.mode.Load().(string),
		Interval:     s.interval.Load().(string),
		TicksTotal:   atomic.LoadUint64(&s.ticks),
		Estimator:    s.estimator.Load().(fusion.Snapshot),
		GPS:          s.gps.Load().(gps.Snapshot),
		FeedReceived: atomic.LoadUint64(&s.feedReceived),
		FeedDropped:  atomic.LoadUint64(&s.feedDropped),
	}

	start := atomic.LoadInt64(&s.startUnixNano)
	if start > 0 {
		out.UptimeSec = int64(nowUTC.Sub(time.Unix(0, start)).Seconds())
		if out.UptimeSec < 0 {
			out.UptimeSec = 0
		}
	}
	if last := atomic.LoadInt64(&s.lastTickNano); last > 0 {
		out.LastTickUTC = time.Unix(0, last).UTC().Format(time.RFC3339Nano)
	}
	return out
}
