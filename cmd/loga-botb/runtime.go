package main

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/KarunTCD/loga-botb/internal/button"
	"github.com/KarunTCD/loga-botb/internal/config"
	"github.com/KarunTCD/loga-botb/internal/feed"
	"github.com/KarunTCD/loga-botb/internal/fusion"
	"github.com/KarunTCD/loga-botb/internal/gps"
	"github.com/KarunTCD/loga-botb/internal/replay"
	"github.com/KarunTCD/loga-botb/internal/sim"
	"github.com/KarunTCD/loga-botb/internal/udp"
	"github.com/KarunTCD/loga-botb/internal/web"
)

// calibQueue collects calibration requests from HTTP handlers and the GPIO
// button. Only the tick loop may touch the estimator, so requests wait
// here until the next frame.
type calibQueue struct {
	mu        sync.Mutex
	calibrate bool
	heading   *float64
}

func (q *calibQueue) RequestCalibrate() {
	q.mu.Lock()
	q.calibrate = true
	q.mu.Unlock()
}

func (q *calibQueue) RequestHeading(deg float64) {
	q.mu.Lock()
	q.heading = &deg
	q.mu.Unlock()
}

func (q *calibQueue) take() (calibrate bool, heading *float64) {
	q.mu.Lock()
	calibrate, heading = q.calibrate, q.heading
	q.calibrate, q.heading = false, nil
	q.mu.Unlock()
	return calibrate, heading
}

type runtime struct {
	cfg    config.Config
	status *web.Status
	est    *fusion.Estimator
	cal    calibQueue

	gpsSvc   *gps.Service
	box      *feed.Mailbox
	mqttIn   *feed.MQTT
	wsIn     *feed.WS
	mqttOut  *feed.MQTT
	udpOut   *udp.Broadcaster
	recorder *replay.Writer
	btn      *button.Service

	walker *sim.Walker
	player *replay.Player

	lastTick time.Time
}

func newRuntime(ctx context.Context, cfg config.Config, configPath string) (*runtime, error) {
	c := cfg
	if err := config.DefaultAndValidate(&c); err != nil {
		return nil, err
	}

	r := &runtime{
		cfg:    c,
		status: web.NewStatus(),
		est:    fusion.New(c.Estimator.Fusion()),
		box:    feed.NewMailbox(),
	}
	r.status.SetStatic(c.Source, c.TickInterval.String())

	switch c.Source {
	case "sim":
		r.walker = sim.NewWalker(sim.Config{
			StartLatDeg:    c.Sim.StartLatDeg,
			StartLonDeg:    c.Sim.StartLonDeg,
			WalkSpeedMS:    c.Sim.WalkSpeedMS,
			TurnPeriodSec:  c.Sim.TurnPeriodSec,
			FixAccuracyM:   c.Sim.FixAccuracyM,
			FixInterval:    time.Duration(c.Sim.FixIntervalMS) * time.Millisecond,
			DeclinationDeg: c.Estimator.Fusion().MagneticDeclination,
			Seed:           c.Sim.Seed,
		})

	case "replay":
		recs, err := replay.Open(c.Replay.Path)
		if err != nil {
			return nil, fmt.Errorf("replay open %s: %w", c.Replay.Path, err)
		}
		player, err := replay.NewPlayer(recs, c.Replay.Speed, c.Replay.Loop)
		if err != nil {
			return nil, err
		}
		r.player = player
		log.Printf("replay loaded path=%s records=%d speed=%g loop=%v", c.Replay.Path, len(recs), c.Replay.Speed, c.Replay.Loop)

	case "live":
		if c.GPS.Enable {
			svc := gps.New(gps.Config{
				Enable:   c.GPS.Enable,
				Source:   c.GPS.Source,
				GPSDAddr: c.GPS.GPSDAddr,
				Device:   c.GPS.Device,
				Baud:     c.GPS.Baud,
			})
			if err := svc.Start(ctx); err != nil {
				// Keep running; the feed may still deliver fixes.
				log.Printf("gps init failed: %v", err)
			}
			r.gpsSvc = svc
		}
		if c.Feed.MQTT.Enable {
			m := feed.NewMQTT(feed.MQTTConfig{
				Broker:      c.Feed.MQTT.Broker,
				ClientID:    c.Feed.MQTT.ClientID,
				TopicPrefix: c.Feed.MQTT.TopicPrefix,
			}, r.box)
			if err := m.Start(ctx); err != nil {
				r.Close()
				return nil, err
			}
			r.mqttIn = m
		}
		if c.Feed.WS.Enable {
			w := feed.NewWS(feed.WSConfig{Listen: c.Feed.WS.Listen, Path: c.Feed.WS.Path}, r.box)
			if err := w.Start(ctx); err != nil {
				r.Close()
				return nil, err
			}
			r.wsIn = w
		}
	}

	if c.Outputs.UDP.Enable {
		out, err := udp.NewBroadcaster(c.Outputs.UDP.Dest)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("udp output: %w", err)
		}
		r.udpOut = out
	}
	if c.Outputs.MQTT.Enable {
		m := feed.NewMQTT(feed.MQTTConfig{
			Broker:      c.Outputs.MQTT.Broker,
			ClientID:    c.Outputs.MQTT.ClientID,
			TopicPrefix: c.Outputs.MQTT.TopicPrefix,
		}, feed.NewMailbox())
		if err := m.Start(ctx); err != nil {
			r.Close()
			return nil, err
		}
		r.mqttOut = m
	}
	if c.Outputs.Log.Enable {
		w, err := replay.CreateWriter(c.Outputs.Log.Path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("record output: %w", err)
		}
		r.recorder = w
		log.Printf("recording session to %s", c.Outputs.Log.Path)
	}

	if c.Outputs.Web.Enable {
		handler := web.Handler(r.status, r.est.Broadcaster(), &r.cal, web.SettingsStore{ConfigPath: configPath})
		go func() {
			if err := web.Serve(ctx, c.Outputs.Web.Listen, handler); err != nil && ctx.Err() == nil {
				log.Printf("web server stopped: %v", err)
			}
		}()
		log.Printf("web api listening on %s", c.Outputs.Web.Listen)
	}

	if c.Button.Enable {
		b := button.New(button.Config{Chip: c.Button.Chip, Line: c.Button.Line}, r.cal.RequestCalibrate)
		if err := b.Start(ctx); err != nil {
			// The handheld works without the case button.
			log.Printf("button init failed: %v", err)
		} else {
			r.btn = b
		}
	}

	return r, nil
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	if r.gpsSvc != nil {
		r.gpsSvc.Close()
		r.gpsSvc = nil
	}
	if r.btn != nil {
		r.btn.Close()
		r.btn = nil
	}
	if r.recorder != nil {
		if err := r.recorder.Close(); err != nil {
			log.Printf("recorder close: %v", err)
		}
		r.recorder = nil
	}
	if r.udpOut != nil {
		_ = r.udpOut.Close()
		r.udpOut = nil
	}
}

func (r *runtime) Run(ctx context.Context) error {
	switch r.cfg.Source {
	case "sim":
		return r.runSim(ctx)
	case "replay":
		return r.runReplay(ctx)
	case "live":
		return r.runLive(ctx)
	default:
		return fmt.Errorf("unknown source %q", r.cfg.Source)
	}
}

func (r *runtime) runSim(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	dt := r.cfg.TickInterval.Seconds()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.step(r.walker.Step(dt)); err != nil {
				return err
			}
		}
	}
}

func (r *runtime) runReplay(ctx context.Context) error {
	for {
		in, wait, ok := r.player.Next()
		if !ok {
			log.Printf("replay finished")
			return nil
		}
		if wait > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(wait * float64(time.Second))):
			}
		}
		if err := r.step(in); err != nil {
			return err
		}
	}
}

func (r *runtime) runLive(ctx context.Context) error {
	first, err := r.waitFirstFix(ctx)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.lastTick = time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			dt := now.Sub(r.lastTick).Seconds()
			r.lastTick = now
			if dt <= 0 {
				continue
			}

			in := fusion.TickInput{DT: dt}
			b := r.box.Drain()
			in.Inertial, in.Angular, in.Magnetic = b.Inertial, b.Angular, b.Magnetic
			// The serial/gpsd fix wins over a feed-relayed one.
			in.Fix = r.gpsSvc.TakeFix()
			if in.Fix == nil {
				in.Fix = b.Fix
			}
			if first != nil {
				if in.Fix == nil {
					in.Fix = first
				}
				first = nil
			}

			if err := r.step(in); err != nil {
				return err
			}
		}
	}
}

// waitFirstFix blocks until a usable fix arrives or the configured timeout
// expires. A zero timeout skips the wait entirely.
func (r *runtime) waitFirstFix(ctx context.Context) (*fusion.PositionFix, error) {
	if r.cfg.InitTimeout <= 0 {
		return nil, nil
	}

	log.Printf("waiting up to %s for the first fix", r.cfg.InitTimeout)
	deadline := time.NewTimer(r.cfg.InitTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(50 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, fmt.Errorf("no usable fix within %s", r.cfg.InitTimeout)
		case <-poll.C:
			if f := r.gpsSvc.TakeFix(); f != nil && f.Valid() {
				log.Printf("first fix lat=%.5f lon=%.5f accuracy=%.1fm", f.LatDeg, f.LonDeg, f.AccuracyM)
				return f, nil
			}
			if b := r.box.Drain(); b.Fix != nil && b.Fix.Valid() {
				log.Printf("first fix lat=%.5f lon=%.5f accuracy=%.1fm", b.Fix.LatDeg, b.Fix.LonDeg, b.Fix.AccuracyM)
				return b.Fix, nil
			}
		}
	}
}

// step runs one frame: queued calibration first, then the estimator tick,
// then the outputs. Output failures are logged, never fatal.
func (r *runtime) step(in fusion.TickInput) error {
	if calibrate, heading := r.cal.take(); calibrate || heading != nil {
		if calibrate {
			if r.est.CalibrateManually(in.Magnetic) {
				log.Printf("manual calibration applied")
			} else {
				log.Printf("manual calibration skipped: no compass reading")
			}
		}
		if heading != nil {
			r.est.SetDirection(*heading)
			log.Printf("heading set to %.1f", *heading)
		}
	}

	if r.recorder != nil {
		if err := r.recorder.WriteTick(in); err != nil {
			log.Printf("record tick: %v", err)
		}
	}

	est, err := r.est.Tick(in)
	if err != nil {
		return fmt.Errorf("estimator tick: %w", err)
	}

	if r.udpOut != nil {
		if err := r.udpOut.SendEstimate(est); err != nil {
			log.Printf("udp send: %v", err)
		}
	}
	if r.mqttOut != nil {
		r.mqttOut.Publish(est)
	}

	now := time.Now().UTC()
	r.status.MarkTick(now)
	r.status.SetEstimator(r.est.Snapshot())
	if r.gpsSvc != nil {
		r.status.SetGPS(r.gpsSvc.Snapshot())
	}
	received, dropped := r.box.Stats()
	r.status.SetFeedStats(received, dropped)
	return nil
}
