package main

import (
	"context"
	"fmt"
	"time"

	"github.com/aeytom/pulsemeter/command"
	"github.com/aeytom/pulsemeter/energy"
	"github.com/aeytom/pulsemeter/ferraris"
	"github.com/aeytom/pulsemeter/http"
	"github.com/aeytom/pulsemeter/influx"
	"github.com/aeytom/pulsemeter/magnet"
	"github.com/aeytom/pulsemeter/meter"
	"github.com/aeytom/pulsemeter/mqtt"
	"github.com/aeytom/pulsemeter/parameters"
	"github.com/aeytom/pulsemeter/pulse"
	"github.com/aeytom/pulsemeter/report"
	"github.com/aeytom/pulsemeter/store"
	"github.com/coreos/go-systemd/daemon"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func openSource(p *parameters.Parameters) (pulse.Source, error) {
	switch p.Meter.Source {
	case parameters.SourceGPIO:
		return ferraris.New(p.Meter.Name, p.Meter.Pin, p.Meter.PollInterval)
	case parameters.SourceMagnet:
		return magnet.New(p.Meter.Name, p.Meter.Magnet.RangeMin, p.Meter.Magnet.PollInterval)
	case parameters.SourceSimulate:
		return &pulse.Simulator{Interval: p.Meter.Simulate.Interval}, nil
	}
	return nil, fmt.Errorf("%w: unknown meter.source %q", parameters.ErrInvalid, p.Meter.Source)
}

func run(ctx context.Context, p *parameters.Parameters) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	src, err := openSource(p)
	if err != nil {
		return err
	}
	// closed only after the source goroutine returned; a restart leaves the
	// mapping to exec
	defer src.Close()

	acc := energy.New(p.Energy.ResetOnDrain)
	capture := pulse.NewCapture(pulse.Config{
		WhPerPulse:  p.Meter.WhPerPulse,
		MinInterval: p.Meter.MinInterval,
		MaxPower:    p.Meter.MaxPower,
	}, acc, time.Now())

	queue := command.NewQueue(16)
	var (
		sinks []meter.Sink
		sup   *mqtt.Supervisor
	)
	if p.Testing {
		sinks = append(sinks, report.LogSink{})
	} else {
		sup = mqtt.New(mqtt.Options{
			Broker:         p.MQTT.Broker,
			ClientID:       p.MQTT.ClientID,
			Username:       p.MQTT.Username,
			Password:       p.MQTT.Password,
			Topic:          p.MQTT.Topic,
			QoS:            p.MQTT.QoS,
			ConnectTimeout: p.MQTT.ConnectTimeout,
			PublishTimeout: p.MQTT.PublishTimeout,
			MaxBackoff:     p.MQTT.MaxBackoff,
		}, func(payload []byte) {
			if err := queue.Push(payload); err != nil {
				log.Warn().Err(err).Msg("mqtt command dropped")
			}
		})
		cleanup = append(cleanup, sup.Close)
		sinks = append(sinks, mqtt.NewSink(sup, p.MQTT.Topic, p.Report.Precision))

		if p.Influx.URL != "" {
			is := influx.New(p.Influx.URL, p.Influx.Token, p.Influx.Org, p.Influx.Bucket, p.Influx.Measurement)
			cleanup = append(cleanup, is.Close)
			sinks = append(sinks, is)
		}
		if p.Postgres.DSN != "" {
			ss, err := store.Connect(ctx, p.Postgres.DSN)
			if err != nil {
				return err
			}
			cleanup = append(cleanup, func() { ss.Close() })
			sinks = append(sinks, ss)
		}
	}

	sched := report.New(p.Meter.Name, p.Report.Window, acc, time.Now(), sinks...)
	restarter := command.NewExecRestarter(func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	})
	l := &loop{
		tick:      p.Report.Tick,
		scheduler: sched,
		commands:  queue,
		processor: command.NewProcessor(acc, restarter),
		notify:    sdNotify,
	}
	if sup != nil {
		l.session = sup
		if err := sup.Reestablish(ctx); err != nil {
			return err
		}
	}

	log.Info().
		Str("meter", p.Meter.Name).
		Str("source", p.Meter.Source).
		Dur("window", p.Report.Window).
		Float64("wh_per_pulse", p.Meter.WhPerPulse).
		Bool("test", p.Testing).
		Msg("pulsemeter started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return src.Run(gctx, func(ts time.Time) {
			if s, ok := capture.Edge(ts); ok {
				log.Debug().Float64("interval", s.Interval).Float64("watts", s.Power).Msg("pulse")
			}
		})
	})
	if p.HTTP.Addr != "" {
		hm := &http.Meter{
			Name:      p.Meter.Name,
			Title:     p.Meter.Label,
			Acc:       acc,
			Capture:   capture,
			Scheduler: sched,
			Commands:  queue,
		}
		if sup != nil {
			hm.Session = sup.IsSessionActive
		}
		srv := http.New(hm)
		g.Go(func() error { return srv.Run(gctx, p.HTTP.Addr) })
	}
	g.Go(func() error { return l.run(gctx) })

	err = g.Wait()
	log.Info().Err(err).Msg("pulsemeter stopped")
	return err
}

func sdNotify(state string) {
	if _, err := daemon.SdNotify(false, state); err != nil {
		log.Warn().Err(err).Str("state", state).Msg("sd_notify failed")
	}
}
