// Package mqtt keeps the broker session of the meter alive and publishes
// window reports as retained messages.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Topic suffixes below Options.Topic.
const (
	TopicWatts   = "watts"
	TopicKWh     = "kWh"
	TopicCommand = "cmd"
	TopicLWT     = "lwt"
)

// Liveness payloads on the lwt topic.
const (
	Online  = "ON"
	Offline = "OFF"
)

var errConnectTimeout = errors.New("mqtt connect timeout")

// Options configures the broker session.
type Options struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	Topic          string
	QoS            byte
	ConnectTimeout time.Duration
	PublishTimeout time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func (o Options) topic(suffix string) string {
	return o.Topic + "/" + suffix
}

// Supervisor owns the paho client. Reconnects are driven by the main loop
// through Reestablish; the client's own auto reconnect is disabled.
type Supervisor struct {
	opts      Options
	client    paho.Client
	onCommand func(payload []byte)
}

// New builds the paho client. onCommand receives every payload on the command
// topic; it is called from a paho goroutine and must not block.
func New(o Options, onCommand func(payload []byte)) *Supervisor {
	if o.ClientID == "" {
		o.ClientID = "pulsemeter-" + uuid.NewString()[:8]
	}
	co := paho.NewClientOptions().
		AddBroker(o.Broker).
		SetClientID(o.ClientID).
		SetUsername(o.Username).
		SetPassword(o.Password).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(o.ConnectTimeout).
		SetWill(o.topic(TopicLWT), Offline, o.QoS, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn().Err(err).Str("broker", o.Broker).Msg("mqtt connection lost")
		})
	return NewWithClient(o, paho.NewClient(co), onCommand)
}

// NewWithClient uses an existing client.
func NewWithClient(o Options, c paho.Client, onCommand func(payload []byte)) *Supervisor {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
	return &Supervisor{opts: o, client: c, onCommand: onCommand}
}

// IsSessionActive …
func (s *Supervisor) IsSessionActive() bool {
	return s.client.IsConnectionOpen()
}

// Reestablish blocks until the session is up or ctx is done.
func (s *Supervisor) Reestablish(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.opts.InitialBackoff
	b.MaxInterval = s.opts.MaxBackoff
	b.MaxElapsedTime = 0

	err := backoff.RetryNotify(s.connect, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		log.Warn().Err(err).Str("broker", s.opts.Broker).Dur("retry", d).Msg("mqtt connect failed")
	})
	if err != nil {
		return fmt.Errorf("reestablish mqtt session: %w", err)
	}
	log.Info().Str("broker", s.opts.Broker).Str("client", s.opts.ClientID).Msg("mqtt session established")
	return nil
}

func (s *Supervisor) connect() error {
	if !s.client.IsConnectionOpen() {
		t := s.client.Connect()
		if !t.WaitTimeout(s.opts.ConnectTimeout) {
			return errConnectTimeout
		}
		if err := t.Error(); err != nil {
			return err
		}
	}

	if !s.Publish(s.opts.topic(TopicLWT), Online, true) {
		return errors.New("publish liveness failed")
	}
	t := s.client.Subscribe(s.opts.topic(TopicCommand), s.opts.QoS, func(_ paho.Client, m paho.Message) {
		if m.Retained() {
			log.Debug().Str("topic", m.Topic()).Bytes("payload", m.Payload()).Msg("retained command ignored")
			return
		}
		log.Debug().Str("topic", m.Topic()).Bytes("payload", m.Payload()).Msg("command received")
		if s.onCommand != nil {
			s.onCommand(m.Payload())
		}
	})
	if !t.WaitTimeout(s.opts.ConnectTimeout) {
		return errors.New("subscribe timeout")
	}
	return t.Error()
}

// Publish sends value and reports whether the broker accepted it in time.
func (s *Supervisor) Publish(topic, value string, retained bool) bool {
	t := s.client.Publish(topic, s.opts.QoS, retained, value)
	if !t.WaitTimeout(s.opts.PublishTimeout) {
		log.Warn().Str("topic", topic).Msg("mqtt publish timeout")
		return false
	}
	if err := t.Error(); err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("mqtt publish failed")
		return false
	}
	return true
}

// Close marks the meter offline and disconnects.
func (s *Supervisor) Close() {
	if s.client.IsConnectionOpen() {
		s.Publish(s.opts.topic(TopicLWT), Offline, true)
	}
	s.client.Disconnect(250)
}
