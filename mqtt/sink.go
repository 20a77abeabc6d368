package mqtt

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aeytom/pulsemeter/meter"
)

// Publisher is implemented by Supervisor.
type Publisher interface {
	Publish(topic, value string, retained bool) bool
}

// Sink publishes the window average and the energy as two retained messages.
type Sink struct {
	pub       Publisher
	topic     string
	precision int
}

// NewSink …
func NewSink(pub Publisher, topic string, precision int) *Sink {
	return &Sink{pub: pub, topic: topic, precision: precision}
}

// WriteReport publishes both values even if the first one fails.
func (s *Sink) WriteReport(_ context.Context, r meter.Report) error {
	okW := s.pub.Publish(s.topic+"/"+TopicWatts, s.format(r.AvgPower), true)
	okE := s.pub.Publish(s.topic+"/"+TopicKWh, s.format(r.Energy), true)
	if !okW || !okE {
		return fmt.Errorf("mqtt publish %s: watts=%v kWh=%v", s.topic, okW, okE)
	}
	return nil
}

func (s *Sink) format(v float64) string {
	return strconv.FormatFloat(v, 'f', s.precision, 64)
}
