// Package influx writes window reports to InfluxDB 2.
package influx

import (
	"context"
	"strings"

	"github.com/aeytom/pulsemeter/meter"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog/log"
)

// Sink writes one point per report.
type Sink struct {
	client      influxdb2.Client
	writeAPI    api.WriteAPI
	measurement string
}

// New connects lazily; write errors are logged asynchronously.
func New(url, token, org, bucket, measurement string) *Sink {
	c := influxdb2.NewClient(url, token)
	w := c.WriteAPI(org, bucket)
	go func() {
		for err := range w.Errors() {
			log.Error().Err(err).Str("url", url).Msg("influx write failed")
		}
	}()
	log.Info().Str("url", url).Str("org", org).Str("bucket", bucket).Msg("influx sink enabled")
	return &Sink{client: c, writeAPI: w, measurement: measurement}
}

// Point converts a report into an influx point.
func Point(measurement string, r meter.Report) *write.Point {
	return influxdb2.NewPoint(
		measurement,
		map[string]string{
			"meter": strings.ToLower(r.Meter),
		},
		map[string]interface{}{
			"wattage": r.AvgPower,
			"energy":  r.Energy,
			"samples": r.Samples,
		},
		r.At.UTC(),
	)
}

// WriteReport …
func (s *Sink) WriteReport(_ context.Context, r meter.Report) error {
	p := Point(s.measurement, r)
	log.Debug().Interface("tags", p.TagList()).Interface("fields", p.FieldList()).Msg("writeInflux")
	s.writeAPI.WritePoint(p)
	s.writeAPI.Flush()
	return nil
}

// Close flushes pending points.
func (s *Sink) Close() {
	s.client.Close()
}
