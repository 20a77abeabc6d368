package parameters

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Pulse sources.
const (
	SourceGPIO     = "gpio"
	SourceMagnet   = "magnet"
	SourceSimulate = "simulate"
)

// Parameters holds the complete runtime configuration.
type Parameters struct {
	// Verbose provide more debugging output
	Verbose bool `mapstructure:"verbose"`
	// Testing do not connect the broker and do not write any sink
	Testing bool `mapstructure:"test"`

	Meter    Meter    `mapstructure:"meter"`
	Report   Report   `mapstructure:"report"`
	Energy   Energy   `mapstructure:"energy"`
	MQTT     MQTT     `mapstructure:"mqtt"`
	Influx   Influx   `mapstructure:"influx"`
	Postgres Postgres `mapstructure:"postgres"`
	HTTP     HTTP     `mapstructure:"http"`
}

// Meter describes the pulse input and its calibration.
type Meter struct {
	Name         string        `mapstructure:"name"`
	Label        string        `mapstructure:"label"`
	Source       string        `mapstructure:"source"`
	Pin          int           `mapstructure:"pin"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	WhPerPulse   float64       `mapstructure:"wh_per_pulse"`
	MinInterval  time.Duration `mapstructure:"min_interval"`
	MaxPower     float64       `mapstructure:"max_power"`
	Magnet       struct {
		RangeMin     int16         `mapstructure:"range_min"`
		PollInterval time.Duration `mapstructure:"poll_interval"`
	} `mapstructure:"magnet"`
	Simulate struct {
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"simulate"`
}

// Report …
type Report struct {
	Window    time.Duration `mapstructure:"window"`
	Tick      time.Duration `mapstructure:"tick"`
	Precision int           `mapstructure:"precision"`
}

// Energy …
type Energy struct {
	ResetOnDrain bool `mapstructure:"reset_on_drain"`
}

// MQTT …
type MQTT struct {
	Broker         string        `mapstructure:"broker"`
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	Topic          string        `mapstructure:"topic"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// Influx is disabled when URL is empty.
type Influx struct {
	URL         string `mapstructure:"url"`
	Token       string `mapstructure:"token"`
	Org         string `mapstructure:"org"`
	Bucket      string `mapstructure:"bucket"`
	Measurement string `mapstructure:"measurement"`
}

// Postgres is disabled when DSN is empty.
type Postgres struct {
	DSN string `mapstructure:"dsn"`
}

// HTTP is disabled when Addr is empty.
type HTTP struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers every key with its default value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("verbose", false)
	v.SetDefault("test", false)

	v.SetDefault("meter.name", "Power")
	v.SetDefault("meter.label", "power meter value")
	v.SetDefault("meter.source", SourceGPIO)
	v.SetDefault("meter.pin", 17)
	v.SetDefault("meter.poll_interval", 2*time.Millisecond)
	v.SetDefault("meter.wh_per_pulse", 1.0)
	v.SetDefault("meter.min_interval", 90*time.Millisecond)
	v.SetDefault("meter.max_power", 7040.0)
	v.SetDefault("meter.magnet.range_min", 5000)
	v.SetDefault("meter.magnet.poll_interval", 5*time.Millisecond)
	v.SetDefault("meter.simulate.interval", time.Second)

	v.SetDefault("report.window", 60*time.Second)
	v.SetDefault("report.tick", time.Second)
	v.SetDefault("report.precision", 3)

	v.SetDefault("energy.reset_on_drain", true)

	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password", "")
	v.SetDefault("mqtt.topic", "home/meter/power")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("mqtt.connect_timeout", 10*time.Second)
	v.SetDefault("mqtt.publish_timeout", 5*time.Second)
	v.SetDefault("mqtt.max_backoff", 30*time.Second)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "primary")
	v.SetDefault("influx.bucket", "homemeter")
	v.SetDefault("influx.measurement", "meter")

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("http.addr", ":1718")
}

// Load reads defaults, the optional config file and PULSEMETER_* environment
// variables into Parameters.
func Load(v *viper.Viper, configFile string) (*Parameters, error) {
	SetDefaults(v)
	v.SetEnvPrefix("PULSEMETER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	}

	var p Parameters
	if err := v.Unmarshal(&p); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate …
func (p *Parameters) Validate() error {
	switch {
	case p.Report.Window <= 0:
		return fmt.Errorf("%w: report.window must be positive", ErrInvalid)
	case p.Report.Tick <= 0:
		return fmt.Errorf("%w: report.tick must be positive", ErrInvalid)
	case p.Report.Precision < 0:
		return fmt.Errorf("%w: report.precision must not be negative", ErrInvalid)
	case p.Meter.MinInterval <= 0:
		return fmt.Errorf("%w: meter.min_interval must be positive", ErrInvalid)
	case p.Meter.WhPerPulse <= 0:
		return fmt.Errorf("%w: meter.wh_per_pulse must be positive", ErrInvalid)
	case p.Meter.MaxPower <= 0:
		return fmt.Errorf("%w: meter.max_power must be positive", ErrInvalid)
	case p.MQTT.QoS > 2:
		return fmt.Errorf("%w: mqtt.qos must be 0, 1 or 2", ErrInvalid)
	case p.MQTT.Topic == "":
		return fmt.Errorf("%w: mqtt.topic is required", ErrInvalid)
	case p.MQTT.ConnectTimeout <= 0:
		return fmt.Errorf("%w: mqtt.connect_timeout must be positive", ErrInvalid)
	case p.MQTT.PublishTimeout <= 0:
		return fmt.Errorf("%w: mqtt.publish_timeout must be positive", ErrInvalid)
	}
	switch p.Meter.Source {
	case SourceGPIO, SourceMagnet, SourceSimulate:
	default:
		return fmt.Errorf("%w: unknown meter.source %q", ErrInvalid, p.Meter.Source)
	}
	if p.Meter.Source == SourceGPIO && p.Meter.PollInterval <= 0 {
		return fmt.Errorf("%w: meter.poll_interval must be positive", ErrInvalid)
	}
	if p.Meter.Source == SourceMagnet && p.Meter.Magnet.PollInterval <= 0 {
		return fmt.Errorf("%w: meter.magnet.poll_interval must be positive", ErrInvalid)
	}
	if p.Meter.Source == SourceSimulate && p.Meter.Simulate.Interval <= 0 {
		return fmt.Errorf("%w: meter.simulate.interval must be positive", ErrInvalid)
	}
	return nil
}
