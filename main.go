package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aeytom/pulsemeter/parameters"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func main() {
	v := viper.New()
	var configFile string

	root := &cobra.Command{
		Use:   "pulsemeter",
		Short: "Publish power and energy read from a meter's pulse output",
		Long: `pulsemeter times the pulses of an electricity meter's optical or magnetic
pulse output, converts the interval to power and energy, and publishes the
window average (W) and energy (kWh) as retained MQTT messages. A single
byte on the command topic clears the counter (c) or restarts the service (r).

All settings can be given in a YAML file (--config) or as PULSEMETER_*
environment variables, e.g. PULSEMETER_MQTT_BROKER=tcp://broker:1883.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := parameters.Load(v, configFile)
			if err != nil {
				return err
			}
			setupLogging(p.Verbose)
			return run(cmd.Context(), p)
		},
	}

	root.Flags().StringVarP(&configFile, "config", "c", "", "config file (yaml)")
	root.Flags().BoolP("verbose", "v", false, "provide more debugging output")
	root.Flags().Bool("test", false, "do not connect the broker and do not write any sink")
	root.Flags().String("source", parameters.SourceGPIO, "pulse source: gpio, magnet or simulate")
	root.Flags().String("broker", "tcp://localhost:1883", "mqtt broker url")
	root.Flags().String("topic", "home/meter/power", "mqtt base topic")
	root.Flags().String("addr", ":1718", "http service address, empty disables the api")

	for key, flag := range map[string]string{
		"verbose":      "verbose",
		"test":         "test",
		"meter.source": "source",
		"mqtt.broker":  "broker",
		"mqtt.topic":   "topic",
		"http.addr":    "addr",
	} {
		if err := v.BindPFlag(key, root.Flags().Lookup(flag)); err != nil {
			log.Fatal().Err(err).Str("flag", flag).Msg("bind flag")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(verbose bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
