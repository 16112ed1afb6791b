package main

import (
	_ "embed"

	"github.com/taldoflemis/campusdarpio/pacchetto"
)

//go:embed base.yaml
var baseConfig []byte

type Settings struct {
	App           pacchetto.AppSettings           `mapstructure:"app" validate:"required"`
	Backend       pacchetto.BackendSettings       `mapstructure:"backend" validate:"required"`
	Retry         pacchetto.RetrySettings         `mapstructure:"retry" validate:"required"`
	Nats          pacchetto.NatsSettings          `mapstructure:"nats"`
	OpenTelemetry pacchetto.OpenTelemetrySettings `mapstructure:"opentelemetry" validate:"required"`
}

func LoadConfig() (*Settings, error) {
	return pacchetto.LoadConfig[Settings]("RELATORIO", baseConfig)
}
