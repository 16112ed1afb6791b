package pacchetto

import (
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

type CORSSettings struct {
	Origins []string `mapstructure:"origins" validate:"min=1,dive,url"`
	Methods []string `mapstructure:"methods" validate:"min=1,dive,oneof=GET POST PUT DELETE OPTIONS PATCH HEAD"`
	Headers []string `mapstructure:"headers" validate:"min=1,dive,baseheader"`
}

type HTTPSettings struct {
	Port   string       `mapstructure:"port" validate:"required,numeric"`
	Prefix string       `mapstructure:"prefix" validate:"required"`
	IP     string       `mapstructure:"ip" validate:"required,ip"`
	CORS   CORSSettings `mapstructure:"cors" validate:"required"`
}

// BackendSettings points the transport client at the Campusdarpio REST API.
type BackendSettings struct {
	BaseURL          string            `mapstructure:"base-url" validate:"required,url"`
	TimeoutInSeconds int               `mapstructure:"timeout-in-seconds" validate:"required,min=1"`
	Headers          map[string]string `mapstructure:"headers"`
}

func (b BackendSettings) Timeout() time.Duration {
	return time.Duration(b.TimeoutInSeconds) * time.Second
}

const (
	RetryModeBounded = "bounded"
	RetryModeLegacy  = "legacy"
)

// RetrySettings describe the retry policy applied to every resource call.
// Mode "legacy" ignores the other fields and retries forever every second.
type RetrySettings struct {
	Mode                   string  `mapstructure:"mode" validate:"required,oneof=bounded legacy"`
	MaxAttempts            uint    `mapstructure:"max-attempts" validate:"required_if=Mode bounded"`
	InitialIntervalInMilli int     `mapstructure:"initial-interval-in-milliseconds" validate:"required,min=1"`
	Multiplier             float64 `mapstructure:"multiplier" validate:"omitempty,gte=1"`
	MaxIntervalInMilli     int     `mapstructure:"max-interval-in-milliseconds" validate:"omitempty,gtefield=InitialIntervalInMilli"`
}

type CacheSettings struct {
	StaleTimeInSeconds int `mapstructure:"stale-time-in-seconds" validate:"required,min=1"`
}

func (c CacheSettings) StaleTime() time.Duration {
	return time.Duration(c.StaleTimeInSeconds) * time.Second
}

// NatsSettings are ignored unless Enabled is set.
type NatsSettings struct {
	Enabled        bool `mapstructure:"enabled"`
	UseCredentials bool `mapstructure:"usecredentials"`
	// Only used if UseCredentials is true
	Username string `mapstructure:"username" validate:"required_if=UseCredentials true"`
	Password string `mapstructure:"password" validate:"required_if=UseCredentials true"`
	Host     string `mapstructure:"host" validate:"required_if=Enabled true"`
	Port     int    `mapstructure:"port" validate:"required_if=Enabled true"`
	// Subject prefix used for cache invalidations and order events
	Subject string `mapstructure:"subject" validate:"required_if=Enabled true"`
}

func (n *NatsSettings) GetNatsClient(name string) (*nats.Conn, error) {
	portStr := strconv.Itoa(n.Port)
	opts := []nats.Option{nats.Name(name), nats.MaxReconnects(-1)}
	if n.UseCredentials {
		opts = append(opts, nats.UserInfo(n.Username, n.Password))
	}
	return nats.Connect(n.Host+":"+portStr, opts...)
}

type AppSettings struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Env     string `mapstructure:"env"`
}

type OpenTelemetryLogSettings struct {
	TimeoutInSec  int64 `mapstructure:"timeout"`
	IntervalInSec int64 `mapstructure:"interval"`
	MaxQueueSize  int   `mapstructure:"maxqueuesize"`
	BatchSize     int   `mapstructure:"batchsize"`
}

type OpenTelemetryTraceSettings struct {
	TimeoutInSec int64   `mapstructure:"timeout"`
	MaxQueueSize int     `mapstructure:"maxqueuesize"`
	BatchSize    int     `mapstructure:"batchsize"`
	SampleRate   float64 `mapstructure:"samplerate" validate:"gte=0,lte=1"`
}

type OpenTelemetryMetricSettings struct {
	IntervalInSec int64 `mapstructure:"interval"`
	TimeoutInSec  int64 `mapstructure:"timeout"`
}

type OpenTelemetrySettings struct {
	Enabled  bool                        `mapstructure:"enabled"`
	Endpoint string                      `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Metrics  OpenTelemetryMetricSettings `mapstructure:"metrics"`
	Traces   OpenTelemetryTraceSettings  `mapstructure:"traces"`
	Logs     OpenTelemetryLogSettings    `mapstructure:"logs"`
}
