// Package custos defines the global logger and metric collectors.
//
// Custos is a policy-gated contract runtime kit. It provides the storage,
// clock, event and identity abstractions of a sandboxed contract host, a
// role/state/time based authorization engine built on top of them, and a
// corpus of example contracts exercising both.
package custos

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable to change the logging
// level.
const EnvLogLevel = "LLVL"

const defaultLevel = zerolog.NoLevel

func init() {
	switch os.Getenv(EnvLogLevel) {
	case "error":
		Logger = Logger.Level(zerolog.ErrorLevel)
	case "warn":
		Logger = Logger.Level(zerolog.WarnLevel)
	case "info":
		Logger = Logger.Level(zerolog.InfoLevel)
	case "debug":
		Logger = Logger.Level(zerolog.DebugLevel)
	case "trace":
		Logger = Logger.Level(zerolog.TraceLevel)
	case "":
		Logger = Logger.Level(defaultLevel)
	default:
		Logger = Logger.Level(zerolog.TraceLevel)
	}
}

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default it does not
// print anything, the level can be raised with the environment variable.
var Logger = zerolog.New(logout).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes the prometheus collectors registered by the
// packages of this module. A frontend can register them to its registry.
var PromCollectors []prometheus.Collector
