// Package otel publishes goAuthClient metrics through OpenTelemetry
// observable instruments: one Int64ObservableCounter per counter and one
// Int64ObservableGauge per histogram bucket.
//
// Callers own the MeterProvider and pass in a Meter.
package otel
