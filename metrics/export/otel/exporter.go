package otel

import (
	"context"
	"errors"
	"fmt"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *goAuthClient.Session.
type MetricsSource interface {
	MetricsSnapshot() goAuthClient.MetricsSnapshot
	EventsDropped() uint64
}

// reading is what one collection pass sees.
type reading struct {
	snap       goAuthClient.MetricsSnapshot
	dropped    uint64
	cumulative map[goAuthClient.MetricID][8]uint64
}

// series pairs an instrument with the value it reports.
type series struct {
	instrument metric.Int64Observable
	value      func(*reading) uint64
}

// Exporter publishes session metrics through observable instruments. Each
// collection takes exactly one snapshot.
type Exporter struct {
	source       MetricsSource
	series       []series
	registration metric.Registration
}

func NewExporter(meter metric.Meter, source MetricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		if err := e.counter(meter, def.Name, def.Help, func(r *reading) uint64 { return r.snap.Counters[id] }); err != nil {
			return nil, err
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			if err := e.gauge(meter, name, "Cumulative histogram bucket count.", func(r *reading) uint64 { return r.cumulative[id][i] }); err != nil {
				return nil, err
			}
		}
		last := len(internaldefs.HistogramBoundSuffix) - 1
		if err := e.gauge(meter, def.Name+"_count", def.Help, func(r *reading) uint64 { return r.cumulative[id][last] }); err != nil {
			return nil, err
		}
	}

	if err := e.counter(meter, "goauthclient_events_dropped_total",
		"Session events dropped because the dispatcher buffer was full.",
		func(r *reading) uint64 { return r.dropped }); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, len(e.series))
	for i, s := range e.series {
		observables[i] = s.instrument
	}
	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *Exporter) counter(meter metric.Meter, name, help string, value func(*reading) uint64) error {
	ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("counter %s: %w", name, err)
	}
	e.series = append(e.series, series{instrument: ins, value: value})
	return nil
}

func (e *Exporter) gauge(meter metric.Meter, name, help string, value func(*reading) uint64) error {
	ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("gauge %s: %w", name, err)
	}
	e.series = append(e.series, series{instrument: ins, value: value})
	return nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	r := &reading{
		snap:       e.source.MetricsSnapshot(),
		dropped:    e.source.EventsDropped(),
		cumulative: make(map[goAuthClient.MetricID][8]uint64, len(internaldefs.HistogramDefs)),
	}
	for _, def := range internaldefs.HistogramDefs {
		r.cumulative[def.ID] = internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(r.snap.Histograms[def.ID]))
	}
	for _, s := range e.series {
		o.ObserveInt64(s.instrument, int64(s.value(r)))
	}
	return nil
}

// Close unregisters the callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
