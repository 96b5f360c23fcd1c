// Package prometheus renders goAuthClient counters and latency histograms in
// Prometheus text exposition format.
//
// Nothing is registered globally; callers mount [Exporter.Handler] wherever
// they serve metrics. Series are named goauthclient_*.
package prometheus
