package internaldefs

import (
	goAuthClient "github.com/MrEthical07/goAuthClient"
)

// CounterDef names one counter for exporters.
type CounterDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

// HistogramDef names one latency histogram for exporters.
type HistogramDef struct {
	ID   goAuthClient.MetricID
	Name string
	Help string
}

var CounterDefs = []CounterDef{
	{ID: goAuthClient.MetricRequestSuccess, Name: "goauthclient_request_success_total", Help: "Requests that ended with a 2xx/3xx response."},
	{ID: goAuthClient.MetricRequestClientError, Name: "goauthclient_request_client_error_total", Help: "Requests that ended with a 4xx response."},
	{ID: goAuthClient.MetricRequestServerError, Name: "goauthclient_request_server_error_total", Help: "Requests that ended with a 5xx response."},
	{ID: goAuthClient.MetricRequestNetworkError, Name: "goauthclient_request_network_error_total", Help: "Requests that ended without any response."},
	{ID: goAuthClient.MetricNetworkRetry, Name: "goauthclient_network_retry_total", Help: "GET attempts after a network failure."},
	{ID: goAuthClient.MetricUnauthorized, Name: "goauthclient_unauthorized_total", Help: "401 responses that triggered a refresh."},
	{ID: goAuthClient.MetricReplay, Name: "goauthclient_replay_total", Help: "Requests replayed after a refresh."},
	{ID: goAuthClient.MetricReplayUnauthorized, Name: "goauthclient_replay_unauthorized_total", Help: "Replayed requests refused again with 401."},
	{ID: goAuthClient.MetricProactiveRefresh, Name: "goauthclient_proactive_refresh_total", Help: "Refreshes started before use because exp was near."},
	{ID: goAuthClient.MetricRefreshSuccess, Name: "goauthclient_refresh_success_total", Help: "Refresh exchanges that stored a new access token."},
	{ID: goAuthClient.MetricRefreshFailure, Name: "goauthclient_refresh_failure_total", Help: "Refresh exchanges that failed transiently."},
	{ID: goAuthClient.MetricRefreshRejected, Name: "goauthclient_refresh_rejected_total", Help: "Refresh exchanges refused by the server."},
	{ID: goAuthClient.MetricAuthExpired, Name: "goauthclient_auth_expired_total", Help: "Sessions ended by an expired or rejected credential."},
	{ID: goAuthClient.MetricLoginSuccess, Name: "goauthclient_login_success_total", Help: "Successful logins."},
	{ID: goAuthClient.MetricLoginFailure, Name: "goauthclient_login_failure_total", Help: "Failed logins."},
	{ID: goAuthClient.MetricLogout, Name: "goauthclient_logout_total", Help: "Local logouts."},
	{ID: goAuthClient.MetricLogoutRemoteFailure, Name: "goauthclient_logout_remote_failure_total", Help: "Logouts whose server notification failed."},
	{ID: goAuthClient.MetricProfileUpdate, Name: "goauthclient_profile_update_total", Help: "Successful profile updates."},
	{ID: goAuthClient.MetricStorageFailure, Name: "goauthclient_storage_failure_total", Help: "Token store operations that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: goAuthClient.MetricRequestLatency, Name: "goauthclient_request_latency_seconds", Help: "End-to-end request latency including refresh and replay."},
	{ID: goAuthClient.MetricRefreshLatency, Name: "goauthclient_refresh_latency_seconds", Help: "Refresh exchange latency."},
}

// HistogramBounds are the le labels matching goAuthClient bucket edges.
var HistogramBounds = []string{
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"1",
	"2.5",
	"5",
	"+Inf",
}

// HistogramBoundSuffix is HistogramBounds made safe for instrument names.
var HistogramBoundSuffix = []string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling short input.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
