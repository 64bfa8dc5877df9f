package internaldefs

import (
	goRotate "github.com/MrEthical07/goRotate"
)

// CounterDef names one engine counter for exporters.
type CounterDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for exporters.
type HistogramDef struct {
	ID   goRotate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in stable order.
var CounterDefs = []CounterDef{
	{ID: goRotate.MetricLoginSuccess, Name: "gorotate_login_success_total", Help: "Families opened by login."},
	{ID: goRotate.MetricLoginFailure, Name: "gorotate_login_failure_total", Help: "Failed login issuances."},
	{ID: goRotate.MetricRefreshSuccess, Name: "gorotate_refresh_success_total", Help: "Successful rotations."},
	{ID: goRotate.MetricRefreshFailure, Name: "gorotate_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: goRotate.MetricRefreshReuseDetected, Name: "gorotate_refresh_reuse_detected_total", Help: "Consumed refresh tokens presented again."},
	{ID: goRotate.MetricRefreshRaceLost, Name: "gorotate_refresh_race_lost_total", Help: "Redemptions that lost the commit to a concurrent redemption."},
	{ID: goRotate.MetricRefreshUnknownToken, Name: "gorotate_refresh_unknown_token_total", Help: "Verified refresh tokens with no stored record."},
	{ID: goRotate.MetricFingerprintMismatch, Name: "gorotate_fingerprint_mismatch_total", Help: "Refresh tokens whose fingerprint or claims did not match the family."},
	{ID: goRotate.MetricGenerationMismatch, Name: "gorotate_generation_mismatch_total", Help: "Refresh tokens outside the generation tolerance."},
	{ID: goRotate.MetricGenerationDrift, Name: "gorotate_generation_drift_total", Help: "Refreshes accepted with generation drift inside tolerance."},
	{ID: goRotate.MetricDeviceAnomaly, Name: "gorotate_device_anomaly_total", Help: "Refreshes from a different device than the family's."},
	{ID: goRotate.MetricDeviceRejected, Name: "gorotate_device_rejected_total", Help: "Refreshes rejected by device binding enforcement."},
	{ID: goRotate.MetricRateLimited, Name: "gorotate_rate_limited_total", Help: "Requests denied by the rate limiter."},
	{ID: goRotate.MetricFamilyCreated, Name: "gorotate_family_created_total", Help: "Token families created."},
	{ID: goRotate.MetricFamilyRevoked, Name: "gorotate_family_revoked_total", Help: "Token families revoked."},
	{ID: goRotate.MetricRevokeFailure, Name: "gorotate_revoke_failure_total", Help: "Family revocations that failed at the backend."},
	{ID: goRotate.MetricLogout, Name: "gorotate_logout_total", Help: "Single-family logouts."},
	{ID: goRotate.MetricLogoutAll, Name: "gorotate_logout_all_total", Help: "Revoke-all-sessions operations."},
	{ID: goRotate.MetricSweepRuns, Name: "gorotate_sweep_runs_total", Help: "Sweeper passes."},
	{ID: goRotate.MetricSweptRecords, Name: "gorotate_swept_records_total", Help: "Refresh records removed by the sweeper."},
	{ID: goRotate.MetricSweptFamilies, Name: "gorotate_swept_families_total", Help: "Families removed by the sweeper."},
	{ID: goRotate.MetricStoreUnavailable, Name: "gorotate_store_unavailable_total", Help: "Operations failed by the storage backend."},
}

// HistogramDefs lists the exported latency histograms.
var HistogramDefs = []HistogramDef{
	{ID: goRotate.MetricRefreshLatency, Name: "gorotate_refresh_latency_seconds", Help: "Refresh latency."},
	{ID: goRotate.MetricValidateLatency, Name: "gorotate_validate_latency_seconds", Help: "Access token validation latency."},
}

// AuditDroppedName is the counter for audit events lost to backpressure.
const (
	AuditDroppedName = "gorotate_audit_dropped_total"
	AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."
)

// HistogramUpperBounds are the bucket bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names each bucket, including +Inf, for flat gauge exporters.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, padding with zeros.
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
