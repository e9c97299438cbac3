package internaldefs

import "github.com/MrEthical07/stackauth"

// CounterDef names one engine counter.
type CounterDef struct {
	ID   stackauth.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram.
type HistogramDef struct {
	ID   stackauth.MetricID
	Name string
	Help string
}

// CounterDefs lists every counter in MetricID order.
var CounterDefs = []CounterDef{
	{ID: stackauth.MetricRegisterSuccess, Name: "stackauth_register_success_total", Help: "Accounts registered."},
	{ID: stackauth.MetricRegisterDuplicate, Name: "stackauth_register_duplicate_total", Help: "Registrations rejected because the email is taken."},
	{ID: stackauth.MetricRegisterRejected, Name: "stackauth_register_rejected_total", Help: "Registrations rejected by validation or the password policy."},
	{ID: stackauth.MetricLoginSuccess, Name: "stackauth_login_success_total", Help: "Successful logins."},
	{ID: stackauth.MetricLoginFailure, Name: "stackauth_login_failure_total", Help: "Failed logins."},
	{ID: stackauth.MetricRateLimitHit, Name: "stackauth_rate_limit_hit_total", Help: "Attempts denied by a limiter."},
	{ID: stackauth.MetricSessionCreated, Name: "stackauth_session_created_total", Help: "Sessions created."},
	{ID: stackauth.MetricSessionInvalidated, Name: "stackauth_session_invalidated_total", Help: "Sessions invalidated."},
	{ID: stackauth.MetricLogout, Name: "stackauth_logout_total", Help: "Single-session logouts."},
	{ID: stackauth.MetricLogoutAll, Name: "stackauth_logout_all_total", Help: "Logouts from every session."},
	{ID: stackauth.MetricRefreshSuccess, Name: "stackauth_refresh_success_total", Help: "Access tokens refreshed."},
	{ID: stackauth.MetricRefreshFailure, Name: "stackauth_refresh_failure_total", Help: "Rejected refresh attempts."},
	{ID: stackauth.MetricEmailVerificationRequest, Name: "stackauth_email_verification_request_total", Help: "Verification tokens issued on request."},
	{ID: stackauth.MetricEmailVerificationSuccess, Name: "stackauth_email_verification_success_total", Help: "Emails verified."},
	{ID: stackauth.MetricEmailVerificationFailure, Name: "stackauth_email_verification_failure_total", Help: "Rejected verification tokens."},
	{ID: stackauth.MetricPasswordResetRequest, Name: "stackauth_password_reset_request_total", Help: "Password reset requests."},
	{ID: stackauth.MetricPasswordResetSuccess, Name: "stackauth_password_reset_success_total", Help: "Passwords reset."},
	{ID: stackauth.MetricPasswordResetFailure, Name: "stackauth_password_reset_failure_total", Help: "Rejected password resets."},
	{ID: stackauth.MetricPasswordChangeSuccess, Name: "stackauth_password_change_success_total", Help: "Passwords changed."},
	{ID: stackauth.MetricPasswordChangeFailure, Name: "stackauth_password_change_failure_total", Help: "Rejected password changes."},
	{ID: stackauth.MetricPasswordRehash, Name: "stackauth_password_rehash_total", Help: "Stored hashes upgraded on login."},
	{ID: stackauth.MetricIdentityResolved, Name: "stackauth_identity_resolved_total", Help: "Access tokens resolved to an identity."},
	{ID: stackauth.MetricIdentityRejected, Name: "stackauth_identity_rejected_total", Help: "Access tokens rejected."},
}

// HistogramDefs lists every latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: stackauth.MetricResolveLatency, Name: "stackauth_resolve_latency_seconds", Help: "Latency of access token resolution."},
}

// HistogramBounds are the finite upper bounds, in seconds, of the engine's
// eight latency buckets. The last bucket is +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// AuditDroppedName is the counter of audit events lost to backpressure.
const (
	AuditDroppedName = "stackauth_audit_dropped_total"
	AuditDroppedHelp = "Audit events dropped because the dispatcher buffer was full."
)

// NormalizeBuckets copies raw into a fixed eight-bucket array, padding
// with zeros.
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
