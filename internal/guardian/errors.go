package guardian

import "net/http"

// Error kinds surfaced by the inbound pipeline. These strings are the
// wire contract: clients receive them verbatim in the error body and
// the audit log records them as reasons.
const (
	KindInvalidJSON          = "invalid_json"
	KindChannelNotConfigured = "channel_not_configured"
	KindInvalidSignature     = "invalid_signature"
	KindReplayDetected       = "replay_detected"
	KindRateLimited          = "rate_limited"
	KindAssistantUnavailable = "assistant_unavailable"
	KindNotFound             = "not_found"
)

// httpStatusFor maps an error kind to its response status. Payload
// validation kinds (`<field>_missing`) fall through to 400.
func httpStatusFor(kind string) int {
	switch kind {
	case KindChannelNotConfigured, KindInvalidSignature:
		return http.StatusForbidden
	case KindReplayDetected:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindAssistantUnavailable:
		return http.StatusBadGateway
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusBadRequest
	}
}
