// SPDX-License-Identifier: MIT

package orchestrator

import "github.com/ManuGH/playq/internal/fault"

// userMessage maps a classified failure to the short reply the front-end
// shows the user. Retryable kinds have already been through the retry
// executor by the time they land here.
func userMessage(err error) string {
	switch fault.KindOf(err) {
	case fault.KindValidation:
		return "that request doesn't look valid"
	case fault.KindNotFound:
		return "no matching track found"
	case fault.KindPermission:
		return "the music service rejected our credentials"
	case fault.KindBackendDenied:
		return "playback is misconfigured, please contact the operator"
	case fault.KindRateLimit, fault.KindNetwork, fault.KindRemotePeer,
		fault.KindBackendThrottled, fault.KindBackend:
		return "music service temporarily unavailable, try again"
	default:
		return "something went wrong, try again"
	}
}
