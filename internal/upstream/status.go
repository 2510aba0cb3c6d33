// SPDX-License-Identifier: MIT

package upstream

import "strconv"

// StatusCode is the opaque numeric code the upstream attaches to a
// disconnect. The controller never branches on raw codes outside Classify.
type StatusCode int

const (
	CodeNone               StatusCode = 0
	CodeLoggedOut          StatusCode = 401
	CodeForbidden          StatusCode = 403
	CodeTimedOut           StatusCode = 408
	CodeConnectionClosed   StatusCode = 428
	CodeConnectionReplaced StatusCode = 440
	CodeBadSession         StatusCode = 500
	CodeRestartRequired    StatusCode = 515
	CodeStreamErrorUnknown StatusCode = 516
)

func (c StatusCode) String() string {
	switch c {
	case CodeNone:
		return "none"
	case CodeLoggedOut:
		return "logged_out"
	case CodeForbidden:
		return "forbidden"
	case CodeTimedOut:
		return "timed_out"
	case CodeConnectionClosed:
		return "connection_closed"
	case CodeConnectionReplaced:
		return "connection_replaced"
	case CodeBadSession:
		return "bad_session"
	case CodeRestartRequired:
		return "restart_required"
	case CodeStreamErrorUnknown:
		return "stream_error_unknown"
	default:
		return strconv.Itoa(int(c))
	}
}
