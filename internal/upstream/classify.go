// SPDX-License-Identifier: MIT

package upstream

// Action is what the controller does with a classified disconnect.
type Action int

const (
	ActionReconnect Action = iota
	ActionRemediate
	ActionTerminate
)

func (a Action) String() string {
	switch a {
	case ActionReconnect:
		return "reconnect"
	case ActionRemediate:
		return "remediate"
	case ActionTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// ErrorKind is the coarse error taxonomy shared across the controller.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRemediable
	KindTerminal
	KindValidation
	KindCapacity
)

// Classification is the policy decision for one disconnect code.
type Classification struct {
	Code   StatusCode
	Action Action
	Kind   ErrorKind

	// ShortDelay shortens the reconnect backoff to the restart delay;
	// set for codes that are an expected step of the pairing flow.
	ShortDelay bool

	// MaxAttempts bounds reconnects before promotion to terminal.
	// Zero for terminal classifications.
	MaxAttempts int

	// UserMessage is the human-readable reason delivered on terminal
	// classifications.
	UserMessage string
}

const (
	defaultMaxAttempts = 5
	restartMaxAttempts = 10
)

// classificationTable maps every known disconnect code to its policy.
// Codes absent from the table are treated as transient.
var classificationTable = map[StatusCode]Classification{
	CodeLoggedOut: {
		Code:        CodeLoggedOut,
		Action:      ActionTerminate,
		Kind:        KindTerminal,
		UserMessage: "Session logged out. Reconnect to continue.",
	},
	CodeForbidden: {
		Code:        CodeForbidden,
		Action:      ActionTerminate,
		Kind:        KindTerminal,
		UserMessage: "Account restricted by the upstream service.",
	},
	CodeTimedOut: {
		Code:        CodeTimedOut,
		Action:      ActionTerminate,
		Kind:        KindTerminal,
		UserMessage: "Pairing timed out. Request a new code and try again.",
	},
	CodeConnectionClosed: {
		Code:        CodeConnectionClosed,
		Action:      ActionReconnect,
		Kind:        KindTransient,
		MaxAttempts: defaultMaxAttempts,
	},
	CodeConnectionReplaced: {
		Code:        CodeConnectionReplaced,
		Action:      ActionTerminate,
		Kind:        KindTerminal,
		UserMessage: "Another device took over this session.",
	},
	CodeBadSession: {
		Code:        CodeBadSession,
		Action:      ActionRemediate,
		Kind:        KindRemediable,
		MaxAttempts: defaultMaxAttempts,
	},
	CodeRestartRequired: {
		Code:        CodeRestartRequired,
		Action:      ActionReconnect,
		Kind:        KindTransient,
		ShortDelay:  true,
		MaxAttempts: restartMaxAttempts,
	},
	CodeStreamErrorUnknown: {
		Code:        CodeStreamErrorUnknown,
		Action:      ActionReconnect,
		Kind:        KindTransient,
		ShortDelay:  true,
		MaxAttempts: restartMaxAttempts,
	},
}

// Classify returns the policy for an upstream disconnect code. Unknown codes
// fall back to a bounded transient reconnect.
func Classify(code StatusCode) Classification {
	if c, ok := classificationTable[code]; ok {
		return c
	}
	return Classification{
		Code:        code,
		Action:      ActionReconnect,
		Kind:        KindTransient,
		MaxAttempts: defaultMaxAttempts,
	}
}
