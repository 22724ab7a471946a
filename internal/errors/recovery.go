package errors

// Operation identifies which engine step produced an error.
type Operation string

const (
	OpSearch  Operation = "search"
	OpReserve Operation = "reserve"
	OpPay     Operation = "pay"
	OpProbe   Operation = "probe"
	OpList    Operation = "list"
)

// Action is what the caller should do after an error.
type Action int

const (
	// ActionContinue means there was no error.
	ActionContinue Action = iota
	// ActionReauthenticate restores the session, then restarts the step
	// without counting it as an attempt.
	ActionReauthenticate
	// ActionIgnore treats the outcome as an empty, successful result.
	ActionIgnore
	// ActionRetry counts the error against the consecutive error cap and retries after a delay.
	ActionRetry
	// ActionSkip drops the current candidate and moves on to the next one.
	ActionSkip
	// ActionAbort ends the current operation and reports the error.
	ActionAbort
	// ActionStop ends the whole run without error reporting.
	ActionStop
)

var actionNames = [...]string{"continue", "reauthenticate", "ignore", "retry", "skip", "abort", "stop"}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return "unknown"
}

// Decide returns the recovery action for an error kind raised by op.
func Decide(op Operation, kind Kind) Action {
	switch kind {
	case KindNone:
		return ActionContinue
	case KindCancelled:
		return ActionStop
	case KindFatal, KindPaymentDataIncomplete, KindCardIncomplete, KindPaymentFailed:
		return ActionAbort
	case KindSessionExpired:
		if op == OpPay {
			return ActionAbort
		}
		return ActionReauthenticate
	}

	switch op {
	case OpSearch:
		if kind == KindNoData {
			return ActionIgnore
		}
		return ActionRetry
	case OpReserve:
		return ActionSkip
	case OpList:
		if kind == KindNoData {
			return ActionIgnore
		}
		return ActionAbort
	case OpProbe:
		return ActionIgnore
	default:
		return ActionAbort
	}
}

// Resolve classifies err and decides the action in one step.
func Resolve(op Operation, err error) (Kind, Action) {
	kind := Classify(err)
	return kind, Decide(op, kind)
}
