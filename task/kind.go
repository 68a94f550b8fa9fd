package task

// Kind identifies what a Step does.
type Kind int

const (
	KindFindUser Kind = iota
	KindCreateUser
	KindUpdateUser
	KindDeleteUser
	KindResendInvitation
	KindFindGroup
	KindUpdateGroup
)

// Kinds lists every step kind in declaration order.
var Kinds = []Kind{
	KindFindUser,
	KindCreateUser,
	KindUpdateUser,
	KindDeleteUser,
	KindResendInvitation,
	KindFindGroup,
	KindUpdateGroup,
}

// String returns the snake_case name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindFindUser:
		return "find_user"
	case KindCreateUser:
		return "create_user"
	case KindUpdateUser:
		return "update_user"
	case KindDeleteUser:
		return "delete_user"
	case KindResendInvitation:
		return "resend_invitation"
	case KindFindGroup:
		return "find_group"
	case KindUpdateGroup:
		return "update_group"
	default:
		return "unknown"
	}
}

// Idempotency says whether repeating a step can change the outcome.
type Idempotency int

const (
	// SafeToRetry steps converge to the same state however often they run.
	SafeToRetry Idempotency = iota
	// NotRetryable steps create, delete or send something on every attempt.
	NotRetryable
)

func (i Idempotency) String() string {
	if i == SafeToRetry {
		return "safe_to_retry"
	}
	return "not_retryable"
}

// Idempotency returns the retry classification of k.
func (k Kind) Idempotency() Idempotency {
	switch k {
	case KindFindUser, KindUpdateUser, KindFindGroup, KindUpdateGroup:
		return SafeToRetry
	default:
		return NotRetryable
	}
}

// targetsGroup is true for kinds keyed by class id rather than email.
func (k Kind) targetsGroup() bool {
	return k == KindFindGroup || k == KindUpdateGroup
}
