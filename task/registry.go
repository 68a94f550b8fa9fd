package task

import (
	"errors"
	"fmt"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
)

// ErrConflictingSteps is wrapped by enqueue errors for steps whose effect
// would contradict a step already in the run: anything after a delete of the
// same email, or a second create of the same email.
var ErrConflictingSteps = errors.New("conflicting steps")

// FindUser enqueues a lookup of the stored profile for email.
func (o *Orchestrator) FindUser(email string, opts ...StepOption) error {
	key, err := roster.NormalizeEmail(email)
	if err != nil {
		return err
	}
	return o.enqueue(Step{kind: KindFindUser, key: key}, opts)
}

// CreateUser enqueues creation of an account in the identity provider and the
// store, its class memberships and its invitation.
func (o *Orchestrator) CreateUser(account roster.NewAccount, opts ...StepOption) error {
	acct, err := account.Normalize()
	if err != nil {
		return err
	}
	return o.enqueue(Step{kind: KindCreateUser, key: acct.Email, account: acct}, opts)
}

// UpdateUser enqueues a partial update of the profile for email. A role
// change is also granted in the identity provider.
func (o *Orchestrator) UpdateUser(email string, update roster.ProfileUpdate, opts ...StepOption) error {
	key, err := roster.NormalizeEmail(email)
	if err != nil {
		return err
	}
	if update.IsEmpty() {
		return apperr.BadRequest(fmt.Sprintf("update for %s changes nothing", key))
	}
	if update.Role != nil && !update.Role.Valid() {
		return apperr.BadRequest(fmt.Sprintf("invalid role %q", *update.Role))
	}
	if update.Name != nil && *update.Name == "" {
		return apperr.BadRequest("name cannot be empty")
	}
	return o.enqueue(Step{kind: KindUpdateUser, key: key, profileUpdate: update}, opts)
}

// DeleteUser enqueues removal of the account for email from its classes, the
// store and the identity provider.
func (o *Orchestrator) DeleteUser(email string, opts ...StepOption) error {
	key, err := roster.NormalizeEmail(email)
	if err != nil {
		return err
	}
	return o.enqueue(Step{kind: KindDeleteUser, key: key}, opts)
}

// ResendInvitation enqueues a new invitation for an existing account.
func (o *Orchestrator) ResendInvitation(email string, opts ...StepOption) error {
	key, err := roster.NormalizeEmail(email)
	if err != nil {
		return err
	}
	return o.enqueue(Step{kind: KindResendInvitation, key: key}, opts)
}

// FindGroup enqueues a lookup of the class id.
func (o *Orchestrator) FindGroup(id string, opts ...StepOption) error {
	key, err := roster.NormalizeGroupID(id)
	if err != nil {
		return err
	}
	return o.enqueue(Step{kind: KindFindGroup, key: key}, opts)
}

// UpdateGroup enqueues a membership change for the class id.
func (o *Orchestrator) UpdateGroup(id string, update roster.GroupUpdate, opts ...StepOption) error {
	key, err := roster.NormalizeGroupID(id)
	if err != nil {
		return err
	}
	if update.IsEmpty() {
		return apperr.BadRequest(fmt.Sprintf("update for class %s changes nothing", key))
	}
	return o.enqueue(Step{kind: KindUpdateGroup, key: key, groupUpdate: update}, opts)
}

// enqueue checks the run state and the conflict rules, then appends step.
func (o *Orchestrator) enqueue(step Step, opts []StepOption) error {
	for _, opt := range opts {
		opt(&step)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != Building {
		return ErrRunStarted
	}

	if !step.kind.targetsGroup() {
		if o.deleting[step.key] {
			return apperr.BadRequest(fmt.Sprintf("%s is already scheduled for deletion", step.key)).
				WithCause(ErrConflictingSteps)
		}
		switch step.kind {
		case KindCreateUser:
			if o.creating[step.key] {
				return apperr.BadRequest(fmt.Sprintf("%s is already scheduled for creation", step.key)).
					WithCause(ErrConflictingSteps)
			}
			o.creating[step.key] = true
		case KindDeleteUser:
			o.deleting[step.key] = true
		}
	}

	step.index = len(o.steps)
	o.steps = append(o.steps, step)
	o.logger.Debug("step enqueued", "step", step.ID(), "fatal", step.fatal)
	return nil
}
