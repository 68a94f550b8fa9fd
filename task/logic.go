package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/nomis52/roster/apperr"
	"github.com/nomis52/roster/roster"
)

// stepOutput is what a single attempt of a step produced.
type stepOutput struct {
	profile   *roster.Profile
	group     *roster.Group
	committed bool
	err       error
}

func failed(err error) stepOutput {
	return stepOutput{err: err}
}

// apply performs one attempt of step against the gateways.
func (o *Orchestrator) apply(ctx context.Context, step Step, logger *slog.Logger) stepOutput {
	switch step.kind {
	case KindFindUser:
		return o.findUser(ctx, step.key)
	case KindCreateUser:
		return o.createUser(ctx, step.account, logger)
	case KindUpdateUser:
		return o.updateUser(ctx, step.key, step.profileUpdate, logger)
	case KindDeleteUser:
		return o.deleteUser(ctx, step.key, logger)
	case KindResendInvitation:
		return o.resendInvitation(ctx, step.key)
	case KindFindGroup:
		return o.findGroup(ctx, step.key)
	case KindUpdateGroup:
		return o.updateGroup(ctx, step.key, step.groupUpdate)
	default:
		return failed(fmt.Errorf("unknown step kind %d", step.kind))
	}
}

func userNotFound(email string, err error) error {
	return apperr.NotFound("User not found", fmt.Sprintf("no account for %s", email)).WithCause(err)
}

func classNotFound(id string, err error) error {
	return apperr.NotFound("Class not found", fmt.Sprintf("no class with id %s", id)).WithCause(err)
}

func (o *Orchestrator) findUser(ctx context.Context, email string) stepOutput {
	p, err := o.store.GetUserByEmail(ctx, email)
	if errors.Is(err, roster.ErrNotFound) {
		return failed(userNotFound(email, err))
	}
	if err != nil {
		return failed(fmt.Errorf("getting profile for %s: %w", email, err))
	}
	return stepOutput{profile: &p}
}

func (o *Orchestrator) createUser(ctx context.Context, acct roster.NewAccount, logger *slog.Logger) stepOutput {
	_, err := o.identity.FindByEmail(ctx, acct.Email)
	if err == nil {
		return failed(apperr.Conflict("User already exists", fmt.Sprintf("an account for %s already exists", acct.Email)))
	}
	if !errors.Is(err, roster.ErrNotFound) {
		return failed(fmt.Errorf("looking up %s in identity provider: %w", acct.Email, err))
	}

	created, err := o.identity.Create(ctx, acct)
	if err != nil {
		return failed(fmt.Errorf("creating identity account for %s: %w", acct.Email, err))
	}

	stored, err := o.store.CreateUser(ctx, roster.Profile{
		ID:                created.ID,
		Email:             acct.Email,
		Name:              acct.Name,
		Role:              acct.Role,
		EnrolledClassID:   acct.EnrolledClassID,
		TeachingClassIDs:  acct.TeachingClassIDs,
		AvailableModules:  acct.AvailableModules,
		AccountExpiration: acct.AccountExpiration,
	})
	if err != nil {
		logger.Warn("identity account created without a stored profile, not reverted",
			"user_id", created.ID, "error", err)
		return failed(fmt.Errorf("storing profile for %s: %w", acct.Email, err))
	}
	out := stepOutput{profile: &stored, committed: true}

	if acct.EnrolledClassID != "" {
		if err := o.addMember(ctx, acct.EnrolledClassID, roster.GroupUpdate{AddStudents: []string{stored.ID}}, logger); err != nil {
			logger.Warn("profile committed but class membership failed, not reverted",
				"class_id", acct.EnrolledClassID, "error", err)
			out.err = err
			return out
		}
	}
	for _, classID := range acct.TeachingClassIDs {
		if err := o.addMember(ctx, classID, roster.GroupUpdate{AddTeachers: []string{stored.ID}}, logger); err != nil {
			logger.Warn("profile committed but class membership failed, not reverted",
				"class_id", classID, "error", err)
			out.err = err
			return out
		}
	}

	if err := o.identity.SendInvitation(ctx, stored.Name, stored.Email); err != nil {
		logger.Warn("profile committed but invitation failed, not reverted", "error", err)
		out.err = fmt.Errorf("sending invitation to %s: %w", stored.Email, err)
		return out
	}
	return out
}

// changeMembership writes one class membership change and then waits the
// KindUpdateGroup delay, success or failure.
func (o *Orchestrator) changeMembership(ctx context.Context, classID string, update roster.GroupUpdate, logger *slog.Logger) error {
	_, err := o.store.UpdateGroup(ctx, classID, update)
	o.pace(KindUpdateGroup, logger)
	return err
}

func (o *Orchestrator) addMember(ctx context.Context, classID string, update roster.GroupUpdate, logger *slog.Logger) error {
	err := o.changeMembership(ctx, classID, update, logger)
	if errors.Is(err, roster.ErrNotFound) {
		return classNotFound(classID, err)
	}
	if err != nil {
		return fmt.Errorf("updating class %s: %w", classID, err)
	}
	return nil
}

// membershipChange is one class write needed to move a user between classes.
type membershipChange struct {
	classID string
	update  roster.GroupUpdate
	removal bool
}

// membershipChanges lists the removals and then the additions that bring
// class membership from before's classes to after's.
func membershipChanges(before, after roster.Profile) []membershipChange {
	var changes []membershipChange
	if before.EnrolledClassID != "" && before.EnrolledClassID != after.EnrolledClassID {
		changes = append(changes, membershipChange{
			classID: before.EnrolledClassID,
			update:  roster.GroupUpdate{RemoveStudents: []string{before.ID}},
			removal: true,
		})
	}
	for _, id := range before.TeachingClassIDs {
		if !slices.Contains(after.TeachingClassIDs, id) {
			changes = append(changes, membershipChange{
				classID: id,
				update:  roster.GroupUpdate{RemoveTeachers: []string{before.ID}},
				removal: true,
			})
		}
	}
	if after.EnrolledClassID != "" && after.EnrolledClassID != before.EnrolledClassID {
		changes = append(changes, membershipChange{
			classID: after.EnrolledClassID,
			update:  roster.GroupUpdate{AddStudents: []string{after.ID}},
		})
	}
	for _, id := range after.TeachingClassIDs {
		if !slices.Contains(before.TeachingClassIDs, id) {
			changes = append(changes, membershipChange{
				classID: id,
				update:  roster.GroupUpdate{AddTeachers: []string{after.ID}},
			})
		}
	}
	return changes
}

// moveClasses applies membershipChanges. Removal from a class that no longer
// exists is not an error.
func (o *Orchestrator) moveClasses(ctx context.Context, before, after roster.Profile, logger *slog.Logger) error {
	for _, c := range membershipChanges(before, after) {
		if !c.removal {
			if err := o.addMember(ctx, c.classID, c.update, logger); err != nil {
				return err
			}
			continue
		}
		err := o.changeMembership(ctx, c.classID, c.update, logger)
		if errors.Is(err, roster.ErrNotFound) {
			logger.Debug("class already gone", "class_id", c.classID)
			continue
		}
		if err != nil {
			return fmt.Errorf("removing %s from class %s: %w", before.Email, c.classID, err)
		}
	}
	return nil
}

func (o *Orchestrator) updateUser(ctx context.Context, email string, update roster.ProfileUpdate, logger *slog.Logger) stepOutput {
	var before roster.Profile
	if update.ChangesClasses() {
		p, err := o.store.GetUserByEmail(ctx, email)
		if errors.Is(err, roster.ErrNotFound) {
			return failed(userNotFound(email, err))
		}
		if err != nil {
			return failed(fmt.Errorf("getting profile for %s: %w", email, err))
		}
		before = p
	}

	p, err := o.store.UpdateUserByEmail(ctx, email, update)
	if errors.Is(err, roster.ErrNotFound) {
		return failed(userNotFound(email, err))
	}
	if err != nil {
		return failed(fmt.Errorf("updating profile for %s: %w", email, err))
	}
	out := stepOutput{profile: &p, committed: true}

	if update.ChangesClasses() {
		if err := o.moveClasses(ctx, before, p, logger); err != nil {
			logger.Warn("profile updated but class membership failed, not reverted", "error", err)
			out.err = err
			return out
		}
	}

	if update.Role == nil {
		return out
	}
	roles, err := o.identity.ListRoles(ctx, p.ID)
	if err != nil {
		logger.Warn("profile updated but role check failed, not reverted", "error", err)
		out.err = fmt.Errorf("listing roles for %s: %w", email, err)
		return out
	}
	if slices.Contains(roles, *update.Role) {
		return out
	}
	if err := o.identity.AssignRole(ctx, p.ID, *update.Role); err != nil {
		logger.Warn("profile updated but role assignment failed, not reverted", "role", *update.Role, "error", err)
		out.err = fmt.Errorf("assigning role %s to %s: %w", *update.Role, email, err)
		return out
	}
	return out
}

func (o *Orchestrator) deleteUser(ctx context.Context, email string, logger *slog.Logger) stepOutput {
	p, err := o.store.GetUserByEmail(ctx, email)
	if errors.Is(err, roster.ErrNotFound) {
		return failed(userNotFound(email, err))
	}
	if err != nil {
		return failed(fmt.Errorf("getting profile for %s: %w", email, err))
	}
	out := stepOutput{profile: &p}

	for _, classID := range p.ClassIDs() {
		err := o.changeMembership(ctx, classID, roster.GroupUpdate{
			RemoveTeachers: []string{p.ID},
			RemoveStudents: []string{p.ID},
		}, logger)
		if errors.Is(err, roster.ErrNotFound) {
			logger.Debug("class already gone", "class_id", classID)
			continue
		}
		if err != nil {
			if out.committed {
				logger.Warn("memberships partially removed, not reverted", "class_id", classID, "error", err)
			}
			out.err = fmt.Errorf("removing %s from class %s: %w", email, classID, err)
			return out
		}
		out.committed = true
	}

	if err := o.store.DeleteUserByEmail(ctx, email); err != nil {
		if out.committed {
			logger.Warn("memberships removed but profile delete failed, not reverted", "error", err)
		}
		out.err = fmt.Errorf("deleting profile for %s: %w", email, err)
		return out
	}
	out.committed = true

	if err := o.identity.Delete(ctx, p.ID); err != nil && !errors.Is(err, roster.ErrNotFound) {
		logger.Warn("profile deleted but identity account remains, not reverted", "user_id", p.ID, "error", err)
		out.err = fmt.Errorf("deleting identity account for %s: %w", email, err)
		return out
	}
	return out
}

func (o *Orchestrator) resendInvitation(ctx context.Context, email string) stepOutput {
	p, err := o.identity.FindByEmail(ctx, email)
	if errors.Is(err, roster.ErrNotFound) {
		return failed(userNotFound(email, err))
	}
	if err != nil {
		return failed(fmt.Errorf("looking up %s in identity provider: %w", email, err))
	}
	if err := o.identity.SendInvitation(ctx, p.Name, p.Email); err != nil {
		return failed(fmt.Errorf("sending invitation to %s: %w", email, err))
	}
	return stepOutput{profile: &p}
}

func (o *Orchestrator) findGroup(ctx context.Context, id string) stepOutput {
	g, err := o.store.GetGroup(ctx, id)
	if errors.Is(err, roster.ErrNotFound) {
		return failed(classNotFound(id, err))
	}
	if err != nil {
		return failed(fmt.Errorf("getting class %s: %w", id, err))
	}
	return stepOutput{group: &g}
}

func (o *Orchestrator) updateGroup(ctx context.Context, id string, update roster.GroupUpdate) stepOutput {
	g, err := o.store.UpdateGroup(ctx, id, update)
	if errors.Is(err, roster.ErrNotFound) {
		return failed(classNotFound(id, err))
	}
	if err != nil {
		return failed(fmt.Errorf("updating class %s: %w", id, err))
	}
	return stepOutput{group: &g}
}
