// Package task runs ordered, multi-step roster operations against the
// identity provider and the store.
//
// # Building a run
//
// An Orchestrator holds exactly one run. The caller enqueues steps with one
// method per operation, then calls Run once:
//
//	o := task.NewOrchestrator(identity, store, task.WithLogger(logger))
//	if err := o.CreateUser(account); err != nil {
//		return err // malformed input, nothing was called
//	}
//	if err := o.UpdateGroup("class-7a", roster.GroupUpdate{AddTeachers: []string{id}}); err != nil {
//		return err
//	}
//	o.Run(ctx)
//	profile, found, err := o.GetSingleUser(account.Email)
//
// Enqueue methods validate their own input and never perform I/O. Once Run
// has been called the run is immutable and further enqueues return
// ErrRunStarted.
//
// # Execution
//
// Steps execute one at a time in enqueue order on the calling goroutine. A
// failing step does not stop the run unless it was enqueued with Fatal, in
// which case every later step is recorded as Skipped. Each step ends in a
// StepResult; successful steps also write their entity into the result index
// keyed by email or class id, where GetSingleUser and GetGroup read it.
//
// Step kinds that call the rate-limited identity provider wait a minimum
// delay after every call, whether it succeeded or not (see Pacing). Class
// membership writes made inside CreateUser, UpdateUser and DeleteUser wait
// the UpdateGroup delay after each class.
//
// An UpdateUser that sets the enrolled class or the teaching classes also
// moves the user's class memberships to match the updated profile.
//
// # Partial failure
//
// Nothing is rolled back. When a step commits a store mutation and a later
// call in the same step fails, the StepResult is a failure with Committed
// set and a warning is logged. Operators record reversals through the audit
// package.
package task
