package task

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition reports a status move the state machine forbids.
var ErrInvalidTransition = errors.New("invalid status transition")

type runTransition struct {
	from RunStatus
	to   RunStatus
}

var runTransitions = map[runTransition]struct{}{
	{RunPending, RunRunning}:   {},
	{RunPending, RunCancelled}: {},
	{RunPending, RunFailed}:    {},
	{RunRunning, RunSucceeded}: {},
	{RunRunning, RunFailed}:    {},
	{RunRunning, RunRetrying}:  {},
	{RunRunning, RunCancelled}: {},
	// Lease expired with the worker gone; the run is redelivered.
	{RunRunning, RunPending}: {},
}

type branchTransition struct {
	from BranchStatus
	to   BranchStatus
}

var branchTransitions = map[branchTransition]struct{}{
	{BranchPending, BranchRunning}:    {},
	{BranchPending, BranchFailed}:     {},
	{BranchPending, BranchCancelled}:  {},
	{BranchRunning, BranchRunning}:    {},
	{BranchRunning, BranchRetrying}:   {},
	{BranchRunning, BranchCompleted}:  {},
	{BranchRunning, BranchFailed}:     {},
	{BranchRunning, BranchCancelled}:  {},
	{BranchRetrying, BranchRunning}:   {},
	{BranchRetrying, BranchFailed}:    {},
	{BranchRetrying, BranchCancelled}: {},
	// Explicit operator retry or rerun.
	{BranchFailed, BranchPending}:    {},
	{BranchCancelled, BranchPending}: {},
	{BranchCompleted, BranchPending}: {},
}

// ValidRunTransition returns ErrInvalidTransition when a run may not move
// from one status to another.
func ValidRunTransition(from, to RunStatus) error {
	if _, ok := runTransitions[runTransition{from, to}]; ok {
		return nil
	}
	return fmt.Errorf("%w: stage run %s -> %s", ErrInvalidTransition, from, to)
}

// ValidBranchTransition returns ErrInvalidTransition when a branch may not
// move from one status to another.
func ValidBranchTransition(from, to BranchStatus) error {
	if _, ok := branchTransitions[branchTransition{from, to}]; ok {
		return nil
	}
	return fmt.Errorf("%w: branch %s -> %s", ErrInvalidTransition, from, to)
}

// DeriveStatus computes a task's overall status from the shared
// pseudo-branch and the per-language branches. The result depends only on
// the multiset of statuses, never on their order. A task turns partially
// failed as soon as one branch completed and another failed or was
// cancelled, even while siblings are still running.
func DeriveStatus(shared BranchStatus, branches []BranchStatus) TaskStatus {
	switch shared {
	case BranchFailed:
		return TaskFailed
	case BranchCancelled:
		return TaskCancelled
	}
	if len(branches) == 0 {
		if shared == BranchPending {
			return TaskPending
		}
		return TaskRunning
	}

	var completed, failed, cancelled, active int
	for _, status := range branches {
		switch status {
		case BranchCompleted:
			completed++
		case BranchFailed:
			failed++
		case BranchCancelled:
			cancelled++
		default:
			active++
		}
	}

	switch {
	case completed > 0 && failed+cancelled > 0:
		return TaskPartiallyFailed
	case active > 0:
		return TaskRunning
	case completed == len(branches):
		return TaskCompleted
	case failed > 0:
		return TaskFailed
	default:
		return TaskCancelled
	}
}

// Settled reports whether every branch of a task has stopped. A failed or
// cancelled shared branch settles the task before any language branch
// exists.
func Settled(shared BranchStatus, branches []BranchStatus) bool {
	if shared == BranchFailed || shared == BranchCancelled {
		return true
	}
	if len(branches) == 0 {
		return false
	}
	for _, status := range branches {
		if !status.IsTerminal() {
			return false
		}
	}
	return true
}
