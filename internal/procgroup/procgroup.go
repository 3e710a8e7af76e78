// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package procgroup starts worker processes in their own process group and
// terminates whole groups: SIGTERM, a grace period, then SIGKILL.
package procgroup

import (
	"errors"
	"os/exec"
	"time"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// pollInterval is how often KillGroup re-checks a group it cannot wait on.
const pollInterval = 25 * time.Millisecond

// Set configures the command to start in a new process group.
// Mandatory for KillGroup to reach the worker's children.
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates the process group led by pid. The process does not
// need to be a child of this process, so a restarted daemon can reap the
// workers of its previous incarnation. It returns ErrKillFailed if the
// group is still alive timeout after SIGKILL.
func KillGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}
	return killGroup(pid, grace, timeout)
}

// Alive reports whether a process with pid exists. A process owned by
// another user counts as alive.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return alive(pid)
}

// waitGone polls until the group of pid disappears or d elapses.
func waitGone(pid int, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		if !groupAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
}
