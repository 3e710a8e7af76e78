// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build unix

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"time"

	"github.com/ManuGH/artifactd/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if !groupAlive(pid) {
		return nil
	}

	// -pid targets the group; pid is the leader because of Setpgid.
	log.L().Debug().Int(log.FieldPID, pid).Msg("sending SIGTERM to process group")
	if err := signalGroup(pid, syscall.SIGTERM); errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if waitGone(pid, grace) {
		return nil
	}

	log.L().Warn().Int(log.FieldPID, pid).Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	if err := signalGroup(pid, syscall.SIGKILL); errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if waitGone(pid, timeout) {
		return nil
	}
	return ErrKillFailed
}

// signalGroup signals the group, falling back to the single pid when the
// process is not a group leader.
func signalGroup(pid int, sig syscall.Signal) error {
	err := syscall.Kill(-pid, sig)
	if err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

func groupAlive(pid int) bool {
	err := syscall.Kill(-pid, 0)
	if err == nil || errors.Is(err, syscall.EPERM) {
		return true
	}
	return alive(pid)
}

func alive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

// Kill sends sig to the process group of the command. A command that never
// started or already exited is not an error.
func Kill(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}

	if err := syscall.Kill(-pgid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return nil
		}
		return err
	}
	return nil
}
