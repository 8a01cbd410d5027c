// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ManuGH/playstate/internal/backup"
	"github.com/ManuGH/playstate/internal/clock"
	"github.com/ManuGH/playstate/internal/recovery"
)

// RecoveryChecker reports whether startup recovery has run and how it went.
type RecoveryChecker struct {
	decision func() (recovery.ResumeDecision, error)
}

// NewRecoveryChecker creates a checker over the engine's resume decision.
func NewRecoveryChecker(decision func() (recovery.ResumeDecision, error)) *RecoveryChecker {
	return &RecoveryChecker{decision: decision}
}

func (c *RecoveryChecker) Name() string { return "recovery" }

func (c *RecoveryChecker) Check(_ context.Context) CheckResult {
	d, err := c.decision()
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	msg := fmt.Sprintf("%s from %s", d.Action, d.Origin)
	if d.Fallback() {
		return CheckResult{Status: StatusDegraded, Message: msg, Error: d.Cause.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: msg}
}

// FileChecker checks that the state file exists and is a regular file
type FileChecker struct {
	name string
	path string
}

// NewFileChecker creates a checker for file existence
func NewFileChecker(name, path string) *FileChecker {
	return &FileChecker{name: name, path: path}
}

func (c *FileChecker) Name() string { return c.name }

func (c *FileChecker) Check(_ context.Context) CheckResult {
	info, err := os.Stat(c.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return CheckResult{Status: StatusDegraded, Message: "not written yet", Error: c.path}
	case err != nil:
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	case !info.Mode().IsRegular():
		return CheckResult{Status: StatusUnhealthy, Error: "expected regular file"}
	case info.Size() == 0:
		return CheckResult{Status: StatusDegraded, Message: "file is empty"}
	}
	return CheckResult{Status: StatusHealthy, Message: "file exists and readable"}
}

// BackupChecker reports degraded when the newest archive is older than maxAge.
type BackupChecker struct {
	list   func() ([]backup.Archive, error)
	clock  clock.Clock
	maxAge time.Duration
}

// NewBackupChecker creates a freshness checker. A nil list means backups are disabled.
func NewBackupChecker(list func() ([]backup.Archive, error), clk clock.Clock, maxAge time.Duration) *BackupChecker {
	return &BackupChecker{list: list, clock: clock.OrReal(clk), maxAge: maxAge}
}

func (c *BackupChecker) Name() string { return "backups" }

func (c *BackupChecker) Check(_ context.Context) CheckResult {
	if c.list == nil {
		return CheckResult{Status: StatusHealthy, Message: "disabled"}
	}
	archives, err := c.list()
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	if len(archives) == 0 {
		return CheckResult{Status: StatusDegraded, Message: "no backups yet"}
	}
	newest := archives[0]
	age := c.clock.Now().Sub(newest.ModTime)
	if age > c.maxAge {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("newest backup %s is %s old", newest.Name, age.Truncate(time.Second)),
		}
	}
	return CheckResult{Status: StatusHealthy, Message: newest.Name}
}
