// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package statestore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// fileEntry is shared by every Store of one path in this process.
// lastSaved is only touched while sem is held.
type fileEntry struct {
	sem       chan struct{}
	lastSaved time.Time
}

var registry = struct {
	sync.Mutex
	files map[string]*fileEntry
}{files: make(map[string]*fileEntry)}

func entryFor(path string) *fileEntry {
	key := filepath.Clean(path)
	if abs, err := filepath.Abs(key); err == nil {
		key = abs
	}

	registry.Lock()
	defer registry.Unlock()
	e, ok := registry.files[key]
	if !ok {
		e = &fileEntry{sem: make(chan struct{}, 1)}
		registry.files[key] = e
	}
	return e
}

func (e *fileEntry) acquire(ctx context.Context) error {
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrLockTimeout, ctx.Err())
	}
}

func (e *fileEntry) release() {
	<-e.sem
}
