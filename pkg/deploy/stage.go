package deploy

import (
	"errors"
	"fmt"
	"sync"
)

// Stage names the step of a round that failed.
type Stage string

const (
	StageAcquire  Stage = "acquire"
	StageGenerate Stage = "generate"
	StageAssemble Stage = "assemble"
	StagePublish  Stage = "publish"
	StageHosting  Stage = "hosting"
	StageCommit   Stage = "commit"
	StageRegistry Stage = "registry"
)

// StageError is the single error a failed round returns. It keeps the
// failing stage and project for diagnostics and unwraps to the cause.
type StageError struct {
	Stage   Stage
	Project string
	Err     error
}

func newStageError(stage Stage, project string, err error) *StageError {
	return &StageError{Stage: stage, Project: project, Err: err}
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for %s: %v", e.Stage, e.Project, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// AsStageError extracts the StageError from err's chain.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// keyedMutex hands out one mutex per key and drops it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

// Lock blocks until key is free and returns the matching unlock func.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
