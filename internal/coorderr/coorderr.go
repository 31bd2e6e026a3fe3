// Package coorderr defines the coordination engine's error taxonomy as
// sentinel values suitable for errors.Is, wrapped with context at each
// call site rather than carried as typed error structs.
package coorderr

import "errors"

var (
	// ErrNotFound covers an unknown conflict ID or an untracked file.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition covers a resolution requested without the state it needs
	// (e.g. auto-merge requested but the merge failed, or manual resolution
	// requested without content).
	ErrPrecondition = errors.New("precondition failed")
	// ErrIoRead covers a disk read failure.
	ErrIoRead = errors.New("read failed")
	// ErrIoWrite covers a disk write failure.
	ErrIoWrite = errors.New("write failed")
	// ErrBinaryUnmergeable marks a merge attempted on binary content.
	ErrBinaryUnmergeable = errors.New("binary file is not mergeable")
)
