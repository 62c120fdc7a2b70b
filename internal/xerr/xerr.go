// Package xerr provides the library's error types, adapted from the
// teacher's cmn/cos error-type conventions: small struct types that
// carry just enough context to be actionable, plus a handful of
// sentinels for condition checks.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package xerr

import (
	"errors"
	"fmt"

	pkgerrors "github.com/pkg/errors"
)

var (
	// ErrContention is what ErrAppendRejected unwraps to: a one-shot
	// append lost its race to a concurrent writer. It never indicates
	// corruption, only "retry." Arcu's Replace does not return it; it
	// retries the install itself.
	ErrContention = errors.New("arcsync: one-shot contention, no slot reserved")

	// ErrClosed is the value a second Close on the same handle panics
	// with. Other operations on a closed handle do not check for it.
	ErrClosed = errors.New("arcsync: handle already closed")
)

// ErrAppendRejected wraps ErrContention with a reason string describing
// a rejected one-shot append. It does not carry the rejected value: T
// is not a type parameter here (Go permits no generic error types with
// comparable Is semantics across instances), and the caller still
// holds the elements it passed in. This type exists purely for the
// "wrap with context for logging" convenience path.
type ErrAppendRejected struct {
	Reason string
}

func NewErrAppendRejected(format string, a ...any) *ErrAppendRejected {
	return &ErrAppendRejected{Reason: fmt.Sprintf(format, a...)}
}

func (e *ErrAppendRejected) Error() string {
	return fmt.Sprintf("arcsync: append rejected: %s", e.Reason)
}

func (e *ErrAppendRejected) Unwrap() error { return ErrContention }

// Wrap adds call-site context to an internal error the way the
// teacher wraps allocator/IO failures, e.g. during construction with
// an invalid Options value.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return pkgerrors.Wrap(err, msg)
}
