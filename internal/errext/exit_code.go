// Package errext attaches process exit codes and user hints to errors.
package errext

import (
	"errors"

	"github.com/jassi-singh/forgeload/internal/errext/exitcodes"
)

// HasExitCode is a wrapper around an error with an attached exit code.
type HasExitCode interface {
	error
	ExitCode() exitcodes.ExitCode
}

// WithExitCodeIfNone attaches exitCode to err unless err already carries one.
// A nil error stays nil.
func WithExitCodeIfNone(err error, exitCode exitcodes.ExitCode) error {
	if err == nil {
		return nil
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return err
	}
	return withExitCode{err, exitCode}
}

// ExitCodeOf returns the exit code attached to err, or fallback if none is.
func ExitCodeOf(err error, fallback exitcodes.ExitCode) exitcodes.ExitCode {
	if err == nil {
		return exitcodes.Success
	}
	var ecerr HasExitCode
	if errors.As(err, &ecerr) {
		return ecerr.ExitCode()
	}
	return fallback
}

type withExitCode struct {
	error
	exitCode exitcodes.ExitCode
}

func (wh withExitCode) Unwrap() error {
	return wh.error
}

func (wh withExitCode) ExitCode() exitcodes.ExitCode {
	return wh.exitCode
}

var _ HasExitCode = withExitCode{}
