package core

import (
	"github.com/ZanzyTHEbar/errbuilder-go"
)

func invalidArgument(msg string, cause error) error {
	err := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(msg)
	if cause != nil {
		return err.WithCause(cause)
	}
	return err
}

func failedPrecondition(msg string) error {
	return errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg(msg)
}

func internalError(msg string, cause error) error {
	err := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(msg)
	if cause != nil {
		return err.WithCause(cause)
	}
	return err
}
