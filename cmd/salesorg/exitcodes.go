package main

import (
	"errors"
	"net/http"

	"github.com/iota-uz/salesorg/modules/org/services"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitValidation = 2
	exitUsage      = 3
	exitDB         = 4
	exitDBWrite    = 5
	// exitFindings means the command ran but found defects in the data.
	exitFindings = 6
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return 1
}

// serviceExit maps a service failure onto an exit code: client-side
// problems are validation errors, everything else is a database failure.
func serviceExit(err error) error {
	if err == nil {
		return nil
	}
	var svcErr *services.ServiceError
	if errors.As(err, &svcErr) && svcErr.Status < http.StatusInternalServerError {
		return withCode(exitValidation, err)
	}
	return withCode(exitDB, err)
}
