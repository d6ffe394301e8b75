package workererrors

import (
	"errors"
	"fmt"

	"github.com/pottery-backend/pottery/internal/types"
)

// Carries an exit code along with an error so the app can exit correctly
type ExitError struct {
	Err  error
	Code int
}

func (e ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%d", e.Code)
	}

	return fmt.Sprintf("%d: %s", e.Code, e.Err.Error())
}

func (e ExitError) Unwrap() error {
	return e.Err
}

// Wrap an error with an exit code
func ExitErrorWrap(code int, err error) error {
	return ExitError{Code: code, Err: err}
}

// The exit code carried by err, ExitErrored for errors without one
func Code(err error) int {
	if err == nil {
		return types.ExitNormal
	}

	var ee ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return types.ExitErrored
}
