package model

import (
	"errors"
	"fmt"
)

// ErrModel marks mistakes in the model itself, as opposed to attacks on it or
// defects in the verifier.
var ErrModel = errors.New("model error")

// Diagnostic is one ModelError, located at the offending statement.
type Diagnostic struct {
	Pos       Position
	Principal string
	Message   string
}

var _ error = &Diagnostic{}

func (d *Diagnostic) Error() string {
	if d.Principal == "" {
		return fmt.Sprintf("%v: %s", d.Pos, d.Message)
	}
	return fmt.Sprintf("%v: %s: %s", d.Pos, d.Principal, d.Message)
}

func (d *Diagnostic) Unwrap() error {
	return ErrModel
}

// Errorf builds a Diagnostic for a statement of principal.
func Errorf(pos Position, principal string, format string, args ...interface{}) *Diagnostic {
	return &Diagnostic{
		Pos:       pos,
		Principal: principal,
		Message:   fmt.Sprintf(format, args...),
	}
}
