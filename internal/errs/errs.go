// Package errs defines the error-kind taxonomy used across the pipeline
// so callers can classify a failure without string matching.
package errs

import "fmt"

// Kind is one row of the error taxonomy.
type Kind string

const (
	KindTransientIO    Kind = "transient_io"
	KindValidation     Kind = "validation"
	KindStrategyFault  Kind = "strategy_fault"
	KindExecution      Kind = "execution_failure"
	KindRiskRefusal    Kind = "risk_refusal"
	KindPersistence    Kind = "persistence_failure"
	KindFatalInit      Kind = "fatal_init"
)

// Error wraps an underlying error with a taxonomy Kind and the
// component that raised it.
type Error struct {
	Kind      Kind
	Component string
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s[%s]: %s: %v", e.Component, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s[%s]: %s", e.Component, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a taxonomy error.
func New(kind Kind, component, msg string, cause error) *Error {
	return &Error{Kind: kind, Component: component, Msg: msg, Err: cause}
}

func TransientIO(component, msg string, cause error) *Error {
	return New(KindTransientIO, component, msg, cause)
}

func Validation(component, msg string) *Error {
	return New(KindValidation, component, msg, nil)
}

func StrategyFault(component, msg string, cause error) *Error {
	return New(KindStrategyFault, component, msg, cause)
}

func Execution(component, msg string, cause error) *Error {
	return New(KindExecution, component, msg, cause)
}

func RiskRefusal(component, msg string) *Error {
	return New(KindRiskRefusal, component, msg, nil)
}

func Persistence(component, msg string, cause error) *Error {
	return New(KindPersistence, component, msg, cause)
}

func FatalInit(component, msg string, cause error) *Error {
	return New(KindFatalInit, component, msg, cause)
}
