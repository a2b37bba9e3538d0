// Package errs defines the error taxonomy shared by the attack pipeline.
//
// Every failure raised by the pipeline wraps one of the four category
// sentinels so callers can classify it with errors.Is. The more specific
// sentinels wrap their category, e.g. errors.Is(ErrDegenerateLabelSet,
// ErrNumericalDegeneracy) holds.
package errs

import (
	"errors"
	"fmt"
)

// Categories
var (
	// ErrConfiguration reports an unsupported model, attack, dataset or
	// optimizer name, or an out-of-range configuration value.
	ErrConfiguration = errors.New("configuration error")

	// ErrDataIntegrity reports inconsistent inputs: leaked members, shape
	// mismatches, malformed graphs.
	ErrDataIntegrity = errors.New("data integrity error")

	// ErrNumericalDegeneracy reports statistics that cannot be computed
	// without producing NaN or infinite values.
	ErrNumericalDegeneracy = errors.New("numerical degeneracy")

	// ErrTrainingFailure reports a model whose training did not complete.
	ErrTrainingFailure = errors.New("training failure")
)

// Specific failures
var (
	ErrInvalidNodeIndex        = fmt.Errorf("%w: invalid node index", ErrDataIntegrity)
	ErrDegenerateLabelSet      = fmt.Errorf("%w: degenerate label set", ErrNumericalDegeneracy)
	ErrInsufficientRepetitions = fmt.Errorf("%w: insufficient repetitions", ErrNumericalDegeneracy)
)

// Configf returns a configuration error with a formatted message.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Integrityf returns a data integrity error with a formatted message.
func Integrityf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDataIntegrity, fmt.Sprintf(format, args...))
}

// Degeneracyf returns a numerical degeneracy error with a formatted message.
func Degeneracyf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNumericalDegeneracy, fmt.Sprintf(format, args...))
}
