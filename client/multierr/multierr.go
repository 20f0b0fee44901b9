package multierr

import (
	e "errors"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

// MultiErr collects errors from multiple cleanup steps. It is not safe for
// concurrent use.
type MultiErr struct {
	firstError error
	errors     []error
}

func New() *MultiErr {
	return &MultiErr{}
}

// Add does nothing when err is nil. It sets the first error if it hasn't
// been set yet.
func (m *MultiErr) Add(err error) {
	if err == nil {
		return
	}

	if m.firstError == nil {
		m.firstError = err
	}

	m.errors = append(m.errors, err)
}

// Err returns nil when no errors occurred, the error itself when exactly
// one occurred, and a combined error otherwise.
func (m *MultiErr) Err() error {
	if len(m.errors) <= 1 {
		return m.firstError
	}

	var sb strings.Builder

	for i, err := range m.errors {
		if i > 0 {
			sb.WriteString("\n")
		}

		sb.WriteString(fmt.Sprintf("%d. %s", i+1, err))
	}

	return errors.Errorf("there were multiple errors:\n%s", sb.String())
}

// Is unwraps juju error annotations before comparing against target.
func Is(err, target error) bool {
	return e.Is(errors.Cause(err), target)
}
