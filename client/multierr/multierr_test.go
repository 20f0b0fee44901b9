package multierr_test

import (
	e "errors"
	"testing"

	"github.com/bleq/bleq/client/multierr"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
)

func TestMultiErr_Empty(t *testing.T) {
	assert.NoError(t, multierr.New().Err())
}

func TestMultiErr_Single(t *testing.T) {
	errTest := e.New("test")

	m := multierr.New()
	m.Add(nil)
	m.Add(errTest)

	assert.Equal(t, errTest, m.Err())
}

func TestMultiErr_Multiple(t *testing.T) {
	m := multierr.New()
	m.Add(e.New("one"))
	m.Add(e.New("two"))

	err := m.Err()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "one")
	assert.Contains(t, err.Error(), "two")
}

func TestIs_UnwrapsAnnotations(t *testing.T) {
	errSentinel := e.New("sentinel")

	err := errors.Annotatef(errSentinel, "context")
	assert.True(t, multierr.Is(err, errSentinel))
	assert.False(t, multierr.Is(err, e.New("other")))
}
