package protocol

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BioHazard786/huddle/internal/callerr"
	"github.com/BioHazard786/huddle/internal/store"
)

func TestErrorCodesRoundTrip(t *testing.T) {
	for _, err := range []error{store.ErrNotFound, store.ErrInvalidKey} {
		wrapped := fmt.Errorf("get foo: %w", err)
		assert.ErrorIs(t, ErrorFor(CodeFor(wrapped), wrapped.Error()), err)
	}
}

func TestUnknownErrorsAreServerErrors(t *testing.T) {
	code := CodeFor(fmt.Errorf("disk on fire"))
	assert.Equal(t, CodeInternal, code)

	err := ErrorFor(code, "disk on fire")
	assert.ErrorIs(t, err, callerr.ErrServer)
	assert.Contains(t, err.Error(), "disk on fire")
}
