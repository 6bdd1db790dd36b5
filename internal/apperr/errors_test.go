package apperr

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestNotFound_NeverLeaksIdentity(t *testing.T) {
	err := NotFound("insight", "ins-123")
	assert.Equal(t, "not found", err.Error())
	assert.True(t, IsNotFound(err))
	assert.False(t, IsValidation(err))
}

func TestValidation_MessageVerbatim(t *testing.T) {
	err := Validation("status", "invalid value %q", "closed")
	assert.Equal(t, `status: invalid value "closed"`, err.Error())
	assert.True(t, IsValidation(errors.Wrap(err, "set status")))
}

func TestUpstream(t *testing.T) {
	assert.NoError(t, Upstream("scan", nil))

	cause := errors.New("connection refused")
	err := Upstream("scan feedback", cause)
	assert.True(t, IsUpstream(err))
	assert.True(t, errors.Is(err, cause))

	// Already-classified errors are not double wrapped
	assert.Same(t, err, Upstream("outer", err))
}
