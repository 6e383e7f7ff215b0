package apperr

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrapped(t *testing.T) {
	base := New(PoolExhausted, "acct", "2026-01-02@09", errors.New("tier mid empty"))
	wrapped := fmt.Errorf("run: %w", base)

	assert.Equal(t, PoolExhausted, KindOf(wrapped))
	assert.True(t, Is(wrapped, PoolExhausted))
	assert.False(t, Is(wrapped, AssignmentConflict))
	assert.Contains(t, base.Error(), "account=acct")
	assert.Contains(t, base.Error(), "slot=2026-01-02@09")
}

func TestFromContextDeadline(t *testing.T) {
	err := FromContext(context.DeadlineExceeded, "acct", "catalog")
	require.Error(t, err)
	assert.Equal(t, TimeoutExceeded, KindOf(err))

	plain := errors.New("boom")
	assert.Same(t, plain, FromContext(plain, "acct", "catalog"))
	assert.NoError(t, FromContext(nil, "acct", "catalog"))
}

func TestRecoverableKinds(t *testing.T) {
	assert.True(t, InsufficientEvidence.Recoverable())
	assert.True(t, RestrictionSourceUnavailable.Recoverable())
	assert.True(t, InvalidRuleConfiguration.Recoverable())
	assert.False(t, PoolExhausted.Recoverable())
	assert.False(t, TimeoutExceeded.Recoverable())
	assert.Equal(t, 4, AssignmentConflict.ExitCode())
	assert.Equal(t, 1, Internal.ExitCode())
}
