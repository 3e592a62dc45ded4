package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdapterErrorClassification(t *testing.T) {
	base := errors.New("boom")

	tr := fmt.Errorf("grant: %w", Transient("grant", base))
	assert.True(t, errors.Is(tr, ErrAdapterTransient))
	assert.False(t, errors.Is(tr, ErrAdapterPermanent))
	assert.True(t, errors.Is(tr, base))
	assert.True(t, IsTransient(tr))

	pe := Permanent("revoke", base)
	assert.True(t, errors.Is(pe, ErrAdapterPermanent))
	assert.False(t, IsTransient(pe))
	assert.Contains(t, pe.Error(), "permanent")
}

func TestCanonicalName(t *testing.T) {
	assert.Equal(t, "foo", CanonicalName("  FoO "))
	assert.Equal(t, CanonicalName("Among Us"), CanonicalName("among us"))
}

func TestQueueTarget(t *testing.T) {
	q := Queue{}
	assert.Equal(t, "c1", q.Target("c1"))
	q.HomeChannelID = "home"
	assert.Equal(t, "home", q.Target("c1"))
}
