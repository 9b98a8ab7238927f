package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skillswap-backend/internal/domain"
)

func TestCachedDirectory_CachesHits(t *testing.T) {
	ctx := context.Background()
	next := new(MockContactDirectory)
	dir := NewCachedDirectory(next, time.Minute, 10)
	bob := &domain.Contact{UserID: "bob", Email: "bob@example.com"}

	// Setup expectations
	next.On("GetContact", ctx, "bob").Return(bob, nil).Once()

	// Execute
	first, err1 := dir.GetContact(ctx, "bob")
	second, err2 := dir.GetContact(ctx, "bob")

	// Assert
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, bob, first)
	assert.Same(t, first, second)
	next.AssertExpectations(t)
}

func TestCachedDirectory_SkipsMissesAndErrors(t *testing.T) {
	ctx := context.Background()
	next := new(MockContactDirectory)
	dir := NewCachedDirectory(next, time.Minute, 10)

	// Setup expectations
	next.On("GetContact", ctx, "carol").Return(nil, nil).Twice()
	next.On("GetContact", ctx, "dave").Return(nil, errors.New("redis down")).Twice()

	// Execute
	for i := 0; i < 2; i++ {
		c, err := dir.GetContact(ctx, "carol")
		assert.NoError(t, err)
		assert.Nil(t, c)
		_, err = dir.GetContact(ctx, "dave")
		assert.Error(t, err)
	}

	// Assert
	next.AssertExpectations(t)
}
