package cmd

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedpipe/domain"
)

// byNameRepo answers GetSourceByName; the other methods are unused.
type byNameRepo struct {
	domain.SourceRepository
	src domain.Source
	err error
}

func (r byNameRepo) GetSourceByName(context.Context, string) (domain.Source, error) {
	return r.src, r.err
}

func TestSourceByName(t *testing.T) {
	ctx := context.Background()

	src, err := sourceByName(ctx, byNameRepo{src: domain.Source{ID: "1", Name: "golang"}}, "golang")
	require.NoError(t, err)
	assert.Equal(t, "1", src.ID)

	_, err = sourceByName(ctx, byNameRepo{err: domain.ErrNotFound}, "missing")
	assert.EqualError(t, err, `source "missing" not found`)

	down := errors.New("connection refused")
	_, err = sourceByName(ctx, byNameRepo{err: down}, "golang")
	assert.ErrorIs(t, err, down)
	assert.NotContains(t, err.Error(), "not found")
}
