package remediation_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/remediation"
)

type fakeRemediation struct {
	name       string
	appliesTo  string
	applyCalls *[]string
	failWith   error
}

func (f fakeRemediation) Name() string { return f.name }

func (f fakeRemediation) Applies(stagingRoot string) bool {
	return stagingRoot == f.appliesTo
}

func (f fakeRemediation) Apply(_ context.Context, stagingRoot string) error {
	*f.applyCalls = append(*f.applyCalls, f.name)

	return f.failWith
}

func TestRegistry_RunAll_OnlyAppliesMatchingPredicates(t *testing.T) {
	t.Parallel()

	var calls []string

	reg := remediation.NewRegistry()
	reg.Register(fakeRemediation{name: "docker-flag", appliesTo: "/staging-a", applyCalls: &calls})
	reg.Register(fakeRemediation{name: "distro-patch", appliesTo: "/staging-b", applyCalls: &calls})

	err := reg.RunAll(context.Background(), "/staging-b")
	require.NoError(t, err)
	require.Equal(t, []string{"distro-patch"}, calls)
}

func TestRegistry_RunAll_StopsAtFirstError(t *testing.T) {
	t.Parallel()

	var calls []string

	reg := remediation.NewRegistry()
	reg.Register(fakeRemediation{name: "first", appliesTo: "/staging", applyCalls: &calls, failWith: assert.AnError})
	reg.Register(fakeRemediation{name: "second", appliesTo: "/staging", applyCalls: &calls})

	err := reg.RunAll(context.Background(), "/staging")
	require.ErrorIs(t, err, assert.AnError)
	require.Equal(t, []string{"first"}, calls)
}

func TestRegistry_RunAll_NoRemediationsIsNoop(t *testing.T) {
	t.Parallel()

	reg := remediation.NewRegistry()

	err := reg.RunAll(context.Background(), "/staging")
	require.NoError(t, err)
}
