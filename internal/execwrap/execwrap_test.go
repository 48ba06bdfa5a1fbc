package execwrap_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coreos/update-engine/internal/execwrap"
)

// writeScript creates a small shell script under t.TempDir() and returns its
// path, mirroring the teacher's mock-editor fixture style.
func writeScript(t *testing.T, body string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "script.sh")

	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o700))

	return path
}

func TestReal_Run_CapturesStdoutAndSuccess(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `echo hello; exit 0`)

	result, err := execwrap.NewReal().Run(context.Background(), "", "", script)
	require.NoError(t, err)
	require.Equal(t, 0, result.ExitCode)
	require.Equal(t, "hello\n", result.Stdout)
}

func TestReal_Run_NonZeroExitReturnsErrorWithCode(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `echo oops 1>&2; exit 7`)

	result, err := execwrap.NewReal().Run(context.Background(), "", "", script)
	require.Error(t, err)
	require.Equal(t, 7, result.ExitCode)
	require.Equal(t, "oops\n", result.Stderr)
}

func TestReal_Run_ForwardsArgs(t *testing.T) {
	t.Parallel()

	script := writeScript(t, `echo "$@"`)

	result, err := execwrap.NewReal().Run(context.Background(), "", "", script, "a", "b")
	require.NoError(t, err)
	require.Equal(t, "a b\n", result.Stdout)
}

// When loader is non-empty, Run invokes it with "--library-path libPath name
// args..." instead of executing name directly; a mock loader script lets us
// observe that shape without depending on a real dynamic linker.
func TestReal_Run_UsesLoaderWhenSet(t *testing.T) {
	t.Parallel()

	target := writeScript(t, `echo target-ran "$@"`)
	loader := writeScript(t, `echo "loader:$@"`)

	result, err := execwrap.NewReal().Run(context.Background(), loader, "/opt/lib", target, "x")
	require.NoError(t, err)
	require.Equal(t, "loader:--library-path /opt/lib "+target+" x\n", result.Stdout)
}

func TestFake_Run_RecordsCallsAndReplaysScriptedResults(t *testing.T) {
	t.Parallel()

	fake := &execwrap.Fake{
		Results: []execwrap.Result{{Stdout: "first"}, {Stdout: "second"}},
		Errs:    []error{nil, assert.AnError},
	}

	r1, err1 := fake.Run(context.Background(), "", "", "tool", "a")
	require.NoError(t, err1)
	require.Equal(t, "first", r1.Stdout)

	r2, err2 := fake.Run(context.Background(), "loader", "/lib", "tool", "b", "c")
	require.ErrorIs(t, err2, assert.AnError)
	require.Equal(t, "second", r2.Stdout)

	require.Len(t, fake.Calls, 2)
	require.Equal(t, execwrap.Call{Name: "tool", Args: []string{"a"}}, fake.Calls[0])
	require.Equal(t, execwrap.Call{Loader: "loader", LibPath: "/lib", Name: "tool", Args: []string{"b", "c"}}, fake.Calls[1])
}
