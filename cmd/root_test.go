package cmd

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/urban-physiology/glossarizer/internal/glossarizer"
	"github.com/urban-physiology/glossarizer/internal/glossary"
)

// fakeRunner stands in for the full app during command tests.
type fakeRunner struct {
	results  []glossarizer.Result
	runErr   error
	gotIDs   []string
	ranServe bool
	closed   bool
}

func (f *fakeRunner) Glossarize(_ context.Context, ids []string) ([]glossarizer.Result, error) {
	f.gotIDs = ids
	return f.results, f.runErr
}

func (f *fakeRunner) Run(context.Context) error {
	f.ranServe = true
	return nil
}

func (f *fakeRunner) Logger() *zap.Logger {
	return zap.NewNop()
}

func (f *fakeRunner) Close(context.Context) {
	f.closed = true
}

// withFakeRunner swaps the application factory for the test's lifetime.
func withFakeRunner(t *testing.T, fake *fakeRunner, buildErr error) {
	t.Helper()
	orig := newRunner
	newRunner = func(context.Context, string) (Runner, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newRunner = orig })
}

func quietRoot() *cobra.Command {
	root := newRootCmd()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root
}

func TestGlossarizeCommand_PassesPortalFlags(t *testing.T) {
	fake := &fakeRunner{
		results: []glossarizer.Result{
			{Portal: "chicago", Record: glossary.PassRecord{Portal: "chicago", Emitted: 3}},
		},
	}
	withFakeRunner(t, fake, nil)

	root := quietRoot()
	root.SetArgs([]string{"glossarize", "--portal", "chicago"})
	require.NoError(t, root.Execute())
	require.Equal(t, []string{"chicago"}, fake.gotIDs)
	require.True(t, fake.closed, "command must close services before returning")
}

func TestGlossarizeCommand_FailedPassesExitNonzero(t *testing.T) {
	fake := &fakeRunner{
		results: []glossarizer.Result{
			{Portal: "good", Record: glossary.PassRecord{Portal: "good", Emitted: 1}},
			{Portal: "bad", Err: errors.New("listing failed")},
		},
	}
	withFakeRunner(t, fake, nil)

	root := quietRoot()
	root.SetArgs([]string{"glossarize"})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "1 of 2 passes failed")
	require.True(t, fake.closed)
}

func TestServeCommand_RunsApp(t *testing.T) {
	fake := &fakeRunner{}
	withFakeRunner(t, fake, nil)

	root := quietRoot()
	root.SetArgs([]string{"serve"})
	require.NoError(t, root.Execute())
	require.True(t, fake.ranServe)
	require.True(t, fake.closed)
}

func TestRootCommand_InitFailureSurfaces(t *testing.T) {
	withFakeRunner(t, nil, errors.New("bad config"))

	root := quietRoot()
	root.SetArgs([]string{"glossarize"})
	err := root.Execute()
	require.Error(t, err)
	require.Contains(t, err.Error(), "initialize services")
}
