package execwrap

import "context"

// Call records one invocation against a Fake.
type Call struct {
	Loader  string
	LibPath string
	Name    string
	Args    []string
}

// Fake is a scripted Executor for tests: it records every call and returns
// whatever Results/Errs were queued for that call index, defaulting to a
// zero-value success Result if none was queued.
type Fake struct {
	Calls   []Call
	Results []Result
	Errs    []error
}

// Run implements Executor.
func (f *Fake) Run(_ context.Context, loader, libPath, name string, args ...string) (Result, error) {
	idx := len(f.Calls)
	f.Calls = append(f.Calls, Call{Loader: loader, LibPath: libPath, Name: name, Args: args})

	var (
		result Result
		err    error
	)

	if idx < len(f.Results) {
		result = f.Results[idx]
	}

	if idx < len(f.Errs) {
		err = f.Errs[idx]
	}

	return result, err
}
