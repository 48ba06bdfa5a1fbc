// Package remediation defines the pluggable-remediation plug-in point: the
// core never hard-codes per-platform one-off workaround patches. Each
// Remediation is a small capability with a predicate and an effect; this
// package ships zero built-ins.
package remediation

import "context"

// Remediation is a single pluggable one-off workaround: Applies reports
// whether it's relevant to the current staging root, and Apply performs its
// effect if so.
type Remediation interface {
	// Name identifies the remediation for logging.
	Name() string
	// Applies reports whether this remediation should run against
	// stagingRoot.
	Applies(stagingRoot string) bool
	// Apply performs the remediation's effect.
	Apply(ctx context.Context, stagingRoot string) error
}

// Registry runs every registered Remediation whose predicate matches.
type Registry struct {
	remediations []Remediation
}

// NewRegistry returns an empty Registry. Call Register to add remediations;
// the core ships none by default.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds r to the registry.
func (reg *Registry) Register(r Remediation) {
	reg.remediations = append(reg.remediations, r)
}

// RunAll applies every registered remediation whose predicate matches
// stagingRoot, in registration order, stopping at the first error.
func (reg *Registry) RunAll(ctx context.Context, stagingRoot string) error {
	for _, r := range reg.remediations {
		if !r.Applies(stagingRoot) {
			continue
		}

		if err := r.Apply(ctx, stagingRoot); err != nil {
			return err
		}
	}

	return nil
}
