package activate

import (
	"context"
	"path/filepath"

	"github.com/coreos/update-engine/internal/plan"
)

// ServiceAdapter adapts Activate's device-oriented signature to the
// service.Activator interface, which only knows about an Install Plan.
type ServiceAdapter struct {
	Deps          Deps
	ESPCandidates []string
	ESPMountPoint string
}

// Activate implements service.Activator. It treats the plan's InstallPath
// as the target slot device, and the device's parent directory as the
// staged install tree root.
func (a ServiceAdapter) Activate(ctx context.Context, p plan.Plan) error {
	return Activate(ctx, a.Deps, p.InstallPath, filepath.Dir(p.InstallPath), a.ESPCandidates, a.ESPMountPoint)
}

// NewDeps returns Deps with LockDir set to the conventional runtime lock
// directory, so production callers (cmd/updateengined, cmd/postinstall)
// don't each have to know the path.
func NewDeps(base Deps) Deps {
	if base.LockDir == "" {
		base.LockDir = "/run/update-engine/locks"
	}

	return base
}
