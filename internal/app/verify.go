package app

import (
	"context"

	"github.com/dshills/scripthost/internal/config"
	"github.com/dshills/scripthost/internal/dependency"
)

// Verify re-checks every cached dependency against its published digest.
// Cached files are reused by provisioning without verification; this is the
// explicit check for them.
func (app *Application) Verify(ctx context.Context) ([]dependency.AuditResult, error) {
	src := config.NewYAMLSource(app.fs, app.settings.DependenciesPath())
	return app.provisioner.Audit(ctx, src)
}
