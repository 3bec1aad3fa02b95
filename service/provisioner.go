package service

import (
	"context"
	"strings"
)

// sandboxToolPath is the private copy inside the package sandbox, relative to
// the run-as working directory.
const sandboxToolPath = "./sqlite3"

// systemToolPaths are the conventional install locations, probed in order
// after the sandbox copy.
var systemToolPaths = []string{
	"/system/bin/sqlite3",
	"/system/xbin/sqlite3",
	"/data/local/tmp/sqlite3",
}

// Provisioner guarantees a working sqlite3 binary reachable from inside the
// target package's sandbox.
type Provisioner struct {
	runner Runner
}

func NewProvisioner(runner Runner) *Provisioner {
	return &Provisioner{runner: runner}
}

// EnsureTool resolves a usable sqlite3 path for the package, short-circuiting
// on the first candidate whose -version output carries a version marker.
// Order: the cached path, the sandbox copy, then each system location. A
// system hit is copied into the sandbox and re-verified; if the copy fails
// the system path is used directly, read-only.
//
// The resolved path is cached on the PackageContext and trusted until the
// package changes. Failure is permanent for this package: callers surface it
// instead of retrying.
func (p *Provisioner) EnsureTool(ctx context.Context, pkg *PackageContext) (string, error) {
	if cached := pkg.ToolPath(); cached != "" {
		return cached, nil
	}

	var attempts []string

	// Sandbox copy from an earlier run.
	if p.sandboxToolWorks(ctx, pkg) {
		pkg.setToolPath(sandboxToolPath)
		return sandboxToolPath, nil
	}
	attempts = append(attempts, sandboxToolPath)

	for _, systemPath := range systemToolPaths {
		out, err := p.runner.Run(ctx, systemPath+" -version 2>&1")
		if err != nil || !hasVersionMarker(out) {
			attempts = append(attempts, systemPath)
			continue
		}

		// Copy into the sandbox so run-as can execute it, then re-verify.
		// Probe failures here are non-fatal: the system path still works.
		if _, err := p.runner.Run(ctx, pkg.RunAs("cp "+systemPath+" "+sandboxToolPath)); err == nil {
			_, _ = p.runner.Run(ctx, pkg.RunAs("chmod 755 "+sandboxToolPath))
			if p.sandboxToolWorks(ctx, pkg) {
				pkg.setToolPath(sandboxToolPath)
				return sandboxToolPath, nil
			}
		}
		pkg.setToolPath(systemPath)
		return systemPath, nil
	}

	return "", &ToolNotFoundError{Package: pkg.Package(), Attempts: attempts}
}

func (p *Provisioner) sandboxToolWorks(ctx context.Context, pkg *PackageContext) bool {
	out, err := p.runner.Run(ctx, pkg.RunAs(sandboxToolPath+" -version"))
	return err == nil && hasVersionMarker(out)
}

// hasVersionMarker recognizes sqlite3 -version output ("3.36.0 2021-06-18..."
// or banners containing "SQLite").
func hasVersionMarker(out string) bool {
	return strings.Contains(out, "SQLite") || strings.Contains(out, "3.")
}
