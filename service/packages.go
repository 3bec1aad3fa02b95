package service

import (
	"context"
	"sort"
	"strings"

	"droidsql/models"
)

// PackageLister enumerates user-installed packages whose sandbox is reachable
// through run-as. Packages that fail the debuggability probe are excluded
// from the listing, not reported as errors.
type PackageLister struct {
	runner Runner
}

func NewPackageLister(runner Runner) *PackageLister {
	return &PackageLister{runner: runner}
}

// ListDebuggable lists third-party packages and keeps the ones run-as can
// enter. The probe is a trivial echo; any refusal (not debuggable, unknown
// package) drops the entry silently.
func (l *PackageLister) ListDebuggable(ctx context.Context) ([]models.Package, error) {
	out, err := l.runner.Run(ctx, "pm list packages -3")
	if err != nil {
		return nil, err
	}

	var packages []models.Package
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "package:") {
			continue
		}
		name := strings.TrimPrefix(line, "package:")
		if name == "" {
			continue
		}
		probe, err := l.runner.Run(ctx, "run-as "+name+" echo probe-ok")
		if err != nil || !strings.Contains(probe, "probe-ok") {
			continue
		}
		packages = append(packages, models.Package{Name: name})
	}

	sort.Slice(packages, func(i, j int) bool { return packages[i].Name < packages[j].Name })
	return packages, nil
}
