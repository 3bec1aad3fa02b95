package service

import (
	"context"
	"path"
	"sort"
	"strings"

	"droidsql/models"
)

// databaseSubdirs are the conventional storage locations inside an app
// sandbox, probed in order.
var databaseSubdirs = []string{"databases", "files", "files/SQLite"}

var databaseExtensions = map[string]bool{
	".db":      true,
	".sqlite":  true,
	".sqlite3": true,
	".db3":     true,
}

// companionSuffixes mark journal, write-ahead-log and shared-memory files
// that travel with a database but are never browsable themselves.
var companionSuffixes = []string{"-journal", "-wal", "-shm"}

// Resolver locates database files inside a package sandbox.
type Resolver struct {
	runner Runner
}

func NewResolver(runner Runner) *Resolver {
	return &Resolver{runner: runner}
}

// Resolve finds the sandbox-relative path of the context's database file by
// probing the conventional locations; the first hit wins and is cached so a
// later call for the same package and database issues no further probes.
// Each probe failure just means "not here" and moves on.
func (r *Resolver) Resolve(ctx context.Context, pkg *PackageContext) (string, error) {
	if cached := pkg.DatabasePath(); cached != "" {
		return cached, nil
	}

	name := pkg.Database()
	var probed []string
	for _, dir := range databaseSubdirs {
		candidate := dir + "/" + name
		probed = append(probed, candidate)
		out, err := r.runner.Run(ctx, pkg.RunAs("ls "+candidate))
		if err == nil && strings.Contains(out, name) {
			pkg.setDatabasePath(candidate)
			return candidate, nil
		}
	}
	return "", &DatabaseNotFoundError{Database: name, Probed: probed}
}

// List enumerates database files across all conventional locations for the
// initial picker. Unlike Resolve it collects every match per location,
// de-duplicating by file name across locations.
func (r *Resolver) List(ctx context.Context, pkg *PackageContext) ([]models.DatabaseFile, error) {
	seen := map[string]bool{}
	var files []models.DatabaseFile
	for _, dir := range databaseSubdirs {
		out, err := r.runner.Run(ctx, pkg.RunAs("ls "+dir))
		if err != nil {
			continue
		}
		for _, line := range strings.Split(out, "\n") {
			name := strings.TrimSpace(line)
			if !isDatabaseFile(name) || seen[name] {
				continue
			}
			seen[name] = true
			files = append(files, models.DatabaseFile{Name: name, Path: dir + "/" + name})
		}
	}
	return files, nil
}

// Search recursively walks the sandbox for database-like files, for explicit
// ad hoc discovery. Filter, when non-empty, is matched case-insensitively
// against file name and path. Results are sorted case-insensitively by name.
// This populates a picker; it never auto-selects.
func (r *Resolver) Search(ctx context.Context, pkg *PackageContext, filter string) ([]models.DatabaseFile, error) {
	out, err := r.runner.Run(ctx, pkg.RunAs("find . -type f 2>/dev/null"))
	if err != nil {
		return nil, err
	}

	filter = strings.ToLower(filter)
	var files []models.DatabaseFile
	for _, line := range strings.Split(out, "\n") {
		p := strings.TrimPrefix(strings.TrimSpace(line), "./")
		if p == "" {
			continue
		}
		name := path.Base(p)
		if !isDatabaseFile(name) {
			continue
		}
		if filter != "" &&
			!strings.Contains(strings.ToLower(name), filter) &&
			!strings.Contains(strings.ToLower(p), filter) {
			continue
		}
		files = append(files, models.DatabaseFile{Name: name, Path: p})
	}

	sort.Slice(files, func(i, j int) bool {
		return strings.ToLower(files[i].Name) < strings.ToLower(files[j].Name)
	})
	return files, nil
}

func isDatabaseFile(name string) bool {
	if name == "" {
		return false
	}
	for _, suffix := range companionSuffixes {
		if strings.HasSuffix(name, suffix) {
			return false
		}
	}
	return databaseExtensions[strings.ToLower(path.Ext(name))]
}
