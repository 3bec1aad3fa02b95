package service

import (
	"fmt"
	"sync"
)

// PackageContext is the selected application package plus the sandbox-scoped
// caches that hang off it. Tool and database paths live inside the package
// sandbox and are not portable across packages, so changing the package clears
// both; changing the database clears only the resolved path.
//
// Cached paths are deliberately not revalidated until invalidated by a
// package or database switch. Stale-path failures are accepted as the cost of
// not re-probing on every query.
type PackageContext struct {
	mu       sync.Mutex
	pkg      string
	database string
	userID   int // android user for cloned apps, -1 for the default user

	toolPath string
	dbPath   string
}

// NewPackageContext selects a package and database file name.
func NewPackageContext(pkg, database string) *PackageContext {
	return &PackageContext{pkg: pkg, database: database, userID: -1}
}

// SetPackage switches packages and clears both caches.
func (p *PackageContext) SetPackage(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pkg == name {
		return
	}
	p.pkg = name
	p.toolPath = ""
	p.dbPath = ""
}

// SetDatabase switches database files and clears the resolved path.
func (p *PackageContext) SetDatabase(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.database == name {
		return
	}
	p.database = name
	p.dbPath = ""
}

// SetUserID targets a cloned-app user (run-as --user N).
func (p *PackageContext) SetUserID(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.userID = id
}

func (p *PackageContext) Package() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pkg
}

func (p *PackageContext) Database() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.database
}

// ToolPath returns the cached sqlite3 path, empty until provisioned.
func (p *PackageContext) ToolPath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.toolPath
}

func (p *PackageContext) setToolPath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.toolPath = path
}

// DatabasePath returns the cached resolved path, empty until resolved.
func (p *PackageContext) DatabasePath() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dbPath
}

func (p *PackageContext) setDatabasePath(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dbPath = path
}

// RunAs wraps a command in the package's elevated shell context.
func (p *PackageContext) RunAs(command string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.userID >= 0 {
		return fmt.Sprintf("run-as %s --user %d %s", p.pkg, p.userID, command)
	}
	return fmt.Sprintf("run-as %s %s", p.pkg, command)
}
