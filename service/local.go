package service

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"droidsql/adb"
	"droidsql/models"
)

// LocalEngine is the fallback execution path for packages whose sandbox the
// remote engine cannot enter, and for forced local runs: the database is
// pulled to a host-side cache, queried through the sqlite3 driver, and pushed
// back after writes. Pulls ride the bridge transport's exec-out channel, so
// this engine is bridge-only.
type LocalEngine struct {
	bridge   *adb.BridgeClient
	runner   Runner
	resolver *Resolver
	serial   string
	cacheDir string
}

type cacheMetadata struct {
	Mtime    int64  `json:"mtime"`
	CachedAt string `json:"cached_at"`
	DBPath   string `json:"db_path"`
	Package  string `json:"package"`
}

func NewLocalEngine(bridge *adb.BridgeClient, runner Runner, serial, cacheDir string) *LocalEngine {
	if cacheDir == "" {
		cacheDir = filepath.Join(os.TempDir(), "droidsql-cache")
	}
	return &LocalEngine{
		bridge:   bridge,
		runner:   runner,
		resolver: NewResolver(runner),
		serial:   serial,
		cacheDir: cacheDir,
	}
}

func (l *LocalEngine) cachePath(pkg *PackageContext) string {
	return filepath.Join(l.cacheDir, pkg.Package()+"_"+pkg.Database())
}

func (l *LocalEngine) metadataPath(pkg *PackageContext) string {
	name := pkg.Package() + "_" + pkg.Database()
	if l.serial != "" {
		name += "_" + strings.NewReplacer(":", "_", ".", "_").Replace(l.serial)
	}
	return filepath.Join(l.cacheDir, name+".json")
}

// Pull fetches the database into the host cache. A cached copy is reused when
// the remote modification time matches the metadata recorded at pull time;
// force bypasses that check. WAL and SHM companions are pulled alongside so
// uncommitted transactions are visible locally.
func (l *LocalEngine) Pull(ctx context.Context, pkg *PackageContext, force bool) (string, error) {
	remotePath, err := l.resolver.Resolve(ctx, pkg)
	if err != nil {
		return "", err
	}
	localPath := l.cachePath(pkg)

	if !force {
		if cached, ok := l.validCache(ctx, pkg, remotePath); ok {
			return cached, nil
		}
	}

	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create cache dir: %w", err)
	}

	if err := l.pullFile(ctx, pkg, remotePath, localPath); err != nil {
		return "", err
	}
	l.pullCompanions(ctx, pkg, remotePath, localPath)

	metadata := cacheMetadata{
		Mtime:    l.remoteMtime(ctx, pkg, remotePath),
		CachedAt: time.Now().Format(time.RFC3339),
		DBPath:   remotePath,
		Package:  pkg.Package(),
	}
	if data, err := json.MarshalIndent(metadata, "", "  "); err == nil {
		_ = os.WriteFile(l.metadataPath(pkg), data, 0o644)
	}
	return localPath, nil
}

func (l *LocalEngine) validCache(ctx context.Context, pkg *PackageContext, remotePath string) (string, bool) {
	localPath := l.cachePath(pkg)
	if _, err := os.Stat(localPath); err != nil {
		return "", false
	}
	data, err := os.ReadFile(l.metadataPath(pkg))
	if err != nil {
		return "", false
	}
	var metadata cacheMetadata
	if err := json.Unmarshal(data, &metadata); err != nil {
		return "", false
	}

	remoteMtime := l.remoteMtime(ctx, pkg, remotePath)
	if remoteMtime == 0 {
		// Freshness unverifiable; use the cached copy anyway.
		return localPath, true
	}
	if remoteMtime != metadata.Mtime {
		return "", false
	}
	return localPath, true
}

// remoteMtime reads the on-device modification time with stat, falling back
// to a hash of ls -l output on devices without stat -c. Returns 0 when
// neither works.
func (l *LocalEngine) remoteMtime(ctx context.Context, pkg *PackageContext, remotePath string) int64 {
	out, err := l.runner.Run(ctx, pkg.RunAs("stat -c %Y "+remotePath))
	if err == nil {
		if mtime, err := strconv.ParseInt(strings.TrimSpace(out), 10, 64); err == nil {
			return mtime
		}
	}
	out, err = l.runner.Run(ctx, pkg.RunAs("ls -l "+remotePath))
	if err != nil || strings.TrimSpace(out) == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(out))
	return int64(h.Sum32())
}

// pullFile streams the database through exec-out, gzip-compressed when the
// device has gzip, raw cat otherwise.
func (l *LocalEngine) pullFile(ctx context.Context, pkg *PackageContext, remotePath, localPath string) error {
	gz, err := l.runner.Run(ctx, "which gzip")
	compressed := err == nil && strings.TrimSpace(gz) != ""

	if compressed {
		data, err := l.bridge.ExecOut(ctx, l.serial, pkg.RunAs("gzip -c "+remotePath))
		if err == nil {
			reader, err := gzip.NewReader(bytes.NewReader(data))
			if err == nil {
				plain, err := io.ReadAll(reader)
				if err == nil {
					return os.WriteFile(localPath, plain, 0o644)
				}
			}
		}
		// Compression failed somewhere along the way; retry uncompressed.
	}

	data, err := l.bridge.ExecOut(ctx, l.serial, pkg.RunAs("cat "+remotePath))
	if err != nil {
		return fmt.Errorf("pull database: %w", err)
	}
	return os.WriteFile(localPath, data, 0o644)
}

// pullCompanions best-effort pulls -wal and -shm files. Missing companions
// are expected, not failures.
func (l *LocalEngine) pullCompanions(ctx context.Context, pkg *PackageContext, remotePath, localPath string) {
	for _, suffix := range []string{"-wal", "-shm"} {
		probe, err := l.runner.Run(ctx, pkg.RunAs("ls "+remotePath+suffix))
		if err != nil || !strings.Contains(probe, suffix) {
			continue
		}
		data, err := l.bridge.ExecOut(ctx, l.serial, pkg.RunAs("cat "+remotePath+suffix))
		if err != nil {
			continue
		}
		_ = os.WriteFile(localPath+suffix, data, 0o644)
	}
}

// Query pulls (or reuses) the local copy and runs the statement through the
// sqlite3 driver. Writes are pushed back to the device afterwards.
func (l *LocalEngine) Query(ctx context.Context, pkg *PackageContext, sqlText string) (models.QueryResult, error) {
	localPath, err := l.Pull(ctx, pkg, false)
	if err != nil {
		return models.QueryResult{}, err
	}

	db, err := sql.Open("sqlite3", localPath)
	if err != nil {
		return models.QueryResult{}, fmt.Errorf("open local database: %w", err)
	}
	defer db.Close()

	if IsWriteStatement(sqlText) {
		if _, err := db.ExecContext(ctx, sqlText); err != nil {
			return models.QueryResult{}, &QueryError{Reason: "local write failed", Err: err}
		}
		if err := l.Push(ctx, pkg); err != nil {
			return models.QueryResult{}, err
		}
		return models.EmptyResult(), nil
	}

	rows, err := db.QueryContext(ctx, sqlText)
	if err != nil {
		return models.QueryResult{}, &QueryError{Reason: "local query failed", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return models.QueryResult{}, err
	}

	result := models.QueryResult{Columns: columns, Rows: []models.Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		pointers := make([]any, len(columns))
		for i := range values {
			pointers[i] = &values[i]
		}
		if err := rows.Scan(pointers...); err != nil {
			return models.QueryResult{}, err
		}
		row := models.Row{}
		for i, column := range columns {
			if b, ok := values[i].([]byte); ok {
				row[column] = string(b)
			} else {
				row[column] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return models.QueryResult{}, err
	}
	result.RowCount = len(result.Rows)
	return result, nil
}

// Push stages the modified local copy in /data/local/tmp and copies it into
// the sandbox with run-as. The staging file is removed either way.
func (l *LocalEngine) Push(ctx context.Context, pkg *PackageContext) error {
	remotePath := pkg.DatabasePath()
	if remotePath == "" {
		return &DatabaseNotFoundError{Database: pkg.Database()}
	}
	localPath := l.cachePath(pkg)
	if _, err := os.Stat(localPath); err != nil {
		return fmt.Errorf("no local copy to push: %w", err)
	}

	stagingPath := "/data/local/tmp/" + pkg.Database()
	if err := l.bridge.Push(ctx, l.serial, localPath, stagingPath); err != nil {
		return err
	}
	defer func() { _, _ = l.runner.Run(ctx, "rm "+stagingPath) }()

	if _, err := l.runner.Run(ctx, pkg.RunAs(fmt.Sprintf("cp %s %s", stagingPath, remotePath))); err != nil {
		return fmt.Errorf("copy into sandbox: %w", err)
	}
	return nil
}

// ClearCache removes the cached copy, its companions and metadata.
func (l *LocalEngine) ClearCache(pkg *PackageContext) error {
	localPath := l.cachePath(pkg)
	for _, p := range []string{localPath, localPath + "-wal", localPath + "-shm", l.metadataPath(pkg)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
