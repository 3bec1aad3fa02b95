package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"droidsql/config"
	"droidsql/models"
)

// maxBrowseLimit caps table windows so an "All" request cannot ask the device
// to serialize an unbounded result.
const maxBrowseLimit = 100000

// Ping answers the bridge discovery probe.
func (s *Server) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Devices enumerates attached devices through the bridge transport.
func (s *Server) Devices(c *gin.Context) {
	devices, err := s.Bridge.ListDevices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	s.Registry.ReplaceAll(devices)
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// TrackedDevices answers from the registry fed by the tracking stream, so
// clients get plug/unplug state without forcing a fresh enumeration.
func (s *Server) TrackedDevices(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"devices": s.Registry.Snapshot()})
}

type shellRequest struct {
	Command string `json:"command"`
	Serial  string `json:"serial"`
}

// Shell runs one raw command for the browser client. The command rides the
// subprocess's stdin, never its argv.
func (s *Server) Shell(c *gin.Context) {
	var req shellRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no command provided"})
		return
	}
	output, err := s.Bridge.Shell(c.Request.Context(), req.Serial, req.Command)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"output": output})
}

// CheckConnection reports session state and whether the selected database is
// reachable inside the selected package.
func (s *Server) CheckConnection(c *gin.Context) {
	device, ok := s.activeDevice()
	if !ok {
		c.JSON(http.StatusOK, models.ErrorResponse("no device connected"))
		return
	}
	if _, err := s.Engine.Resolver().Resolve(c.Request.Context(), s.Pkg); err != nil {
		c.JSON(http.StatusOK, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"device":   device,
		"package":  s.Pkg.Package(),
		"database": s.Pkg.Database(),
	}))
}

type connectRequest struct {
	Transport models.Transport `json:"transport"`
	Serial    string           `json:"serial"`
}

// Connect establishes a session, superseding any live one.
func (s *Server) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("malformed request"))
		return
	}
	if req.Transport == "" {
		req.Transport = models.TransportBridge
	}
	session, err := s.Sessions.Connect(c.Request.Context(), req.Transport, req.Serial)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	if s.Prefs != nil {
		_ = s.Prefs.Update(func(v *config.PrefValues) { v.LastDevice = session.Device.Serial })
	}
	c.JSON(http.StatusOK, models.SuccessResponse(session.Device))
}

// Disconnect tears the active session down.
func (s *Server) Disconnect(c *gin.Context) {
	s.Sessions.Disconnect()
	c.JSON(http.StatusOK, models.MessageResponse("disconnected"))
}

// ListPackages lists debuggable third-party packages on the device.
func (s *Server) ListPackages(c *gin.Context) {
	packages, err := s.Packages.ListDebuggable(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(packages))
}

type selectRequest struct {
	Name string `json:"name"`
}

// SelectPackage switches the package context, dropping its sandbox caches.
func (s *Server) SelectPackage(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("no package provided"))
		return
	}
	s.Pkg.SetPackage(req.Name)
	if s.Prefs != nil {
		_ = s.Prefs.Update(func(v *config.PrefValues) { v.LastPackage = req.Name })
	}
	c.JSON(http.StatusOK, models.MessageResponse("package selected"))
}

// SelectDatabase switches the database file within the package.
func (s *Server) SelectDatabase(c *gin.Context) {
	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("no database provided"))
		return
	}
	s.Pkg.SetDatabase(req.Name)
	if s.Prefs != nil {
		_ = s.Prefs.Update(func(v *config.PrefValues) { v.LastDatabase = req.Name })
	}
	c.JSON(http.StatusOK, models.MessageResponse("database selected"))
}

// ListDatabases enumerates database files across the conventional locations.
func (s *Server) ListDatabases(c *gin.Context) {
	files, err := s.Engine.Resolver().List(c.Request.Context(), s.Pkg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(files))
}

// SearchDatabases is the explicit recursive discovery mode behind the picker.
func (s *Server) SearchDatabases(c *gin.Context) {
	files, err := s.Engine.Resolver().Search(c.Request.Context(), s.Pkg, c.Query("q"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(files))
}

// Tables lists tables with their row counts.
func (s *Server) Tables(c *gin.Context) {
	tables, err := s.Engine.ListTablesWithCounts(c.Request.Context(), s.Pkg)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"tables": tables}))
}

// TableStructure returns the table_info pragma rows.
func (s *Server) TableStructure(c *gin.Context) {
	columns, err := s.Engine.TableSchema(c.Request.Context(), s.Pkg, c.Param("table"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	if len(columns) == 0 {
		c.JSON(http.StatusNotFound, models.ErrorResponse("table not found: "+c.Param("table")))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{"columns": columns}))
}

// TableData returns one browsing window plus the separately computed total.
func (s *Server) TableData(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit > maxBrowseLimit {
		limit = maxBrowseLimit
	}
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	result, err := s.Engine.BrowseTable(c.Request.Context(), s.Pkg, c.Param("table"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(gin.H{
		"columns":     result.Columns,
		"rows":        result.Rows,
		"row_count":   result.RowCount,
		"total_count": result.TotalCount,
		"limit":       limit,
		"offset":      offset,
	}))
}

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// Query executes an ad hoc statement.
func (s *Server) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("no query provided"))
		return
	}
	if req.Limit == 0 {
		req.Limit = 100
	}

	result, err := s.Engine.RunQuery(c.Request.Context(), s.Pkg, req.Query, req.Limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	if s.Prefs != nil {
		_ = s.Prefs.Update(func(v *config.PrefValues) { v.LastQuery = req.Query })
	}
	c.JSON(http.StatusOK, models.ResultResponse(result))
}

// GetPreferences returns the persisted client state for the UI to restore.
func (s *Server) GetPreferences(c *gin.Context) {
	if s.Prefs == nil {
		c.JSON(http.StatusOK, models.SuccessResponse(config.PrefValues{Collapsed: map[string]bool{}}))
		return
	}
	c.JSON(http.StatusOK, models.SuccessResponse(s.Prefs.Snapshot()))
}

type preferencesRequest struct {
	LastQuery *string         `json:"last_query"`
	Collapsed map[string]bool `json:"collapsed"`
}

// UpdatePreferences merges client state changes: collapse flags are folded in
// per key, absent fields stay untouched.
func (s *Server) UpdatePreferences(c *gin.Context) {
	var req preferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse("malformed request"))
		return
	}
	if s.Prefs == nil {
		c.JSON(http.StatusOK, models.MessageResponse("preferences unavailable"))
		return
	}
	err := s.Prefs.Update(func(v *config.PrefValues) {
		if req.LastQuery != nil {
			v.LastQuery = *req.LastQuery
		}
		for key, collapsed := range req.Collapsed {
			v.Collapsed[key] = collapsed
		}
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("preferences saved"))
}

// ClearCache drops the local fallback copy of the selected database.
func (s *Server) ClearCache(c *gin.Context) {
	if err := s.localEngine().ClearCache(s.Pkg); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("cache cleared"))
}

// RefreshDatabase re-pulls the database into the local cache, bypassing the
// freshness check.
func (s *Server) RefreshDatabase(c *gin.Context) {
	local := s.localEngine()
	if err := local.ClearCache(s.Pkg); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	if _, err := local.Pull(c.Request.Context(), s.Pkg, true); err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse(err.Error()))
		return
	}
	c.JSON(http.StatusOK, models.MessageResponse("database refreshed from device"))
}

