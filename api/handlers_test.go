package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"droidsql/config"
	"droidsql/models"
	"droidsql/service"
)

// stubBridge satisfies the session layer's bridge transport with canned
// device-side behavior.
type stubBridge struct {
	devices []models.Device
	respond func(command string) (string, error)
}

func (s *stubBridge) Ping(ctx context.Context) error { return nil }

func (s *stubBridge) ListDevices(ctx context.Context) ([]models.Device, error) {
	return s.devices, nil
}

func (s *stubBridge) Shell(ctx context.Context, serial, command string) (string, error) {
	if s.respond != nil {
		return s.respond(command)
	}
	return "", nil
}

// sqliteStub answers resolution and provisioning probes, then delegates the
// sqlite3 invocations themselves.
func sqliteStub(onQuery func(command string) (string, error)) *stubBridge {
	return &stubBridge{
		devices: []models.Device{{Serial: "emulator-5554", DisplayName: "emulator-5554", Transport: models.TransportBridge}},
		respond: func(command string) (string, error) {
			switch {
			case strings.Contains(command, "ls databases/"):
				return "notes.db", nil
			case strings.Contains(command, "./sqlite3 -version"):
				return "3.42.0 2023-05-16", nil
			default:
				return onQuery(command)
			}
		},
	}
}

func testServer(t *testing.T, bridge *stubBridge) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	sessions := service.NewSessionManager(bridge, nil)
	s := &Server{
		Sessions: sessions,
		Pkg:      service.NewPackageContext("com.example.app", "notes.db"),
		Engine:   service.NewEngine(sessions),
		Packages: service.NewPackageLister(sessions),
		Registry: service.NewDeviceRegistry(),
		Hub:      NewHub(),
	}

	router := gin.New()
	router.Use(CORSMiddleware())
	api := router.Group("/api")
	api.GET("/ping", s.Ping)
	api.GET("/tracked-devices", s.TrackedDevices)
	api.GET("/preferences", s.GetPreferences)
	api.POST("/preferences", s.UpdatePreferences)
	api.GET("/check-connection", s.CheckConnection)
	api.POST("/connect", s.Connect)
	api.POST("/disconnect", s.Disconnect)
	api.POST("/package", s.SelectPackage)
	api.POST("/database", s.SelectDatabase)
	api.GET("/tables", s.Tables)
	api.GET("/table-structure/:table", s.TableStructure)
	api.GET("/table-data/:table", s.TableData)
	api.POST("/query", s.Query)
	return s, router
}

func doRequest(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPingShape(t *testing.T) {
	_, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodGet, "/api/ping", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"ok": true}`, w.Body.String())
}

func TestConnectThenCheckConnection(t *testing.T) {
	bridge := sqliteStub(func(command string) (string, error) {
		return "", errors.New("unexpected command: " + command)
	})
	_, router := testServer(t, bridge)

	w := doRequest(router, http.MethodPost, "/api/connect", `{"transport":"bridge"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)

	w = doRequest(router, http.MethodGet, "/api/check-connection", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
}

func TestCheckConnectionWithoutDevice(t *testing.T) {
	_, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodGet, "/api/check-connection", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Contains(t, resp.Error, "no device connected")
}

func TestSelectPackageValidation(t *testing.T) {
	s, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodPost, "/api/package", `{"name":""}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(router, http.MethodPost, "/api/package", `{"name":"com.other.app"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "com.other.app", s.Pkg.Package())
}

func TestQueryEndpointRunsStatement(t *testing.T) {
	bridge := sqliteStub(func(command string) (string, error) {
		if strings.Contains(command, "-json") {
			return `[{"id":1,"body":"hello"}]`, nil
		}
		return "", errors.New("unexpected command: " + command)
	})
	_, router := testServer(t, bridge)

	w := doRequest(router, http.MethodPost, "/api/connect", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodPost, "/api/query", `{"query":"SELECT id, body FROM notes"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool               `json:"success"`
		Data    models.QueryResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, []string{"id", "body"}, resp.Data.Columns)
	assert.Equal(t, 1, resp.Data.RowCount)
}

func TestQueryEndpointRejectsEmptyStatement(t *testing.T) {
	_, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodPost, "/api/query", `{"query":"   "}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryEndpointWithoutSession(t *testing.T) {
	_, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodPost, "/api/query", `{"query":"SELECT 1"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// Every probe fails without a session, so resolution comes up empty.
	var resp models.APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestTableDataWindowAndTotal(t *testing.T) {
	bridge := sqliteStub(func(command string) (string, error) {
		switch {
		case strings.Contains(command, "table_info"):
			return `[{"cid":0,"name":"id","type":"INTEGER","notnull":0,"dflt_value":null,"pk":1}]`, nil
		case strings.Contains(command, "COUNT(*)"):
			return `[{"count":3}]`, nil
		case strings.Contains(command, "LIMIT 2 OFFSET 0"):
			return `[{"id":1},{"id":2}]`, nil
		default:
			return "", errors.New("unexpected command: " + command)
		}
	})
	_, router := testServer(t, bridge)

	w := doRequest(router, http.MethodPost, "/api/connect", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/table-data/notes?limit=2&offset=0", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Data    struct {
			Columns    []string     `json:"columns"`
			Rows       []models.Row `json:"rows"`
			RowCount   int          `json:"row_count"`
			TotalCount *int64       `json:"total_count"`
			Limit      int          `json:"limit"`
			Offset     int          `json:"offset"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"id"}, resp.Data.Columns)
	assert.Equal(t, 2, resp.Data.RowCount)
	require.NotNil(t, resp.Data.TotalCount)
	assert.Equal(t, int64(3), *resp.Data.TotalCount)
	assert.Equal(t, 2, resp.Data.Limit)
}

func TestTableStructureUnknownTable(t *testing.T) {
	bridge := sqliteStub(func(command string) (string, error) {
		return "", nil
	})
	_, router := testServer(t, bridge)

	w := doRequest(router, http.MethodPost, "/api/connect", `{}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/table-structure/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTrackedDevicesServedFromRegistry(t *testing.T) {
	s, router := testServer(t, &stubBridge{})

	s.Registry.Apply(models.DeviceEvent{Serial: "emulator-5554", State: "device", Present: true})
	s.Registry.Apply(models.DeviceEvent{Serial: "R58M123ABC", State: "unauthorized", Present: true})

	w := doRequest(router, http.MethodGet, "/api/tracked-devices", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Devices []models.Device `json:"devices"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Devices, 1)
	assert.Equal(t, "emulator-5554", resp.Devices[0].Serial)

	// An unplug event drops the serial from what clients see.
	s.Registry.Apply(models.DeviceEvent{Serial: "emulator-5554", State: "device", Present: false})
	w = doRequest(router, http.MethodGet, "/api/tracked-devices", "")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Devices)
}

func TestPreferencesRoundTripThroughAPI(t *testing.T) {
	s, router := testServer(t, &stubBridge{})
	prefs, err := config.LoadPreferences(filepath.Join(t.TempDir(), "prefs.toml"))
	require.NoError(t, err)
	s.Prefs = prefs

	w := doRequest(router, http.MethodPost, "/api/preferences",
		`{"last_query":"SELECT 1;","collapsed":{"schema":true}}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(router, http.MethodGet, "/api/preferences", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool              `json:"success"`
		Data    config.PrefValues `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "SELECT 1;", resp.Data.LastQuery)
	assert.True(t, resp.Data.Collapsed["schema"])
}

func TestPreferencesWithoutStore(t *testing.T) {
	_, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodGet, "/api/preferences", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = doRequest(router, http.MethodPost, "/api/preferences", `{"collapsed":{"x":true}}`)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCORSPreflight(t *testing.T) {
	_, router := testServer(t, &stubBridge{})

	w := doRequest(router, http.MethodOptions, "/api/ping", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
