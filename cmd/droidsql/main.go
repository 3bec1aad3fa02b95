package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"droidsql/adb"
	"droidsql/api"
	"droidsql/config"
	"droidsql/models"
	"droidsql/service"
)

var (
	flagSerial   string
	flagPackage  string
	flagDatabase string
	flagDirect   bool
	flagUser     int
)

// app bundles the pieces a connected CLI command needs.
type app struct {
	cfg      *config.Config
	sessions *service.SessionManager
	engine   *service.Engine
	pkg      *service.PackageContext
	bridge   *adb.BridgeClient
	wire     *adb.WireClient
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	bridge := adb.NewBridgeClient(cfg.ADB.Path)
	wire := adb.NewWireClient(cfg.ADB.ServerHost, cfg.ADB.ServerPort)
	sessions := service.NewSessionManager(bridge, wire)
	sessions.PairingCodes = config.LoadPairingCode

	pkg := flagPackage
	if pkg == "" {
		pkg = cfg.Defaults.Package
	}
	database := flagDatabase
	if database == "" {
		database = cfg.Defaults.Database
	}
	pkgCtx := service.NewPackageContext(pkg, database)
	if flagUser >= 0 {
		pkgCtx.SetUserID(flagUser)
	}

	return &app{
		cfg:      cfg,
		sessions: sessions,
		engine:   service.NewEngine(sessions),
		pkg:      pkgCtx,
		bridge:   bridge,
		wire:     wire,
	}, nil
}

// connect establishes a session over the transport selected by flags.
func (a *app) connect(ctx context.Context) error {
	kind := models.TransportBridge
	if flagDirect {
		kind = models.TransportDirect
	}
	serial := flagSerial
	if serial == "" {
		serial = a.cfg.Defaults.Serial
	}
	_, err := a.sessions.Connect(ctx, kind, serial)
	return err
}

func (a *app) requirePackage() error {
	if a.pkg.Package() == "" {
		return fmt.Errorf("no package selected, pass --package or set defaults.package in %s", config.ConfigPath())
	}
	return nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// setupLogging mirrors server logs to log/<timestamp>.log alongside stdout.
func setupLogging() (*os.File, error) {
	logDir := "log"
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("logging to: %s", logPath)
	return logFile, nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the localhost HTTP bridge for browser clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			logFile, err := setupLogging()
			if err != nil {
				log.Printf("warning: file logging disabled: %v", err)
			} else {
				defer logFile.Close()
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			prefs, err := config.LoadPreferences(config.DefaultPrefsPath())
			if err != nil {
				log.Printf("warning: preferences unavailable: %v", err)
			}

			server := api.NewServer(cfg, prefs)
			go server.Hub.Run()
			server.StartTracking(cmd.Context())

			router := gin.Default()
			api.SetupRoutes(router, server)
			addr := fmt.Sprintf(":%d", cfg.Bridge.Port)
			log.Printf("bridge listening on http://localhost%s", addr)
			return router.Run(addr)
		},
	}
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List attached devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			devices, err := a.bridge.ListDevices(cmd.Context())
			if err != nil {
				return err
			}
			for _, d := range devices {
				fmt.Printf("%-24s %s\n", d.Serial, d.DisplayName)
			}
			if len(devices) == 0 {
				fmt.Println("no devices attached")
			}
			return nil
		},
	}
}

func newPackagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "packages",
		Short: "List debuggable packages on the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.sessions.Disconnect()

			packages, err := service.NewPackageLister(a.sessions).ListDebuggable(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range packages {
				fmt.Println(p.Name)
			}
			return nil
		},
	}
}

func newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requirePackage(); err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.sessions.Disconnect()

			tables, err := a.engine.ListTablesWithCounts(cmd.Context(), a.pkg)
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Printf("%-40s %d rows\n", t.Name, t.RowCount)
			}
			return nil
		},
	}
}

func newQueryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "query [sql]",
		Short: "Run a SQL statement on the device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requirePackage(); err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.sessions.Disconnect()

			result, err := a.engine.RunQuery(cmd.Context(), a.pkg, args[0], limit)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "row limit appended to bare SELECTs")
	return cmd
}

func newBrowseCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "browse [table]",
		Short: "Fetch a window of table rows plus the total count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requirePackage(); err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.sessions.Disconnect()

			result, err := a.engine.BrowseTable(cmd.Context(), a.pkg, args[0], limit, offset)
			if err != nil {
				return err
			}
			return printJSON(result)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows per window")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [filter]",
		Short: "Recursively search the sandbox for database files",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requirePackage(); err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.sessions.Disconnect()

			filter := ""
			if len(args) > 0 {
				filter = args[0]
			}
			files, err := a.engine.Resolver().Search(cmd.Context(), a.pkg, filter)
			if err != nil {
				return err
			}
			for _, f := range files {
				fmt.Println(f.Path)
			}
			return nil
		},
	}
}

func newPullCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "pull",
		Short: "Pull the database into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.requirePackage(); err != nil {
				return err
			}
			if err := a.connect(cmd.Context()); err != nil {
				return err
			}
			defer a.sessions.Disconnect()

			serial := ""
			if s := a.sessions.Active(); s != nil {
				serial = s.Device.Serial
			}
			local := service.NewLocalEngine(a.bridge, a.sessions, serial, a.cfg.Cache.Dir)
			path, err := local.Pull(cmd.Context(), a.pkg, force)
			if err != nil {
				return err
			}
			fmt.Println(path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "re-pull even when the cache is fresh")
	return cmd
}

func newPairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair [host:port] [code]",
		Short: "Pair with a wireless device and remember the credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			addr, code := args[0], args[1]
			response, err := a.wire.Pair(cmd.Context(), addr, code)
			if err != nil {
				return err
			}
			if err := config.StorePairingCode(addr, code); err != nil {
				log.Printf("warning: could not persist pairing code: %v", err)
			}
			fmt.Println(strings.TrimSpace(response))
			return nil
		},
	}
}

func newDisconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect [host:port]",
		Short: "Release a wireless device connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			response, err := a.wire.Disconnect(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(strings.TrimSpace(response))
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Write the default config file if absent and print its path",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if _, err := os.Stat(config.ConfigPath()); errors.Is(err, os.ErrNotExist) {
				if err := cfg.Save(); err != nil {
					return err
				}
			}
			fmt.Println(config.ConfigPath())
			return nil
		},
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "droidsql",
		Short:         "Inspect SQLite databases inside Android app sandboxes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flagSerial, "serial", "s", "", "device serial")
	root.PersistentFlags().StringVarP(&flagPackage, "package", "p", "", "application package")
	root.PersistentFlags().StringVarP(&flagDatabase, "database", "d", "", "database file name")
	root.PersistentFlags().BoolVar(&flagDirect, "direct", false, "use the wire-protocol transport instead of the adb subprocess")
	root.PersistentFlags().IntVar(&flagUser, "user", -1, "android user id for cloned apps")

	root.AddCommand(
		newServeCmd(),
		newDevicesCmd(),
		newPackagesCmd(),
		newTablesCmd(),
		newQueryCmd(),
		newBrowseCmd(),
		newSearchCmd(),
		newPullCmd(),
		newPairCmd(),
		newDisconnectCmd(),
		newConfigCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
