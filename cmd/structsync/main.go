// Command structsync is the headless ranch client. It connects to the
// ranch server, mirrors the structures on the player's plot through the
// reconciliation pipeline, journals everything the session saw and did,
// and exports the journal when the session ends.
//
// Run with -demo to bring up a built-in simulated server on a loopback
// listener first, so the whole pipeline can be exercised with no
// infrastructure behind it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/critterranch/structsync/internal/api"
	"github.com/critterranch/structsync/internal/config"
	"github.com/critterranch/structsync/internal/cull"
	"github.com/critterranch/structsync/internal/database"
	"github.com/critterranch/structsync/internal/dispatcher"
	"github.com/critterranch/structsync/internal/influx"
	"github.com/critterranch/structsync/internal/interact"
	"github.com/critterranch/structsync/internal/journal"
	"github.com/critterranch/structsync/internal/logging"
	"github.com/critterranch/structsync/internal/monitor"
	intOtel "github.com/critterranch/structsync/internal/otel"
	"github.com/critterranch/structsync/internal/pending"
	"github.com/critterranch/structsync/internal/reconcile"
	"github.com/critterranch/structsync/internal/registry"
	"github.com/critterranch/structsync/internal/rpc"
	"github.com/critterranch/structsync/internal/session"
	"github.com/critterranch/structsync/internal/transport"
	"github.com/critterranch/structsync/internal/worker"
	"github.com/critterranch/structsync/pkg/protocol"
	"github.com/critterranch/structsync/pkg/synchro"
)

const clientVersion = "0.9.2"

// memoryDumpInterval is how often the in-memory SQLite fallback is
// vacuumed to disk so a crash loses at most one interval of journal rows.
const memoryDumpInterval = 3 * time.Minute

// Package-level handles shared between setup, the context provider
// callbacks and the shutdown path.
var (
	SessionStartTime = time.Now()

	SlogManager  *logging.SlogManager
	Logger       *slog.Logger
	LogFile      *os.File
	OTelProvider *intOtel.Provider

	sessionCtx      *session.Context
	dbManager       *database.Manager
	influxManager   *influx.Manager
	journalRecorder journal.Recorder
	transportClient *transport.Client
	registryStore   *registry.Store
	pendingBuffer   *pending.Buffer
	reconciler      *reconcile.Service
	eventDispatcher *dispatcher.Dispatcher
	workerManager   *worker.Manager
	monitorService  *monitor.Service
)

func main() {
	var (
		configDir = flag.String("config", ".", "directory containing structsync.cfg.json")
		demoMode  = flag.Bool("demo", false, "run against a built-in simulated server")
		runFor    = flag.Duration("run", 0, "exit after this duration, 0 runs until interrupted")
	)
	flag.Parse()

	setupLogging(*configDir)
	Logger.Info("Starting up...", "version", clientVersion)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *runFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *runFor)
		defer cancel()
	}

	err := run(ctx, *demoMode)
	shutdownLogging()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupLogging brings logging up in two stages: a stdout logger so config
// loading has somewhere to complain, then the real session log file with
// the OTel bridge and optional GELF fan-out once config is in.
func setupLogging(configDir string) {
	SlogManager = logging.NewSlogManager()
	SlogManager.Setup(nil, "info", nil)
	Logger = SlogManager.Logger()

	if err := config.Load(configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		Logger.Info("Loaded config")
	}

	logsDir := config.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.Mkdir(logsDir, 0755)
	}

	logPath := logging.LogFilePath(logsDir, "structsync", SessionStartTime)
	file, err := os.OpenFile(logPath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to open log file, staying on stdout", "error", err, "path", logPath)
	} else {
		LogFile = file
	}

	otelCfg := config.GetOTelConfig()
	if otelCfg.Enabled {
		var logWriter io.Writer
		if LogFile != nil {
			logWriter = LogFile
		}
		provider, err := intOtel.New(intOtel.Config{
			Enabled:      true,
			ServiceName:  otelCfg.ServiceName,
			BatchTimeout: otelCfg.BatchTimeout,
			LogWriter:    logWriter,
			Endpoint:     otelCfg.Endpoint,
			Insecure:     otelCfg.Insecure,
		})
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			OTelProvider = provider
			if otelCfg.Endpoint != "" {
				Logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
			} else {
				Logger.Info("OTel provider initialized")
			}
		}
	}

	var extra []slog.Handler
	gelfCfg := config.GetGraylogConfig()
	if gelfCfg.Enabled {
		gelf, err := logging.NewGelfHandler(gelfCfg.Address, slog.LevelInfo)
		if err != nil {
			Logger.Error("Failed to connect to Graylog", "error", err, "address", gelfCfg.Address)
		} else {
			extra = append(extra, gelf)
		}
	}

	var logProvider *sdklog.LoggerProvider
	if OTelProvider != nil {
		logProvider = OTelProvider.LoggerProvider()
	}
	var sink io.Writer
	if LogFile != nil {
		sink = LogFile
	}
	SlogManager.Setup(sink, config.GetString("logLevel"), logProvider, extra...)
	Logger = SlogManager.Logger()
	if LogFile != nil {
		Logger.Info("Logging to file", "path", logPath)
	}
}

func shutdownLogging() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Error("OTel shutdown failed", "error", err)
		}
	}
	if LogFile != nil {
		LogFile.Close()
	}
}

func run(ctx context.Context, demoMode bool) error {
	if demoMode {
		demo, err := startDemoServer(config.GetDemoConfig(), Logger)
		if err != nil {
			return fmt.Errorf("demo server: %w", err)
		}
		defer demo.Close()

		viper.Set("server.wsUrl", demo.URL())
		if config.GetString("player.id") == "" {
			viper.Set("player.id", demo.PlayerID())
			viper.Set("player.name", demo.PlayerName())
		}
		Logger.Info("Demo server listening", "url", demo.URL())
	}

	serverCfg := config.GetServerConfig()
	playerCfg := config.GetPlayerConfig()
	if playerCfg.ID == "" {
		return fmt.Errorf("player.id is not configured")
	}

	sessionCtx = session.NewContext(playerCfg.ID, playerCfg.Name)
	SlogManager.SetContextProvider(sessionAttrs)
	Logger.Info("Session created", "player", playerCfg.ID)

	if err := initStorage(ctx); err != nil {
		return err
	}
	defer closeStorage()

	initInflux()
	defer closeInflux()

	tCfg := config.GetTransportConfig()
	transportClient = transport.New(transport.Config{
		URL:            serverCfg.WSURL,
		Token:          serverCfg.APIKey,
		RequestTimeout: tCfg.RequestTimeout,
		RequestRate:    tCfg.RequestRate,
		RequestBurst:   tCfg.RequestBurst,
		PushBuffer:     tCfg.PushBuffer,
	}, Logger)
	rpcClient := rpc.NewClient(transportClient)

	registryStore = registry.NewStore()
	pendingBuffer = pending.NewBuffer()
	gate := cull.New(config.GetCullConfig(), cull.PositionFunc(playerPosition))

	reconciler = reconcile.NewService(reconcile.Dependencies{
		Registry: registryStore,
		Pending:  pendingBuffer,
		States:   rpcClient,
		Session:  sessionCtx,
		Gate:     gate,
		Logger:   Logger,
	})

	interactor := interact.NewDispatcher(interact.Dependencies{
		Registry: registryStore,
		Actions:  rpcClient,
		Items:    mintInventory{},
		Session:  sessionCtx,
		Logger:   Logger,
	})

	syncer := synchro.New(synchro.Dependencies{
		Registry:   registryStore,
		Reconciler: reconciler,
		Interact:   interactor,
		Session:    sessionCtx,
		Income:     config.GetIncomeConfig(),
		Gate:       gate,
		Journal:    journalRecorder,
		Logger:     Logger,
	})

	detach := journal.Attach(journalRecorder, journal.Streams{
		Registry:  registryStore,
		Changes:   reconciler.Changes(),
		Lifecycle: reconciler.Lifecycle(),
	}, Logger)

	var err error
	eventDispatcher, err = dispatcher.New(logging.NewDispatcherLogger(Logger))
	if err != nil {
		return fmt.Errorf("dispatcher: %w", err)
	}

	workerManager = worker.NewManager(worker.Dependencies{
		Reconciler: reconciler,
		Session:    sessionCtx,
		Logger:     Logger,
	})
	workerManager.RegisterHandlers(eventDispatcher)

	transportClient.SetOnReconnect(func() {
		Logger.Info("Reconnected, waiting for welcome replay")
	})

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	welcome, err := transportClient.Connect(connectCtx, protocol.IdentifyPayload{
		PlayerID:        playerCfg.ID,
		PlayerName:      playerCfg.Name,
		ProtocolVersion: protocol.Version,
	})
	cancelConnect()
	if err != nil {
		return fmt.Errorf("connect %s: %w", serverCfg.WSURL, err)
	}
	workerManager.ApplyWelcome(welcome, time.Now())
	offset, _ := sessionCtx.Offset()
	Logger.Info("Connected", "server", serverCfg.WSURL, "clockOffset", offset)

	if err := journalRecorder.StartSession(sessionCtx, clientVersion); err != nil {
		Logger.Error("Failed to start journal session", "error", err)
	}

	monitorService = monitor.NewService(monitor.Dependencies{
		Config:     config.GetMonitorConfig(),
		Reconciler: reconciler,
		Registry:   registryStore,
		Pending:    pendingBuffer,
		Transport:  transportClient,
		Session:    sessionCtx,
		Journal:    journalRecorder,
		Influx:     influxManager,
		LogManager: SlogManager,
	})
	if config.GetMonitorConfig().Enabled {
		if err := monitorService.Start(); err != nil {
			Logger.Error("Failed to start status monitor", "error", err)
		}
	}

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		workerManager.Pump(ctx, transportClient.Pushes(), eventDispatcher)
	}()

	if demoMode {
		go demoActivity(ctx, syncer, Logger)
	}
	go checkCompanionStatus(serverCfg)

	select {
	case <-ctx.Done():
		Logger.Info("Shutting down", "reason", ctx.Err())
	case <-pumpDone:
		Logger.Warn("Push stream closed, shutting down")
	}

	// Ordered teardown: stop the event sources, then the consumers, then
	// finalize the journal.
	transportClient.Close()
	<-pumpDone
	if monitorService.IsRunning() {
		monitorService.Stop()
	}
	detach()
	finishSession(serverCfg)
	return nil
}

// sessionAttrs supplies the per-record log attributes. Fields appear as
// the services backing them come up.
func sessionAttrs() []slog.Attr {
	attrs := make([]slog.Attr, 0, 3)
	if sessionCtx != nil {
		attrs = append(attrs, slog.String("session", sessionCtx.SessionID()))
	}
	if transportClient != nil {
		attrs = append(attrs, slog.Bool("connected", transportClient.Connected()))
	}
	if registryStore != nil {
		attrs = append(attrs, slog.Int("structures", registryStore.Len()))
	}
	return attrs
}

// playerPosition feeds the cull gate. The headless client has no avatar,
// so the plot origin stands in for the player once the welcome has landed.
func playerPosition() (geom.Point, bool) {
	if sessionCtx == nil {
		return geom.Point{}, false
	}
	if _, synced := sessionCtx.Offset(); !synced {
		return geom.Point{}, false
	}
	return geom.NewPoint(geom.Coordinates{XY: sessionCtx.PlotOrigin(), Type: geom.DimXY}), true
}

// initStorage connects the journal backend. Database mode falls back to
// in-memory SQLite when Postgres is unreachable, with a periodic dump to
// disk so the rows survive a crash.
func initStorage(ctx context.Context) error {
	storageCfg := config.GetStorageConfig()

	if storageCfg.Type == "database" {
		dbManager = database.NewManager(config.GetDBConfig(), storageZerolog())
		if err := dbManager.Connect(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if err := dbManager.Setup(); err != nil {
			return fmt.Errorf("storage: %w", err)
		}
		if dbManager.ShouldSaveLocal {
			dbManager.SqliteFilePath = filepath.Join(
				config.GetString("logsDir"),
				fmt.Sprintf("structsync_%s.db", SessionStartTime.Format("20060102_150405")),
			)
			Logger.Warn("Postgres unreachable, journaling to in-memory SQLite",
				"dumpPath", dbManager.SqliteFilePath)
			go dumpLoop(ctx)
		}
	}

	rec, err := journal.New(storageCfg, dbManager, Logger)
	if err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	if err := rec.Init(); err != nil {
		return fmt.Errorf("journal: %w", err)
	}
	journalRecorder = rec
	Logger.Info("Journal backend initialized", "type", storageCfg.Type)
	return nil
}

func closeStorage() {
	if dbManager != nil {
		if err := dbManager.Close(); err != nil {
			Logger.Error("Database close failed", "error", err)
		}
	}
}

// dumpLoop vacuums the in-memory SQLite fallback to disk every interval.
func dumpLoop(ctx context.Context) {
	ticker := time.NewTicker(memoryDumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := dbManager.DumpMemoryToDisk(); err != nil {
				Logger.Error("Failed to dump in-memory DB to disk", "error", err)
			}
		}
	}
}

func initInflux() {
	influxCfg := config.GetInfluxConfig()
	if !influxCfg.Enabled {
		return
	}

	backupPath := filepath.Join(config.GetString("logsDir"),
		fmt.Sprintf("influx_backup_%s.gz", SessionStartTime.Format("20060102_150405")))
	influxManager = influx.NewManager(influxCfg, storageZerolog(), backupPath)
	if err := influxManager.Connect(); err != nil {
		Logger.Warn("InfluxDB unavailable, sync health metrics disabled", "error", err)
		influxManager = nil
	}
}

func closeInflux() {
	if influxManager != nil {
		if err := influxManager.Close(); err != nil {
			Logger.Error("InfluxDB close failed", "error", err)
		}
	}
}

// storageZerolog builds the zerolog logger the database and InfluxDB
// managers write through, pointed at the session log file.
func storageZerolog() zerolog.Logger {
	var sink io.Writer = os.Stdout
	if LogFile != nil {
		sink = LogFile
	}
	return zerolog.New(sink).With().Timestamp().Logger()
}

// checkCompanionStatus probes the ranch companion service so the log shows
// whether a journal upload can be expected to work.
func checkCompanionStatus(serverCfg config.ServerConfig) {
	if serverCfg.APIURL == "" {
		return
	}
	if err := api.New(serverCfg.APIURL, serverCfg.APIKey).Healthcheck(); err != nil {
		Logger.Info("Ranch companion service is offline")
	} else {
		Logger.Info("Ranch companion service is online")
	}
}

// finishSession finalizes the journal, uploads the export when a companion
// service is configured, and closes the backend.
func finishSession(serverCfg config.ServerConfig) {
	if err := journalRecorder.EndSession(); err != nil {
		Logger.Error("Journal export failed", "error", err)
	}

	if up, ok := journalRecorder.(journal.Uploadable); ok && serverCfg.APIURL != "" && serverCfg.APIKey != "" {
		if path := up.ExportedFilePath(); path != "" {
			uploadJournal(serverCfg, path)
		}
	}

	if err := journalRecorder.Close(); err != nil {
		Logger.Error("Journal close failed", "error", err)
	}
	Logger.Info("Session finished", "duration", time.Since(sessionCtx.StartedAt()))
}

func uploadJournal(serverCfg config.ServerConfig, path string) {
	client := api.New(serverCfg.APIURL, serverCfg.APIKey)
	meta := api.UploadMetadata{
		PlayerID:        sessionCtx.PlayerID(),
		PlayerName:      sessionCtx.PlayerName(),
		Tag:             "structsync",
		SessionDuration: time.Since(sessionCtx.StartedAt()).Seconds(),
		Structures:      registryStore.Len(),
	}
	if err := client.Upload(path, meta); err != nil {
		Logger.Error("Journal upload failed", "error", err, "path", path)
		return
	}
	Logger.Info("Journal uploaded", "path", path)
}

// mintInventory stands in for the game's inventory UI in a headless run:
// every placement gets a fresh GUID and the demo server accepts any.
type mintInventory struct{}

func (mintInventory) NextEgg() (string, bool)  { return uuid.NewString(), true }
func (mintInventory) NextUnit() (string, bool) { return uuid.NewString(), true }

// demoActivity drives random triggers against the synchronized set so a
// demo run exercises the full request path, not just the push path.
func demoActivity(ctx context.Context, syncer *synchro.Synchronizer, log *slog.Logger) {
	cfg := config.GetDemoConfig()
	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		snap := syncer.Snapshot()
		if len(snap) == 0 {
			continue
		}
		st := snap[rng.Intn(len(snap))]

		var (
			out interact.Outcome
			err error
		)
		if rng.Intn(5) == 0 {
			out, err = syncer.TriggerSecondary(ctx, st.ID)
		} else {
			out, err = syncer.TriggerPrimary(ctx, st.ID)
		}
		switch {
		case errors.Is(err, interact.ErrNoAction):
			// phase has no binding for this trigger, nothing to do
		case err != nil:
			log.Warn("Demo trigger failed", "structure", st.ID, "error", err)
		case !out.Success:
			log.Info("Demo trigger rejected", "structure", st.ID,
				"action", out.Action, "message", out.Message)
		default:
			log.Info("Demo trigger applied", "structure", st.ID,
				"action", out.Action, "amount", out.Amount,
				"label", syncer.Label(st.ID))
		}
	}
}
