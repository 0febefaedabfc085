package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"voxelterrain.ai/internal/persistence/indexdb"
	persistlog "voxelterrain.ai/internal/persistence/log"
	"voxelterrain.ai/internal/persistence/snapshot"
	"voxelterrain.ai/internal/protocol"
	"voxelterrain.ai/internal/terrain/gen"
	"voxelterrain.ai/internal/terrain/noise"
	"voxelterrain.ai/internal/terrain/stream"
	"voxelterrain.ai/internal/terrain/surface"
	"voxelterrain.ai/internal/terrain/volume"
	"voxelterrain.ai/internal/transport/ws"
	"voxelterrain.ai/internal/tuning"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configPath = flag.String("config", "./configs/terrain.yaml", "path to terrain.yaml")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		worldID    = flag.String("world", "", "world id (overrides world_id in the config)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite save/edit index")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("config not found (%s); using defaults", *configPath)
		tune = tuning.Defaults()
	}
	if id := strings.TrimSpace(*worldID); id != "" {
		tune.WorldID = id
	}

	field, err := noise.NewTerrain(tune.TerrainConfig())
	if err != nil {
		logger.Fatalf("terrain field: %v", err)
	}
	generator := gen.New(field, tune.ChunkSize, tune.VoxelSize, tune.GenBounds())
	extractor := &surface.Extractor{
		Method:    tune.Method(),
		VoxelSize: tune.VoxelSize,
		Fallback:  generator,
	}

	worldDir := filepath.Join(*dataDir, "worlds", tune.WorldID)
	archive := snapshot.NewDirArchive(worldDir)
	if err := archive.EnsureWorld(worldMeta(tune)); err != nil {
		logger.Fatalf("archive: %v", err)
	}

	editLog := persistlog.NewEditLogger(worldDir)
	defer func() {
		if err := editLog.Close(); err != nil {
			logger.Printf("close journal: %v", err)
		}
	}()
	journals := multiJournal{fileJournal{worldID: tune.WorldID, log: editLog, logger: logger}}

	var idx *indexdb.SQLiteIndex
	if !*disableDB {
		idx, err = indexdb.OpenSQLite(indexdb.DefaultPath(*dataDir, tune.WorldID), tune.WorldID)
		if err != nil {
			logger.Fatalf("open index: %v", err)
		}
		defer idx.Close()
		journals = append(journals, idx)
	}

	params := worldParams(tune)
	renderer := ws.NewServer(nil, params, ws.Options{
		EditsPerSecond: tune.EditRate.PerSecond,
		EditBurst:      tune.EditRate.Burst,
	}, logger)

	mgr, err := stream.New(stream.Config{
		WorldID:      tune.WorldID,
		ActiveRadius: tune.ActiveRadius,
		Workers:      tune.Workers,
		WorkPerTick:  tune.WorkPerTick,
		TickInterval: tune.TickInterval(),
		EditBacklog:  tune.EditBacklog,
	}, stream.Deps{
		Store:     volume.NewStore(tune.ChunkSize),
		Generator: generator,
		Extractor: extractor,
		Renderer:  renderer,
		Archive:   archive,
		Journal:   journals,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("stream: %v", err)
	}
	renderer.SetController(mgr)
	mgr.SetViewer(mgl64.Vec3{0, tune.Terrain.BaseHeight, 0})

	ctx, cancel := signalContext()
	defer cancel()

	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		if err := mgr.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("stream stopped: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, tune.WorldID, mgr.Metrics(), serverStats{
			Sessions:     renderer.Sessions(),
			CachedMeshes: renderer.CachedMeshes(),
			IndexDropped: idx.Dropped(),
		})
	})

	if envBool("VT_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()) {
		mux.HandleFunc("/admin/v1/state", stateHandler(tune.WorldID, mgr))
		mux.HandleFunc("/admin/v1/flush", flushHandler(mgr))
	} else {
		logger.Printf("admin endpoints disabled (VT_ENABLE_ADMIN_HTTP=false)")
	}
	if envBool("VT_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", renderer.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		renderer.Close()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("world=%s chunk_size=%d voxel_size=%g radius=%g method=%s listening on %s",
		tune.WorldID, tune.ChunkSize, tune.VoxelSize, tune.ActiveRadius, tune.MeshMethod, *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-runDone
	logger.Printf("stopped: %+v", mgr.Metrics())
}

type flusher interface {
	RequestFlush(ctx context.Context) (int, error)
}

type inspector interface {
	RequestInspect(ctx context.Context) ([]stream.ChunkInfo, error)
	Metrics() stream.Metrics
}

func stateHandler(worldID string, m inspector) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		chunks, err := m.RequestInspect(ctx)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		resp := struct {
			WorldID string             `json:"world_id"`
			Metrics stream.Metrics     `json:"metrics"`
			Chunks  []stream.ChunkInfo `json:"chunks"`
		}{
			WorldID: worldID,
			Metrics: m.Metrics(),
			Chunks:  chunks,
		}
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func flushHandler(m flusher) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		n, err := m.RequestFlush(ctx)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "saved": n, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "saved": n})
	}
}

func worldMeta(t tuning.Tuning) snapshot.WorldV1 {
	return snapshot.WorldV1{
		Version:   snapshot.FormatVersion,
		WorldID:   t.WorldID,
		Seed:      t.Noise.Seed,
		ChunkSize: t.ChunkSize,
		VoxelSize: t.VoxelSize,
		BoundsMin: t.Bounds.Min,
		BoundsMax: t.Bounds.Max,
	}
}

func worldParams(t tuning.Tuning) protocol.WorldParams {
	var mats []string
	for m := volume.MaterialNone; m.Valid(); m++ {
		mats = append(mats, m.String())
	}
	return protocol.WorldParams{
		WorldID:      t.WorldID,
		Seed:         t.Noise.Seed,
		ChunkSize:    t.ChunkSize,
		VoxelSize:    t.VoxelSize,
		ActiveRadius: t.ActiveRadius,
		MeshMethod:   string(t.Method()),
		TickRateHz:   t.TickRateHz,
		BoundsMin:    t.Bounds.Min,
		BoundsMax:    t.Bounds.Max,
		Materials:    mats,
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
