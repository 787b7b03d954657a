package main

import (
	"context"
	"flag"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"voxelstream.ai/internal/catalogs"
	"voxelstream.ai/internal/mapserver"
	"voxelstream.ai/internal/persistence/indexdb"
	persistlog "voxelstream.ai/internal/persistence/log"
	"voxelstream.ai/internal/persistence/r2s3"
	"voxelstream.ai/internal/render"
	"voxelstream.ai/internal/transport/observer"
	"voxelstream.ai/internal/transport/tiles"
	"voxelstream.ai/internal/transport/ws"
	"voxelstream.ai/internal/tuning"
)

func main() {
	loadDotEnv(".env")

	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		configDir  = flag.String("configs", "./configs", "config directory")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite batch/tile ledger")
		noJournal  = flag.Bool("disable_journal", false, "disable the zstd merge journal")
	)
	flag.Parse()

	logger := newLogger("[server] ")

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		logger.Fatalf("load catalogs: %v", err)
	}

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Fatalf("load tuning: %v", err)
		}
		logger.Printf("tuning not found (%s); using defaults", tp)
		tune = tuning.Defaults()
	}

	p := mapserver.New(mapserver.Config{
		Renderer: render.New(cats),
		Logger:   logger,
		HubQueue: tune.Server.HubQueue,
	})

	var journal *persistlog.MergeJournal
	if !*noJournal {
		journal = persistlog.NewMergeJournal(*dataDir)
		defer journal.Close()
		p.AddBatchSink(journal)
	}

	idx, err := openLedger(*dataDir, *disableDB)
	if err != nil {
		logger.Fatalf("open index backend: %v", err)
	}
	if idx != nil {
		defer idx.Close()
		if err := idx.UpsertCatalogs(cats, tune); err != nil {
			logger.Printf("index backend: upsert catalogs: %v", err)
		}
		p.AddBatchSink(idx)
		p.AddTileSink(idx)
	}

	mirror, err := buildTileMirror(logger)
	if err != nil {
		logger.Fatalf("init r2 mirror: %v", err)
	}
	if mirror != nil {
		defer mirror.Close()
		p.AddTileSink(mirror)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt := &serverRuntime{
		pipeline: p,
		producer: ws.NewServer(p, tune.Server.MaxMessageBytes, logger),
		viewers: observer.NewServer(p, observer.Config{
			OutQueue:         tune.Server.ObserverOutQueue,
			MaxRequestChunks: tune.Server.MaxRequestChunks,
		}, logger),
		tiles:   tiles.NewHandler(p.Cache, logger),
		journal: journal,
		ledger:  idx,
		mirror:  mirror,
		tune:    tune,
		started: time.Now(),
	}
	router := rt.router(envBool("VS_ENABLE_ADMIN_HTTP", defaultEnableAdminHTTP()))
	if envBool("VS_ENABLE_PPROF_HTTP", false) {
		router.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		router.HandleFunc("/debug/pprof/profile", pprof.Profile)
		router.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		router.HandleFunc("/debug/pprof/trace", pprof.Trace)
		router.PathPrefix("/debug/pprof/").HandlerFunc(pprof.Index)
	} else {
		logger.Printf("pprof endpoints disabled (VS_ENABLE_PPROF_HTTP=false)")
	}

	srv := &http.Server{
		Addr:              *addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s (protocol %s, data %s)", *addr, tune.ProtocolVersion, *dataDir)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

// serverRuntime holds what the HTTP surface reads from.
type serverRuntime struct {
	pipeline *mapserver.Pipeline
	producer *ws.Server
	viewers  *observer.Server
	tiles    *tiles.Handler

	journal *persistlog.MergeJournal
	ledger  *indexdb.SQLiteIndex
	mirror  *r2s3.Mirror

	tune    tuning.Tuning
	started time.Time
}

func (rt *serverRuntime) router(enableAdmin bool) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	r.HandleFunc("/metrics", rt.metricsHandler)
	r.HandleFunc("/v1/ws", rt.producer.Handler())
	r.HandleFunc("/v1/observer/ws", rt.viewers.WSHandler())
	rt.tiles.Register(r)
	if enableAdmin {
		r.HandleFunc("/admin/v1/state", rt.stateHandler).Methods(http.MethodGet)
	}
	return r
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

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
