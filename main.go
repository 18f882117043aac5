package main

import (
	"TouchCounter/adhoc"
	"TouchCounter/config"
	"TouchCounter/engine"
	"TouchCounter/logger"
	"TouchCounter/monitor"
	"TouchCounter/pipeline"
	"TouchCounter/server"
	"TouchCounter/store"
	"TouchCounter/touch"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

// GetOutboundIP returns the local address of the default route. No packet is
// sent; dialing UDP only resolves the route.
func GetOutboundIP() (string, error) {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

func banner(cfg config.Config) {
	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println("  HTTP Port:", cfg.HTTPPort)
	fmt.Println("  gRPC Port:", cfg.RPCPort)
	fmt.Println("Metrics Port:", cfg.MonitorPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println("Detector Backend:", cfg.Detector.Backend)
	fmt.Println(strings.Repeat("#", 64))
	for _, w := range cfg.Warnings {
		fmt.Println(strings.Repeat("!", 64))
		fmt.Println(w)
		fmt.Println(strings.Repeat("!", 64))
	}
	fmt.Println("")
}

// sweep closes sessions idle longer than maxIdle until ctx is done.
func sweep(ctx context.Context, wg *sync.WaitGroup, registry *touch.Registry, maxIdle time.Duration) {
	defer wg.Done()
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if closed := registry.Sweep(maxIdle); len(closed) > 0 {
				logger.Log().Info("idle sessions closed", zap.Strings("sessions", closed))
			}
			monitor.Sessions.Set(float64(registry.Len()))
		}
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Println("Safely exited")
}

func run() error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	banner(cfg)
	if err := logger.Init(logger.Options{Development: cfg.Log.Development, Level: cfg.Log.Level}); err != nil {
		return err
	}
	defer logger.Sync()
	runtime.GOMAXPROCS(runtime.NumCPU())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(ctx, cfg.MonitorPort)
	}()

	detector, err := engine.New(cfg.Detector)
	if err != nil {
		return err
	}
	defer detector.Close()

	var opts []pipeline.Option
	var journal server.Journal
	if cfg.Store.Enabled {
		st, err := store.New(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, pipeline.WithRecorder(st))
		journal = st
	}
	pipe := pipeline.New(detector, cfg.WorkersNum, opts...)
	defer pipe.Close()

	registry, err := touch.NewRegistry(cfg.Tracking)
	if err != nil {
		return err
	}
	monitor.Sessions.Set(float64(registry.Len()))
	srv := server.New(registry, pipe, journal, server.WithAllowedOrigins(cfg.CORSAllowedOrigins))

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: srv.Handler(),
	}
	httpErr := make(chan error, 1)
	go func() {
		logger.Log().Info("HTTP server listening", zap.Int("port", cfg.HTTPPort))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	grpcSrv, err := srv.StartGRPCServer(cfg.RPCPort)
	if err != nil {
		return err
	}

	if cfg.Registry.Enabled {
		ip, err := GetOutboundIP()
		if err != nil {
			logger.Log().Warn("failed to get outbound IP", zap.Error(err))
		} else {
			a := adhoc.NewAnnouncer(cfg.Registry.Host, cfg.Registry.Port, ip, cfg.HTTPPort, cfg.RPCPort, registry.Len)
			logger.Log().Info("registering with registry server", zap.String("id", a.ID()), zap.String("ip", ip))
			wg.Add(1)
			go a.Run(ctx, &wg)
		}
	} else {
		logger.Log().Info("registry disabled, skipping registration")
	}

	if cfg.SessionIdleTimeout > 0 {
		wg.Add(1)
		go sweep(ctx, &wg, registry, cfg.SessionIdleTimeout)
	}

	select {
	case <-ctx.Done():
		logger.Log().Info("shutting down")
	case err = <-httpErr:
		logger.Log().Error("HTTP server failed", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if serr := httpSrv.Shutdown(shutdownCtx); serr != nil {
		logger.Log().Warn("HTTP shutdown", zap.Error(serr))
	}
	grpcSrv.GracefulStop()
	wg.Wait()
	return err
}
