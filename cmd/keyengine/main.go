/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/altairalabs/omnia/internal/keyengine"
	"github.com/altairalabs/omnia/internal/keyengine/postgres"
	"github.com/altairalabs/omnia/internal/keyengine/redisx"
	"github.com/altairalabs/omnia/pkg/logctx"
	"github.com/altairalabs/omnia/pkg/logging"
	"github.com/altairalabs/omnia/pkg/metrics"
)

// flags groups all CLI flags for the key rotation engine binary.
type flags struct {
	keyStoreDir     string
	metaStoreDir    string
	policyStoreDSN  string
	redisAddrs      string
	redisPassword   string
	port            string
	rotationPeriod  time.Duration
	cleanupPeriod   time.Duration
	lockCapacity    int
	localLRUEntries int
	sharedCacheTTL  time.Duration
}

func parseFlags() *flags {
	f := &flags{}
	flag.StringVar(&f.keyStoreDir, "keystore-dir", "", "KeyStore base directory")
	flag.StringVar(&f.metaStoreDir, "metastore-dir", "", "MetadataStore base directory")
	flag.StringVar(&f.policyStoreDSN, "policystore-dsn", "", "PolicyStore Postgres DSN")
	flag.StringVar(&f.redisAddrs, "redis-addrs", "", "Redis addresses (csv)")
	flag.StringVar(&f.redisPassword, "redis-password", "", "Redis password")
	flag.StringVar(&f.port, "port", "9090", "Metrics/admin HTTP port")
	flag.DurationVar(&f.rotationPeriod, "rotation-period", time.Hour, "Scheduled rotation check interval")
	flag.DurationVar(&f.cleanupPeriod, "cleanup-period", 6*time.Hour, "Janitor sweep interval")
	flag.IntVar(&f.lockCapacity, "lock-capacity", 256, "Maximum concurrent rotation locks")
	flag.IntVar(&f.localLRUEntries, "local-lru-entries", 1024, "ActiveKidRegistry local LRU capacity")
	flag.DurationVar(&f.sharedCacheTTL, "shared-cache-ttl", 5*time.Minute, "ActiveKidRegistry shared cache TTL")
	flag.Parse()

	if f.keyStoreDir == "" {
		f.keyStoreDir = os.Getenv(keyengine.EnvKeyStoreBaseDir)
	}
	if f.metaStoreDir == "" {
		f.metaStoreDir = os.Getenv(keyengine.EnvMetaStoreBaseDir)
	}
	if f.policyStoreDSN == "" {
		f.policyStoreDSN = os.Getenv(keyengine.EnvPolicyStoreDSN)
	}
	if f.redisAddrs == "" {
		if host := os.Getenv(keyengine.EnvRedisHost); host != "" {
			port := os.Getenv(keyengine.EnvRedisPort)
			if port == "" {
				port = "6379"
			}
			f.redisAddrs = host + ":" + port
		}
	}
	if f.redisPassword == "" {
		f.redisPassword = os.Getenv(keyengine.EnvRedisPassword)
	}
	if envPort := os.Getenv(keyengine.EnvPort); envPort != "" {
		f.port = envPort
	}
	return f
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	f := parseFlags()

	// --- Logger ---
	zapLogger, err := logging.NewZapLogger()
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()
	log := zapLogger.Sugar()

	// --- Signal context ---
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	// --- Metrics (constructed first so providers/engine can report through it) ---
	keMetrics := metrics.NewKeyEngineMetrics()

	// --- Providers ---
	keyStore, metaStore, policyStore, lockManager, sharedCache, cleanup, err := initProviders(ctx, f, keMetrics, log)
	if err != nil {
		return err
	}
	defer cleanup()

	cleanTmpResidueAtBoot(keyStore, f.keyStoreDir, log)

	registry := keyengine.NewActiveKidRegistry(sharedCache, policyStore, f.sharedCacheTTL, f.localLRUEntries)

	var invalidated []string
	invalidate := func(kid string) { invalidated = append(invalidated, kid) }

	engine := keyengine.NewRotationEngine(
		keyStore, metaStore, policyStore, lockManager, registry,
		keyengine.DefaultEngineConfig(), invalidate, log, keMetrics.RecordRotationDuration,
	)
	schedCfg := keyengine.NewSchedulerConfig()
	scheduler := keyengine.NewRotationScheduler(engine, policyStore, schedCfg, log)
	janitor := keyengine.NewJanitor(keyStore, metaStore, invalidate, log)

	// --- Admin server (goroutine) ---
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/admin/rotate", adminRotateHandler(scheduler, keMetrics, log))
	addr := ":" + f.port
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infow("starting metrics server", "addr", addr)
		if srvErr := srv.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			log.Errorw("metrics server error", "error", srvErr)
		}
	}()
	defer func() {
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutCancel()
		_ = srv.Shutdown(shutCtx)
	}()

	rotationTicker := time.NewTicker(f.rotationPeriod)
	defer rotationTicker.Stop()
	cleanupTicker := time.NewTicker(f.cleanupPeriod)
	defer cleanupTicker.Stop()

	log.Infow("key rotation engine started",
		"rotationPeriod", f.rotationPeriod, "cleanupPeriod", f.cleanupPeriod)

	for {
		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-rotationTicker.C:
			summary := scheduler.RunScheduledRotation(ctx)
			for _, domain := range summary.Succeeded {
				keMetrics.RecordRotation("ok")
				log.Infow("domain rotated", "domain", domain)
			}
			for range summary.Skipped {
				keMetrics.RecordRotation("skipped")
			}
			for domain, rotErr := range summary.Failed {
				keMetrics.RecordRotation("failed")
				log.Errorw("domain rotation failed", "domain", domain, "error", rotErr)
			}
			keMetrics.RecordLastRotation()
			log.Infow("scheduled rotation complete",
				"succeeded", summary.Succeeded, "skipped", summary.Skipped, "failed", len(summary.Failed))
		case <-cleanupTicker.C:
			summary := janitor.RunCleanup()
			keMetrics.RecordKeysReaped(len(summary.Removed))
			for range summary.Errors {
				keMetrics.RecordJanitorError()
			}
			log.Infow("janitor sweep complete",
				"removed", len(summary.Removed), "errors", len(summary.Errors))
		}
	}
}

// adminRotateHandler serves an administrative on-demand rotation trigger:
// POST /admin/rotate?domain=ACME. The domain is carried through the request
// context via pkg/logctx so downstream logging stays correlated with the
// triggering request without threading an extra parameter through the
// scheduler call.
func adminRotateHandler(scheduler *keyengine.RotationScheduler, keMetrics *metrics.KeyEngineMetrics, log *zap.SugaredLogger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		domain := r.URL.Query().Get("domain")
		if domain == "" {
			http.Error(w, "domain is required", http.StatusBadRequest)
			return
		}

		ctx := logctx.WithDomain(r.Context(), domain)
		result := scheduler.TriggerDomainRotation(ctx, logctx.Domain(ctx))

		switch {
		case result.IsOK():
			keMetrics.RecordRotation("ok")
			log.Infow("admin-triggered rotation succeeded", "domain", logctx.Domain(ctx), "newKid", result.Value)
			w.WriteHeader(http.StatusOK)
		case result.IsSkipped():
			keMetrics.RecordRotation("skipped")
			log.Infow("admin-triggered rotation skipped", "domain", logctx.Domain(ctx), "reason", result.SkipReason)
			w.WriteHeader(http.StatusConflict)
		default:
			keMetrics.RecordRotation("failed")
			log.Errorw("admin-triggered rotation failed", "domain", logctx.Domain(ctx), "error", result.Err)
			http.Error(w, result.Err.Error(), http.StatusInternalServerError)
		}
	})
}

// cleanTmpResidueAtBoot enumerates domain directories under baseDir and
// clears any leftover .tmp files from interrupted atomic writes (spec §4.1,
// SPEC_FULL.md's boot-time supplemented feature).
func cleanTmpResidueAtBoot(keyStore keyengine.KeyStore, baseDir string, log interface {
	Errorw(msg string, kv ...interface{})
}) {
	if baseDir == "" {
		return
	}
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := keyStore.CleanTmpResidue(e.Name()); err != nil {
			log.Errorw("cleaning tmp residue", "domain", e.Name(), "error", err)
		}
	}
}

// initProviders creates the storage and coordination providers and returns a
// cleanup function that unwinds them in reverse order.
func initProviders(ctx context.Context, f *flags, keMetrics *metrics.KeyEngineMetrics, log interface {
	Infow(msg string, kv ...interface{})
}) (
	keyengine.KeyStore, keyengine.MetadataStore, keyengine.PolicyStore,
	keyengine.LockManager, keyengine.SharedCache, func(), error,
) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if f.keyStoreDir == "" {
		return nil, nil, nil, nil, nil, nil,
			fmt.Errorf("--keystore-dir or %s is required", keyengine.EnvKeyStoreBaseDir)
	}
	keyStore := keyengine.NewFileKeyStore(filepath.Clean(f.keyStoreDir))

	if f.metaStoreDir == "" {
		return nil, nil, nil, nil, nil, nil,
			fmt.Errorf("--metastore-dir or %s is required", keyengine.EnvMetaStoreBaseDir)
	}
	metaStore := keyengine.NewFileMetadataStore(filepath.Clean(f.metaStoreDir))

	if f.policyStoreDSN == "" {
		return nil, nil, nil, nil, nil, nil,
			fmt.Errorf("--policystore-dsn or %s is required", keyengine.EnvPolicyStoreDSN)
	}
	pgCfg := postgres.DefaultConfig()
	pgCfg.ConnString = f.policyStoreDSN
	policyStore, err := postgres.New(pgCfg)
	if err != nil {
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("creating policy store: %w", err)
	}
	cleanups = append(cleanups, func() { _ = policyStore.Close() })

	if f.redisAddrs == "" {
		cleanup()
		return nil, nil, nil, nil, nil, nil,
			fmt.Errorf("--redis-addrs or %s is required", keyengine.EnvRedisHost)
	}
	redisCfg := redisx.DefaultConfig()
	redisCfg.Addrs = strings.Split(f.redisAddrs, ",")
	redisCfg.Password = f.redisPassword
	redisClient, err := redisx.NewClient(redisCfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, nil, nil, fmt.Errorf("creating redis client: %w", err)
	}
	cleanups = append(cleanups, func() { _ = redisClient.Close() })

	lockManager := redisx.NewLockManager(redisClient, redisCfg.KeyPrefix, f.lockCapacity, keMetrics.RecordLockCapacityExhausted)
	sharedCache := redisx.NewSharedCache(redisClient, redisCfg.KeyPrefix)

	log.Infow("providers initialized",
		"keyStoreDir", f.keyStoreDir, "metaStoreDir", f.metaStoreDir, "redisAddrs", f.redisAddrs)

	return keyStore, metaStore, policyStore, lockManager, sharedCache, cleanup, nil
}
