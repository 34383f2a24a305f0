// The committee binary runs one Data Availability Committee member's
// polling loop against a single Availability Gateway endpoint, per spec §6.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis"
	"github.com/golang/glog"

	"github.com/starkware-libs/starkex-data-availability-committee/applier"
	"github.com/starkware-libs/starkex-data-availability-committee/batch"
	"github.com/starkware-libs/starkex-data-availability-committee/committee"
	"github.com/starkware-libs/starkex-data-availability-committee/config"
	dacerrors "github.com/starkware-libs/starkex-data-availability-committee/errors"
	"github.com/starkware-libs/starkex-data-availability-committee/facts"
	"github.com/starkware-libs/starkex-data-availability-committee/gateway"
	"github.com/starkware-libs/starkex-data-availability-committee/merkle"
	"github.com/starkware-libs/starkex-data-availability-committee/monitoring"
	"github.com/starkware-libs/starkex-data-availability-committee/monitoring/prometheus"
	"github.com/starkware-libs/starkex-data-availability-committee/signer"
	"github.com/starkware-libs/starkex-data-availability-committee/storage"
)

var configFile = flag.String("config", "", "Path to the committee's YAML configuration file")

func main() {
	flag.Parse()
	defer glog.Flush()

	if *configFile == "" {
		glog.Exit("committee: -config is required")
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		glog.Exitf("committee: failed to load config: %v", err)
	}

	loop, err := build(cfg)
	if err != nil {
		glog.Exitf("committee: failed to initialize: %v", err)
	}

	if cfg.HealthAddr != "" {
		go serveHealthz(cfg.HealthAddr, loop)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go awaitSignal(cancel)

	if err := loop.Run(ctx); err != nil {
		glog.Errorf("committee: exiting after fatal error: %v", err)
		os.Exit(1)
	}
	os.Exit(0)
}

// build wires every package into a runnable Loop, grounded on
// trillian_log_signer/main.go's flat "construct each layer, pass it to the
// next" style.
func build(cfg *config.Config) (*committee.Loop, error) {
	adapter, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}

	keyBytes, err := os.ReadFile(cfg.PrivateKeyPath)
	if err != nil {
		return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "read private key %q: %v", cfg.PrivateKeyPath, err)
	}
	sig, err := signer.Load(strings.TrimSpace(string(keyBytes)))
	if err != nil {
		return nil, err
	}

	gw, err := gateway.New(gateway.Config{
		Endpoint:         cfg.AvailabilityGatewayEndpoint,
		CertificatesPath: cfg.CertificatesPath,
		RequestTimeout:   cfg.HTTPRequestTimeout(),
	})
	if err != nil {
		return nil, err
	}
	crossCheckOrderTreeHeight(gw, cfg.TreeHeight)

	trees := buildTrees(cfg.Profile, cfg.TreeHeight, cfg.ValidateRollup != nil)
	store := facts.New(adapter, facts.NewCache(cfg.FactStorageCacheSize))
	roots := committee.NewRootStore(adapter, committee.EmptyRoots(trees))

	opts := applier.Options{
		MaxDeltaSize:   cfg.MaxDeltaSize,
		ValidateOrders: cfg.ValidateOrders,
		ValidateRollup: cfg.ValidateRollup,
	}
	if cfg.ObsoleteOrderRootHex != "" {
		sentinel, err := hex.DecodeString(cfg.ObsoleteOrderRootHex)
		if err != nil {
			return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "config: obsolete_order_root is not valid hex: %v", err)
		}
		opts.ObsoleteOrderRoot = sentinel
	}
	app := applier.New(cfg.Profile, trees, store, roots, opts)

	mf := buildMetricFactory(cfg)

	loop := committee.NewLoop(committee.Config{
		Gateway:       gw,
		Applier:       app,
		Signer:        sig,
		Roots:         roots,
		Profile:       cfg.Profile,
		PollInterval:  cfg.PollingInterval(),
		MetricFactory: mf,
	})
	return loop, nil
}

// buildTrees constructs one merkle.Tree per tree the profile declares,
// every tree sharing the configured height and an empty leaf of its own
// profile-defined hash (spec §3 leaves a leaf's serialization opaque to
// the tree; the committee only ever hashes already-serialized bytes, so
// the empty leaf is simply the hash of a nil value). includeRollup adds
// batch.TreeRollupVault, which batch.Trees never returns on its own
// (TreeRollupVault is excluded from the signed message, but the applier
// still tracks, applies, and optionally verifies its root per
// applier.Options.ValidateRollup — SPEC_FULL.md §5.4).
func buildTrees(profile batch.Profile, height int, includeRollup bool) map[string]*merkle.Tree {
	emptyLeaf := merkle.Hasher{}.HashLeaf(nil)
	names := batch.Trees(profile)
	trees := make(map[string]*merkle.Tree, len(names)+1)
	for _, name := range names {
		trees[name] = merkle.New(height, emptyLeaf)
	}
	if includeRollup {
		trees[batch.TreeRollupVault] = merkle.New(height, emptyLeaf)
	}
	return trees
}

func buildStorage(cfg config.StorageConfig) (storage.Adapter, error) {
	switch cfg.Kind {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return storage.NewRedisAdapter(client), nil
	case "memory":
		glog.Warning("committee: storage.kind=memory is for local development only, state does not survive a restart")
		return storage.NewMemoryAdapter(), nil
	default:
		return nil, dacerrors.Errorf(dacerrors.InvalidArgument, "config: unknown storage.kind %q", cfg.Kind)
	}
}

func buildMetricFactory(cfg *config.Config) monitoring.MetricFactory {
	prefix := cfg.MetricsNamespace
	if prefix != "" && !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prometheus.MetricFactory{Prefix: prefix}
}

// healthzTimeout bounds the gateway liveness probe a /healthz request
// triggers, mirroring serverutil.Main's HealthyDeadline default.
const healthzTimeout = 5 * time.Second

// serveHealthz binds an HTTP /healthz endpoint backed by loop.Healthy,
// grounded on serverutil.Main.healthz: 200 "ok" when healthy, 503 otherwise.
// Run in its own goroutine; a failure here is logged, not fatal, since the
// polling loop itself does not depend on this endpoint.
func serveHealthz(addr string, loop *committee.Loop) {
	http.HandleFunc("/healthz", func(rw http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), healthzTimeout)
		defer cancel()
		if !loop.Healthy(ctx) {
			rw.WriteHeader(http.StatusServiceUnavailable)
			rw.Write([]byte("unhealthy"))
			return
		}
		rw.Write([]byte("ok"))
	})
	glog.Infof("committee: serving /healthz on %s", addr)
	if err := http.ListenAndServe(addr, nil); err != nil {
		glog.Errorf("committee: healthz server exited: %v", err)
	}
}

// crossCheckOrderTreeHeight asks the gateway for the order tree's height and
// warns on a mismatch against the configured tree_height, per
// SPEC_FULL.md §5.5: config is the authoritative source, so a mismatch does
// not fail closed, it is only logged.
func crossCheckOrderTreeHeight(gw *gateway.Client, configured int) {
	ctx, cancel := context.WithTimeout(context.Background(), healthzTimeout)
	defer cancel()
	height, err := gw.OrderTreeHeight(ctx)
	if err != nil {
		glog.Warningf("committee: could not cross-check order tree height at startup: %v", err)
		return
	}
	if height != configured {
		glog.Warningf("committee: gateway reports order tree height %d, config.tree_height is %d", height, configured)
	}
}

// awaitSignal cancels ctx on SIGINT/SIGTERM, letting Loop.Run finish its
// current cycle and return cleanly (spec §6's exit-code contract).
func awaitSignal(cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	glog.Infof("committee: received signal %v, shutting down", sig)
	cancel()
}
