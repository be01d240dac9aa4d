package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cascadedb/cascade/pkg/config"
	"github.com/cascadedb/cascade/pkg/log"
	"github.com/cascadedb/cascade/pkg/metrics"
	"github.com/cascadedb/cascade/pkg/ocdpo"
	"github.com/cascadedb/cascade/pkg/pooldir"
	"github.com/cascadedb/cascade/pkg/rpc"
	"github.com/cascadedb/cascade/pkg/signedstore"
	"github.com/cascadedb/cascade/pkg/store"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Boot a Cascade node from a configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath, _ := cmd.Flags().GetString("config")
		return runServe(cfgPath)
	},
}

func init() {
	serveCmd.Flags().String("config", "cascade.yaml", "Path to the node configuration file")
}

func runServe(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logger := log.WithComponent("serve")

	dataShards := make(map[string]*store.Shard)
	signedShards := make(map[string]*signedstore.SignedShard)
	var directory *pooldir.Directory

	// One dispatcher per node drives off-critical-path dispatch (component
	// E) for every shard it hosts; registrations are scoped by pool-prefix,
	// so a single free worker pool can serve every subgroup on this node.
	dispatcher := ocdpo.NewDispatcher(cfg.OCDPOPoolSize, time.Duration(cfg.OCDPOGraceSeconds)*time.Second)
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Error().Err(err).Msg("ocdpo dispatcher close")
		}
	}()

	for _, sc := range cfg.Shards {
		if sc.Signed {
			continue // signed shards are constructed after their sig-pool shard exists
		}
		sh, err := store.NewShard(store.Config{
			ShardID:        sc.ID,
			NodeID:         cfg.NodeID,
			BindAddr:       sc.BindAddr,
			DataDir:        fmt.Sprintf("%s/%s", cfg.DataDir, sc.ID),
			Persistent:     sc.Persistent,
			Pathname:       sc.Pathname,
			EvaluationMode: sc.EvaluationMode,
			Bootstrap:      sc.Bootstrap,
		})
		if err != nil {
			return fmt.Errorf("serve: start shard %q: %w", sc.ID, err)
		}
		sh.AddObserver(dispatcher)
		dataShards[sc.ID] = sh
		if sc.Directory {
			directory = pooldir.NewDirectory(sh)
		}
	}

	for _, sc := range cfg.Shards {
		if !sc.Signed {
			continue
		}
		sigPool, ok := dataShards[sc.SigPoolID]
		if !ok {
			return fmt.Errorf("serve: shard %q references unknown sigPoolId %q", sc.ID, sc.SigPoolID)
		}
		data, err := store.NewShard(store.Config{
			ShardID:        sc.ID,
			NodeID:         cfg.NodeID,
			BindAddr:       sc.BindAddr,
			DataDir:        fmt.Sprintf("%s/%s", cfg.DataDir, sc.ID),
			Persistent:     true,
			Pathname:       sc.Pathname,
			EvaluationMode: sc.EvaluationMode,
			Bootstrap:      sc.Bootstrap,
		})
		if err != nil {
			return fmt.Errorf("serve: start signed shard %q: %w", sc.ID, err)
		}
		data.AddObserver(dispatcher)
		dataShards[sc.ID] = data

		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("serve: generate signing key for %q: %w", sc.ID, err)
		}
		signed, err := signedstore.NewSignedShard(data, sigPool, fmt.Sprintf("%s/%s", cfg.DataDir, sc.ID), sc.EvaluationMode, priv)
		if err != nil {
			return fmt.Errorf("serve: wire signed shard %q: %w", sc.ID, err)
		}
		signedShards[sc.ID] = signed
	}

	collector := metrics.NewCollector()
	for _, sh := range dataShards {
		collector.AddShard(sh)
	}
	collector.Start()
	defer collector.Stop()

	lis, err := net.Listen("tcp", cfg.RPCAddr)
	if err != nil {
		return fmt.Errorf("serve: listen on %s: %w", cfg.RPCAddr, err)
	}
	grpcServer := grpc.NewServer()
	rpc.RegisterService(grpcServer, rpc.NewCascadeServer(dataShards, signedShards, directory))

	metrics.RegisterComponent("store", len(dataShards) > 0, "")
	metrics.RegisterComponent("rpc", true, "")
	anyLeader := false
	for _, sh := range dataShards {
		if sh.IsLeader() {
			anyLeader = true
			break
		}
	}
	metrics.RegisterComponent("raft", anyLeader, "no shard has a raft leader yet")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", metrics.HealthHandler())
	mux.HandleFunc("/readyz", metrics.ReadyHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	httpServer := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", cfg.RPCAddr).Msg("rpc server listening")
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	grpcServer.GracefulStop()
	return httpServer.Shutdown(context.Background())
}
