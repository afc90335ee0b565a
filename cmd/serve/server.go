package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ValentinKolb/dMem/lib/common"
	"github.com/ValentinKolb/dMem/lib/journal"
	"github.com/ValentinKolb/dMem/lib/journal/djournal"
	"github.com/ValentinKolb/dMem/lib/journal/leveljournal"
	"github.com/ValentinKolb/dMem/lib/journal/ljournal"
	"github.com/ValentinKolb/dMem/lib/membership"
	"github.com/ValentinKolb/dMem/lib/membership/provider"
	"github.com/ValentinKolb/dMem/lib/sharding"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/spf13/cobra"
)

var log = logger.GetLogger("cmd")

// maxMessageSize limits the body of a message posted to an entity
const maxMessageSize = 64 * 1024

// run starts the node and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	c := serveCmdConfig
	if err := common.InitLoggers(c.LogLevel, c.LogFormat); err != nil {
		return err
	}
	log.Infof("starting dMem node%s", c.String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	j, closeJournal, err := openJournal(c)
	if err != nil {
		return err
	}
	defer closeJournal()

	mode, _ := membership.ParseMode(c.Mode)
	p, err := provider.New(provider.Config{
		TypeName:        c.TypeName,
		Mode:            mode,
		Journal:         j,
		SnapshotAfter:   c.SnapshotAfter,
		KeepNrOfBatches: c.KeepNrOfBatches,
		JournalTimeout:  c.JournalTimeout,
	})
	if err != nil {
		return err
	}

	region, err := sharding.NewRegion(c.TypeName, shardingSettings(c), p, newCounter)
	if err != nil {
		return err
	}
	region.Start(ctx)
	defer region.Stop()

	srv := &http.Server{
		Addr:              c.Endpoint,
		Handler:           newHandler(region, c.JournalTimeout+c.UpdatingStateTimeout),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errC := make(chan error, 1)
	go func() {
		log.Infof("HTTP API listening on %s", c.Endpoint)
		errC <- srv.ListenAndServe()
	}()

	select {
	case err := <-errC:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
	case <-ctx.Done():
		log.Infof("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warningf("HTTP server shutdown: %v", err)
		}
	}
	return nil
}

// openJournal creates the configured journal and a function releasing it
func openJournal(c *common.Config) (journal.Journal, func(), error) {
	backend, err := journal.ParseBackend(c.Journal)
	if err != nil {
		return nil, nil, err
	}

	switch backend {
	case journal.BackendMemory:
		log.Warningf("the memory journal is not durable, remembered entities are lost on exit")
		j := ljournal.NewLocalJournal()
		return j, func() { _ = j.Close() }, nil

	case journal.BackendLevelDB:
		j, err := leveljournal.Open(filepath.Join(c.DataDir, "journal"))
		if err != nil {
			return nil, nil, err
		}
		return j, func() {
			if err := j.Close(); err != nil {
				log.Errorf("failed to close journal: %v", err)
			}
		}, nil

	default:
		nh, err := dragonboat.NewNodeHost(c.ToNodeHostConfig())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create node host: %w", err)
		}
		if err := nh.StartConcurrentReplica(c.ClusterMembers, false, djournal.CreateStateMachineFactory(), c.ToDragonboatConfig()); err != nil {
			nh.Close()
			return nil, nil, fmt.Errorf("failed to start journal shard %d: %w", c.JournalShardID, err)
		}
		j := djournal.NewDistributedJournal(nh, c.JournalShardID, c.JournalTimeout)
		return j, func() {
			_ = j.Close()
			nh.Close()
		}, nil
	}
}

func shardingSettings(c *common.Config) sharding.Settings {
	backoff := func(b common.BackoffConfig) sharding.Backoff {
		return sharding.Backoff{Min: b.Min, Max: b.Max, RandomFactor: c.BackoffRandomFactor}
	}
	return sharding.Settings{
		NumberOfShards:            c.NumberOfShards,
		RetryInterval:             c.RetryInterval,
		BufferSize:                c.BufferSize,
		UpdatingStateTimeout:      c.UpdatingStateTimeout,
		EntityRestartBackoff:      backoff(c.EntityRestartBackoff),
		ShardFailureBackoff:       backoff(c.ShardFailureBackoff),
		CoordinatorFailureBackoff: backoff(c.CoordinatorFailureBackoff),
	}
}

// --------------------------------------------------------------------------
// HTTP API
// --------------------------------------------------------------------------

// newHandler serves
//
//	POST /entities/{id}  deliver the body to entity id and answer with its reply
//	GET  /shards         list the shards running on this node
//	GET  /metrics        prometheus metrics
func newHandler(region *sharding.Region, timeout time.Duration) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /entities/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		reply, err := region.Ask(ctx, id, string(body))
		if err != nil {
			// delivery is at most once, the client retries
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintln(w, reply)
	})

	mux.HandleFunc("GET /shards", func(w http.ResponseWriter, _ *http.Request) {
		for _, id := range region.Shards() {
			_, _ = fmt.Fprintln(w, id)
		}
	})

	mux.HandleFunc("GET /metrics", func(w http.ResponseWriter, _ *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return mux
}
