package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openflux/openflux/internal/broadcast"
	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/models"
	"github.com/openflux/openflux/internal/store"
)

// Source is the counter source: it knows the registered connections and can
// produce one Observation per live machine. Implemented by platform.Manager.
type Source interface {
	Connections() []uint
	ListMachines(ctx context.Context, connectionID uint) ([]models.Machine, error)
	Observe(ctx context.Context, connectionID uint, m models.Machine) (*models.Observation, error)
}

// RollupStore is the slice of the store the sampler needs.
type RollupStore interface {
	Snapshot(vmKey string) (*models.TrafficSnapshot, error)
	ApplyDelta(ev *models.DeltaEvent) error
	UpsertMachine(m *models.Machine) error
	MarkConnectionUp(id uint) error
	MarkConnectionDown(id uint, cause error) error
	ListHourly(f store.BucketFilter) ([]models.TrafficHourly, error)
	ListDaily(f store.BucketFilter) ([]models.TrafficDaily, error)
}

// Sampler drives the fixed-interval collection loop. Ticks never overlap:
// if a tick is still running when the next fires, the next is skipped
// outright. Within a tick, machine counter fetches run with bounded
// parallelism but their results fold into the store sequentially, so no two
// writers ever race on the same snapshot or bucket.
type Sampler struct {
	cfg  *config.Config
	src  Source
	st   RollupStore
	sink broadcast.Sink

	// AfterTick, when set, runs after every tick that produced at least one
	// delta (the alert generator hooks in here). Failures inside it must not
	// disturb the loop.
	AfterTick func()

	ready bool
	busy  atomic.Bool
}

// NewSampler wires the collection loop. Call Init before Run.
func NewSampler(cfg *config.Config, src Source, st RollupStore, sink broadcast.Sink) *Sampler {
	return &Sampler{cfg: cfg, src: src, st: st, sink: sink}
}

// Init verifies the store is reachable and reports readiness. The scheduler
// consumes this result before the first tick; Run refuses to start without it.
func (s *Sampler) Init(ctx context.Context) error {
	if _, err := s.st.ListHourly(store.BucketFilter{VMKey: "readiness-probe"}); err != nil {
		return fmt.Errorf("rollup store not ready: %w", err)
	}
	s.ready = true
	log.Printf("[sampler] ready: %d connection(s), interval %s, fetch concurrency %d",
		len(s.src.Connections()), s.cfg.PollInterval(), s.cfg.PollConcurrency)
	return nil
}

// Run blocks, ticking until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	if !s.ready {
		return fmt.Errorf("sampler not initialized")
	}

	ticker := time.NewTicker(s.cfg.PollInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[sampler] stopping")
			return ctx.Err()
		case <-ticker.C:
			if !s.busy.CompareAndSwap(false, true) {
				ticksSkipped.Inc()
				log.Printf("[sampler] previous tick still running, skipping")
				continue
			}
			go func() {
				defer s.busy.Store(false)
				s.tick(ctx)
			}()
		}
	}
}

// tick polls every machine of every connection once. Failures are isolated:
// a dead connection skips only that connection, a failed machine fetch skips
// only that machine, a failed atomic write drops only that event.
func (s *Sampler) tick(ctx context.Context) {
	start := time.Now()
	produced := 0

	for _, connID := range s.src.Connections() {
		machines, err := s.src.ListMachines(ctx, connID)
		if err != nil {
			connectionFailures.Inc()
			log.Printf("[sampler] connection %d unreachable, skipped this tick: %v", connID, err)
			if dbErr := s.st.MarkConnectionDown(connID, err); dbErr != nil {
				log.Printf("[sampler] marking connection %d down: %v", connID, dbErr)
			}
			continue
		}
		if err := s.st.MarkConnectionUp(connID); err != nil {
			log.Printf("[sampler] marking connection %d up: %v", connID, err)
		}

		produced += s.pollMachines(ctx, connID, machines)
	}

	tickDuration.Observe(time.Since(start).Seconds())

	if produced > 0 {
		s.publish()
		if s.AfterTick != nil {
			s.AfterTick()
		}
		log.Printf("[sampler] tick done: %d machine(s) sampled in %s", produced, time.Since(start).Round(time.Millisecond))
	}
}

// pollMachines refreshes inventory, fetches counters with bounded
// parallelism, then folds the observations into the store one at a time.
func (s *Sampler) pollMachines(ctx context.Context, connID uint, machines []models.Machine) int {
	obsCh := make(chan *models.Observation, len(machines))
	sem := make(chan struct{}, s.cfg.PollConcurrency)
	var wg sync.WaitGroup

	for _, m := range machines {
		if err := s.st.UpsertMachine(&m); err != nil {
			log.Printf("[sampler] inventory upsert %s: %v", m.Key(), err)
		}
		if m.Status != "running" {
			continue
		}

		wg.Add(1)
		go func(m models.Machine) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			obs, err := s.src.Observe(ctx, connID, m)
			if err != nil {
				samplesTotal.WithLabelValues("fetch_failed").Inc()
				log.Printf("[sampler] machine %s counters: %v", m.Key(), err)
				return
			}
			obsCh <- obs
		}(m)
	}

	wg.Wait()
	close(obsCh)

	applied := 0
	for obs := range obsCh {
		if s.applyObservation(obs) {
			applied++
		}
	}
	return applied
}

func (s *Sampler) applyObservation(obs *models.Observation) bool {
	prev, err := s.st.Snapshot(obs.VMKey)
	if err != nil {
		samplesTotal.WithLabelValues("apply_failed").Inc()
		log.Printf("[sampler] baseline read %s: %v", obs.VMKey, err)
		return false
	}

	ev := ComputeDelta(prev, obs, s.cfg.CountIdleSamples)
	if err := s.st.ApplyDelta(ev); err != nil {
		samplesTotal.WithLabelValues("apply_failed").Inc()
		log.Printf("[sampler] applying delta %s: %v", obs.VMKey, err)
		return false
	}

	samplesTotal.WithLabelValues("ok").Inc()
	return true
}

// publish hands the current rollup views to the real-time sink. Delivery is
// best-effort: a failed publish is logged and dropped, the data stays
// queryable through the REST surface.
func (s *Sampler) publish() {
	now := time.Now().UTC()

	hourly, err := s.st.ListHourly(store.BucketFilter{From: models.HourLabel(now.Add(-24 * time.Hour))})
	if err != nil {
		log.Printf("[broadcast] assembling hourly view: %v", err)
		return
	}
	daily, err := s.st.ListDaily(store.BucketFilter{From: models.DayLabel(now.AddDate(0, 0, -7))})
	if err != nil {
		log.Printf("[broadcast] assembling daily view: %v", err)
		return
	}

	if err := s.sink.Publish(&broadcast.Update{
		Hourly:    hourly,
		Daily:     daily,
		Timestamp: now,
	}); err != nil {
		log.Printf("[broadcast] publish failed (dropped): %v", err)
	}
}
