package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/openflux/openflux/internal/broadcast"
	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/models"
	"github.com/openflux/openflux/internal/store"
)

// fakeSource serves canned machines and counters, with injectable failures.
type fakeSource struct {
	mu       sync.Mutex
	machines map[uint][]models.Machine
	counters map[string][2]uint64 // vmKey -> {in, out}
	connErr  map[uint]error
	fetchErr map[string]error
	observed []string
}

func (f *fakeSource) Connections() []uint {
	ids := make([]uint, 0, len(f.machines))
	for id := range f.machines {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeSource) ListMachines(ctx context.Context, connID uint) ([]models.Machine, error) {
	if err := f.connErr[connID]; err != nil {
		return nil, err
	}
	return f.machines[connID], nil
}

func (f *fakeSource) Observe(ctx context.Context, connID uint, m models.Machine) (*models.Observation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := m.Key()
	if err := f.fetchErr[key]; err != nil {
		return nil, err
	}
	f.observed = append(f.observed, key)
	c := f.counters[key]
	return &models.Observation{
		VMKey:        key,
		ConnectionID: connID,
		Node:         m.Node,
		VMID:         m.VMID,
		Name:         m.Name,
		Kind:         m.Kind,
		BytesIn:      c[0],
		BytesOut:     c[1],
		Timestamp:    time.Now().UTC(),
	}, nil
}

// fakeStore keeps snapshots in memory and records applied events.
type fakeStore struct {
	mu       sync.Mutex
	snaps    map[string]*models.TrafficSnapshot
	applied  []*models.DeltaEvent
	applyErr map[string]error
	down     []uint
	up       []uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		snaps:    make(map[string]*models.TrafficSnapshot),
		applyErr: make(map[string]error),
	}
}

func (f *fakeStore) Snapshot(vmKey string) (*models.TrafficSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[vmKey], nil
}

func (f *fakeStore) ApplyDelta(ev *models.DeltaEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.applyErr[ev.VMKey]; err != nil {
		return err
	}
	f.applied = append(f.applied, ev)
	f.snaps[ev.VMKey] = &models.TrafficSnapshot{
		VMKey:    ev.VMKey,
		BytesIn:  ev.CumIn,
		BytesOut: ev.CumOut,
	}
	return nil
}

func (f *fakeStore) UpsertMachine(m *models.Machine) error { return nil }

func (f *fakeStore) MarkConnectionUp(id uint) error {
	f.up = append(f.up, id)
	return nil
}

func (f *fakeStore) MarkConnectionDown(id uint, cause error) error {
	f.down = append(f.down, id)
	return nil
}

func (f *fakeStore) ListHourly(filter store.BucketFilter) ([]models.TrafficHourly, error) {
	return nil, nil
}
func (f *fakeStore) ListDaily(filter store.BucketFilter) ([]models.TrafficDaily, error) {
	return nil, nil
}

// fakeSink counts publishes.
type fakeSink struct {
	mu      sync.Mutex
	updates []*broadcast.Update
}

func (f *fakeSink) Publish(u *broadcast.Update) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
	return nil
}
func (f *fakeSink) Close() {}

func testConfig() *config.Config {
	return &config.Config{
		PollIntervalSeconds: 1,
		PollConcurrency:     4,
		CountIdleSamples:    true,
	}
}

func machine(connID uint, vmid uint, status string) models.Machine {
	return models.Machine{
		ConnectionID: connID,
		Node:         "pve1",
		VMID:         vmid,
		Name:         fmt.Sprintf("vm-%d", vmid),
		Kind:         models.KindVM,
		Status:       status,
	}
}

func TestTickEstablishesBaselineThenDeltas(t *testing.T) {
	src := &fakeSource{
		machines: map[uint][]models.Machine{
			1: {machine(1, 100, "running"), machine(1, 101, "running"), machine(1, 102, "stopped")},
		},
		counters: map[string][2]uint64{
			"1-pve1-100": {1000, 500},
			"1-pve1-101": {2000, 800},
		},
		connErr:  map[uint]error{},
		fetchErr: map[string]error{},
	}
	st := newFakeStore()
	sink := &fakeSink{}

	s := NewSampler(testConfig(), src, st, sink)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	s.tick(context.Background())

	if len(st.applied) != 2 {
		t.Fatalf("applied %d events on baseline tick, want 2", len(st.applied))
	}
	for _, ev := range st.applied {
		if ev.BytesIn != 0 || ev.BytesOut != 0 {
			t.Fatalf("baseline tick produced non-zero delta: %+v", ev)
		}
	}
	for _, key := range src.observed {
		if key == "1-pve1-102" {
			t.Fatalf("stopped machine was observed")
		}
	}
	if len(sink.updates) != 1 {
		t.Fatalf("published %d updates, want 1", len(sink.updates))
	}

	// Counters advance; the next tick must yield the per-interval deltas.
	src.counters["1-pve1-100"] = [2]uint64{1500, 700}
	src.counters["1-pve1-101"] = [2]uint64{2000, 800} // idle

	st.applied = nil
	s.tick(context.Background())

	if len(st.applied) != 2 {
		t.Fatalf("applied %d events, want 2", len(st.applied))
	}
	byKey := map[string]*models.DeltaEvent{}
	for _, ev := range st.applied {
		byKey[ev.VMKey] = ev
	}
	if ev := byKey["1-pve1-100"]; ev.BytesIn != 500 || ev.BytesOut != 200 {
		t.Fatalf("delta = (%d, %d), want (500, 200)", ev.BytesIn, ev.BytesOut)
	}
	if ev := byKey["1-pve1-101"]; ev.Total != 0 || !ev.CountSample {
		t.Fatalf("idle machine event = %+v, want zero delta with counted sample", ev)
	}
}

func TestTickIsolatesConnectionFailure(t *testing.T) {
	src := &fakeSource{
		machines: map[uint][]models.Machine{
			1: {machine(1, 100, "running")},
			2: {machine(2, 200, "running")},
		},
		counters: map[string][2]uint64{
			"1-pve1-100": {100, 100},
			"2-pve1-200": {200, 200},
		},
		connErr:  map[uint]error{1: errors.New("connect refused")},
		fetchErr: map[string]error{},
	}
	st := newFakeStore()
	s := NewSampler(testConfig(), src, st, &fakeSink{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	s.tick(context.Background())

	if len(st.applied) != 1 || st.applied[0].VMKey != "2-pve1-200" {
		t.Fatalf("healthy connection not sampled: %+v", st.applied)
	}
	if len(st.down) != 1 || st.down[0] != 1 {
		t.Fatalf("failing connection not marked down: %v", st.down)
	}
	if len(st.up) != 1 || st.up[0] != 2 {
		t.Fatalf("healthy connection not marked up: %v", st.up)
	}
}

func TestTickIsolatesMachineAndPersistenceFailures(t *testing.T) {
	src := &fakeSource{
		machines: map[uint][]models.Machine{
			1: {machine(1, 100, "running"), machine(1, 101, "running"), machine(1, 102, "running")},
		},
		counters: map[string][2]uint64{
			"1-pve1-100": {100, 100},
			"1-pve1-101": {200, 200},
			"1-pve1-102": {300, 300},
		},
		connErr:  map[uint]error{},
		fetchErr: map[string]error{"1-pve1-100": errors.New("guest agent timeout")},
	}
	st := newFakeStore()
	st.applyErr["1-pve1-101"] = errors.New("disk full")

	s := NewSampler(testConfig(), src, st, &fakeSink{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	s.tick(context.Background())

	// 100 failed at fetch, 101 failed at apply; only 102 lands.
	if len(st.applied) != 1 || st.applied[0].VMKey != "1-pve1-102" {
		t.Fatalf("applied = %+v, want only 1-pve1-102", st.applied)
	}
}

func TestTickWithoutDeltasDoesNotBroadcast(t *testing.T) {
	src := &fakeSource{
		machines: map[uint][]models.Machine{1: {machine(1, 100, "running")}},
		counters: map[string][2]uint64{"1-pve1-100": {100, 100}},
		connErr:  map[uint]error{1: errors.New("unreachable")},
		fetchErr: map[string]error{},
	}
	st := newFakeStore()
	sink := &fakeSink{}
	s := NewSampler(testConfig(), src, st, sink)
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	s.tick(context.Background())

	if len(sink.updates) != 0 {
		t.Fatalf("broadcast fired on an unproductive tick")
	}
}

func TestRunSkipsOverlappingTicks(t *testing.T) {
	src := &fakeSource{
		machines: map[uint][]models.Machine{1: {machine(1, 100, "running")}},
		counters: map[string][2]uint64{"1-pve1-100": {100, 100}},
		connErr:  map[uint]error{},
		fetchErr: map[string]error{},
	}
	st := newFakeStore()
	s := NewSampler(testConfig(), src, st, &fakeSink{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	// Pretend a tick is stuck; every scheduled tick must be skipped outright.
	s.busy.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	_ = s.Run(ctx)

	if len(st.applied) != 0 {
		t.Fatalf("ticks ran while a previous tick was marked busy")
	}
}

func TestRunRequiresInit(t *testing.T) {
	s := NewSampler(testConfig(), &fakeSource{}, newFakeStore(), &fakeSink{})
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("Run accepted an uninitialized sampler")
	}
}

func TestAfterTickHookRuns(t *testing.T) {
	src := &fakeSource{
		machines: map[uint][]models.Machine{1: {machine(1, 100, "running")}},
		counters: map[string][2]uint64{"1-pve1-100": {100, 100}},
		connErr:  map[uint]error{},
		fetchErr: map[string]error{},
	}
	st := newFakeStore()
	s := NewSampler(testConfig(), src, st, &fakeSink{})
	if err := s.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}

	ran := false
	s.AfterTick = func() { ran = true }
	s.tick(context.Background())

	if !ran {
		t.Fatalf("after-tick hook did not run on a productive tick")
	}
}
