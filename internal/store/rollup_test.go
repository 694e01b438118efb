package store

import (
	"testing"
	"time"

	"github.com/openflux/openflux/internal/config"
	"github.com/openflux/openflux/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(&config.Config{DBDriver: "sqlite", DBPath: ":memory:"})
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	return st
}

func delta(vmKey string, in, out uint64, ts time.Time) *models.DeltaEvent {
	return &models.DeltaEvent{
		VMKey:        vmKey,
		ConnectionID: 1,
		Node:         "pve1",
		VMID:         100,
		Name:         "web",
		Kind:         models.KindVM,
		BytesIn:      in,
		BytesOut:     out,
		Total:        in + out,
		CumIn:        in,
		CumOut:       out,
		CountSample:  true,
		Timestamp:    ts,
	}
}

func TestApplyDeltaAccumulates(t *testing.T) {
	st := openTestStore(t)
	ts := time.Date(2026, 8, 31, 14, 10, 0, 0, time.UTC)

	if err := st.ApplyDelta(delta("1-pve1-100", 500, 200, ts)); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := st.ApplyDelta(delta("1-pve1-100", 200, 100, ts.Add(30*time.Second))); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	hourly, err := st.ListHourly(BucketFilter{VMKey: "1-pve1-100"})
	if err != nil {
		t.Fatalf("listing hourly: %v", err)
	}
	if len(hourly) != 1 {
		t.Fatalf("got %d hourly buckets, want 1", len(hourly))
	}
	b := hourly[0]
	if b.Hour != "2026-08-31-14" {
		t.Fatalf("hour label = %q", b.Hour)
	}
	if b.BytesIn != 700 || b.BytesOut != 300 {
		t.Fatalf("hourly totals = (%d, %d), want (700, 300)", b.BytesIn, b.BytesOut)
	}
	if b.Total != b.BytesIn+b.BytesOut {
		t.Fatalf("total invariant broken: %d != %d + %d", b.Total, b.BytesIn, b.BytesOut)
	}
	if b.Samples != 2 {
		t.Fatalf("samples = %d, want 2", b.Samples)
	}

	daily, err := st.ListDaily(BucketFilter{VMKey: "1-pve1-100"})
	if err != nil {
		t.Fatalf("listing daily: %v", err)
	}
	if len(daily) != 1 || daily[0].Day != "2026-08-31" {
		t.Fatalf("daily buckets = %+v", daily)
	}
	if daily[0].BytesIn != 700 || daily[0].BytesOut != 300 || daily[0].Samples != 2 {
		t.Fatalf("daily rollup = %+v", daily[0])
	}
}

func TestApplyDeltaReplacesSnapshot(t *testing.T) {
	st := openTestStore(t)
	ts := time.Date(2026, 8, 31, 14, 10, 0, 0, time.UTC)

	ev := delta("1-pve1-100", 500, 200, ts)
	ev.CumIn, ev.CumOut = 5000, 2000
	if err := st.ApplyDelta(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snap, err := st.Snapshot("1-pve1-100")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap == nil {
		t.Fatalf("snapshot missing after apply")
	}
	if snap.BytesIn != 5000 || snap.BytesOut != 2000 || snap.Total != 7000 {
		t.Fatalf("snapshot = %+v", snap)
	}

	ev2 := delta("1-pve1-100", 100, 50, ts.Add(time.Minute))
	ev2.CumIn, ev2.CumOut = 5100, 2050
	if err := st.ApplyDelta(ev2); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	snap, err = st.Snapshot("1-pve1-100")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.BytesIn != 5100 || snap.BytesOut != 2050 {
		t.Fatalf("snapshot not replaced: %+v", snap)
	}

	snaps, err := st.ListSnapshots()
	if err != nil {
		t.Fatalf("listing snapshots: %v", err)
	}
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshot rows, want 1", len(snaps))
	}
}

func TestSnapshotMissingIsNil(t *testing.T) {
	st := openTestStore(t)
	snap, err := st.Snapshot("never-seen")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap != nil {
		t.Fatalf("expected nil snapshot, got %+v", snap)
	}
}

func TestNewHourOpensFreshBucket(t *testing.T) {
	st := openTestStore(t)
	lateInHour := time.Date(2026, 8, 31, 14, 59, 50, 0, time.UTC)
	nextHour := time.Date(2026, 8, 31, 15, 0, 10, 0, time.UTC)

	if err := st.ApplyDelta(delta("1-pve1-100", 900, 100, lateInHour)); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := st.ApplyDelta(delta("1-pve1-100", 10, 20, nextHour)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	hourly, err := st.ListHourly(BucketFilter{VMKey: "1-pve1-100"})
	if err != nil {
		t.Fatalf("listing hourly: %v", err)
	}
	if len(hourly) != 2 {
		t.Fatalf("got %d hourly buckets, want 2", len(hourly))
	}

	// Newest label first.
	fresh, prior := hourly[0], hourly[1]
	if fresh.Hour != "2026-08-31-15" || prior.Hour != "2026-08-31-14" {
		t.Fatalf("labels = %q, %q", fresh.Hour, prior.Hour)
	}
	if fresh.BytesIn != 10 || fresh.BytesOut != 20 || fresh.Samples != 1 {
		t.Fatalf("fresh bucket inherited prior totals: %+v", fresh)
	}
	if !fresh.StartTime.Equal(nextHour) {
		t.Fatalf("fresh bucket start time = %v, want %v", fresh.StartTime, nextHour)
	}
	if prior.BytesIn != 900 {
		t.Fatalf("prior bucket disturbed: %+v", prior)
	}
}

func TestIdleSamplePolicy(t *testing.T) {
	st := openTestStore(t)
	ts := time.Date(2026, 8, 31, 14, 10, 0, 0, time.UTC)

	if err := st.ApplyDelta(delta("1-pve1-100", 100, 100, ts)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	idle := delta("1-pve1-100", 0, 0, ts.Add(30*time.Second))
	idle.CountSample = false
	if err := st.ApplyDelta(idle); err != nil {
		t.Fatalf("apply idle: %v", err)
	}

	hourly, err := st.ListHourly(BucketFilter{VMKey: "1-pve1-100"})
	if err != nil {
		t.Fatalf("listing hourly: %v", err)
	}
	if hourly[0].Samples != 1 {
		t.Fatalf("samples = %d, want 1 (idle sample not counted)", hourly[0].Samples)
	}
	if hourly[0].BytesIn != 100 {
		t.Fatalf("idle event changed totals: %+v", hourly[0])
	}
}

func TestSweepBefore(t *testing.T) {
	st := openTestStore(t)

	old := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	edge := time.Date(2026, 8, 1, 0, 5, 0, 0, time.UTC)
	recent := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	for i, ts := range []time.Time{old, edge, recent} {
		ev := delta("1-pve1-100", uint64(100*(i+1)), 50, ts)
		if err := st.ApplyDelta(ev); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	res, err := st.SweepBefore("2026-08-01")
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.HourlyDeleted != 1 || res.DailyDeleted != 1 {
		t.Fatalf("sweep result = %+v, want 1 hourly and 1 daily removed", res)
	}

	hourly, _ := st.ListHourly(BucketFilter{})
	for _, b := range hourly {
		if b.Hour < "2026-08-01-00" {
			t.Fatalf("stale hourly bucket survived: %q", b.Hour)
		}
	}
	daily, _ := st.ListDaily(BucketFilter{})
	if len(daily) != 2 {
		t.Fatalf("got %d daily rows, want 2 (cutoff day itself is retained)", len(daily))
	}

	// Live snapshots are never touched by retention.
	snap, err := st.Snapshot("1-pve1-100")
	if err != nil || snap == nil {
		t.Fatalf("snapshot lost to sweep: %v, %v", snap, err)
	}
}

func TestBucketFilterRange(t *testing.T) {
	st := openTestStore(t)
	base := time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC)

	for day := 0; day < 3; day++ {
		ev := delta("1-pve1-100", 100, 100, base.AddDate(0, 0, day))
		if err := st.ApplyDelta(ev); err != nil {
			t.Fatalf("apply day %d: %v", day, err)
		}
	}

	daily, err := st.ListDaily(BucketFilter{From: "2026-08-30", To: "2026-08-30"})
	if err != nil {
		t.Fatalf("listing daily: %v", err)
	}
	if len(daily) != 1 || daily[0].Day != "2026-08-30" {
		t.Fatalf("range filter returned %+v", daily)
	}

	all, err := st.ListDaily(BucketFilter{VMKey: "1-pve1-100"})
	if err != nil {
		t.Fatalf("listing daily: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d daily rows, want 3", len(all))
	}
}

func TestDeleteConnectionCascades(t *testing.T) {
	st := openTestStore(t)

	conn := models.Connection{Name: "lab", Host: "10.0.0.5"}
	if err := st.CreateConnection(&conn); err != nil {
		t.Fatalf("creating connection: %v", err)
	}

	m := models.Machine{ConnectionID: conn.ID, Node: "pve1", VMID: 100, Name: "web", Kind: models.KindVM, Status: "running"}
	if err := st.UpsertMachine(&m); err != nil {
		t.Fatalf("upserting machine: %v", err)
	}

	ev := delta(m.Key(), 100, 100, time.Now().UTC())
	ev.ConnectionID = conn.ID
	if err := st.ApplyDelta(ev); err != nil {
		t.Fatalf("apply: %v", err)
	}

	if err := st.DeleteConnection(conn.ID); err != nil {
		t.Fatalf("deleting connection: %v", err)
	}

	machines, _ := st.ListMachines(conn.ID)
	if len(machines) != 0 {
		t.Fatalf("machines survived deregistration: %+v", machines)
	}
	snap, err := st.Snapshot(m.Key())
	if err != nil || snap != nil {
		t.Fatalf("snapshot survived deregistration: %+v, %v", snap, err)
	}
	hourly, _ := st.ListHourly(BucketFilter{ConnectionID: conn.ID})
	if len(hourly) != 0 {
		t.Fatalf("hourly rows survived deregistration")
	}
	daily, _ := st.ListDaily(BucketFilter{ConnectionID: conn.ID})
	if len(daily) != 0 {
		t.Fatalf("daily rows survived deregistration")
	}
}

func TestUpsertMachineRefreshes(t *testing.T) {
	st := openTestStore(t)

	m := models.Machine{ConnectionID: 1, Node: "pve1", VMID: 100, Name: "web", Kind: models.KindVM, Status: "running"}
	if err := st.UpsertMachine(&m); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	updated := models.Machine{ConnectionID: 1, Node: "pve1", VMID: 100, Name: "web-renamed", Kind: models.KindVM, Status: "stopped"}
	if err := st.UpsertMachine(&updated); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	machines, err := st.ListMachines(1)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(machines) != 1 {
		t.Fatalf("got %d machines, want 1", len(machines))
	}
	if machines[0].Name != "web-renamed" || machines[0].Status != "stopped" {
		t.Fatalf("machine not refreshed: %+v", machines[0])
	}
}
