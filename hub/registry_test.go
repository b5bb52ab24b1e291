package hub

import (
	"testing"
	"time"

	"github.com/vipnode/duplex/internal/faketransport"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	t1, t2 := faketransport.New(), faketransport.New()
	m1 := NewMonitor(t1, time.Hour)
	r.Add(&Entry{ID: "b", Transport: t1, Monitor: m1, Since: now.Add(time.Second)})
	r.Add(&Entry{ID: "a", Transport: t2, Monitor: NewMonitor(t2, time.Hour), Since: now})

	if got, want := r.Len(), 2; got != want {
		t.Errorf("got: %d; want %d", got, want)
	}
	if e, ok := r.Get(t1); !ok || e.ID != "b" {
		t.Errorf("got: %+v; want entry b", e)
	}

	snapshot := r.Snapshot()
	if len(snapshot) != 2 || snapshot[0].ID != "a" || snapshot[1].ID != "b" {
		t.Errorf("snapshot not ordered oldest first: %+v", snapshot)
	}

	r.SetData(t1, []byte(`{"name":"b"}`))
	if e, _ := r.Get(t1); string(e.Data) != `{"name":"b"}` {
		t.Errorf("got: %q; want %q", e.Data, `{"name":"b"}`)
	}

	if !r.Remove(t1) {
		t.Error("remove of a registered transport returned false")
	}
	if r.Remove(t1) {
		t.Error("second remove returned true")
	}
	if _, ok := r.Get(t1); ok {
		t.Error("removed entry is still registered")
	}
	if m1.Tick() {
		t.Error("monitor of a removed entry is still running")
	}
	if got, want := r.Len(), 1; got != want {
		t.Errorf("got: %d; want %d", got, want)
	}
}
