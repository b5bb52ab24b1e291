package jsonrpc2

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestPendingDrainOldest(t *testing.T) {
	now := time.Now()
	p := pendingTable{}
	for _, i := range []int{3, 1, 5, 2, 4} {
		id := json.RawMessage([]byte{byte('0' + i)})
		p.put(&Call{ID: id, timestamp: now.Add(time.Second * time.Duration(i))})
	}

	keys := []string{}
	for _, call := range p.drain() {
		keys = append(keys, string(call.ID))
	}

	if want, got := []string{"1", "2", "3", "4", "5"}, keys; !reflect.DeepEqual(got, want) {
		t.Errorf("got: %q; want: %q", got, want)
	}
	if got := p.Len(); got != 0 {
		t.Errorf("got: %d; want: 0", got)
	}
}

func TestPendingLimit(t *testing.T) {
	p := pendingTable{limit: 2}
	if err := p.add(&Call{ID: json.RawMessage("1")}); err != nil {
		t.Fatal(err)
	}
	if err := p.add(&Call{ID: json.RawMessage("2")}); err != nil {
		t.Fatal(err)
	}
	if err := p.add(&Call{ID: json.RawMessage("3")}); err != ErrPendingLimit {
		t.Errorf("got: %v; want %v", err, ErrPendingLimit)
	}

	call, ok := p.remove("1")
	if !ok {
		t.Fatal("missing call 1")
	}
	if p.removeCall(call) {
		t.Error("removed call should not be owned twice")
	}
	if err := p.add(&Call{ID: json.RawMessage("3")}); err != nil {
		t.Errorf("add after remove failed: %s", err)
	}
}
