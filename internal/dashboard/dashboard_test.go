package dashboard

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPublish_HistoryBounded(t *testing.T) {
	d := New(0)

	for i := 0; i < maxHistory+10; i++ {
		d.Publish(Snapshot{Member: "m1", Epoch: i})
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.history) != maxHistory {
		t.Errorf("expected history capped at %d, got %d", maxHistory, len(d.history))
	}
	if d.history[len(d.history)-1].Epoch != maxHistory+9 {
		t.Errorf("expected newest snapshot kept, got epoch %d", d.history[len(d.history)-1].Epoch)
	}
}

func TestProgressAPI(t *testing.T) {
	d := New(0)
	d.Publish(Snapshot{Member: "m1", Epoch: 0, Loss: 0.7, Accuracy: 0.5})
	d.Publish(Snapshot{Member: "m1", Epoch: 1, Loss: 0.5, Accuracy: 0.75})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/api/progress", nil)
	d.handleProgressAPI(rec, req)

	var history []Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &history); err != nil {
		t.Fatalf("parse response: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(history))
	}
	if history[1].Epoch != 1 || history[1].Accuracy != 0.75 {
		t.Errorf("unexpected snapshot: %+v", history[1])
	}
}

func TestPublish_SetsTimestamp(t *testing.T) {
	d := New(0)
	before := time.Now()
	d.Publish(Snapshot{Member: "m1"})

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.history[0].Timestamp.Before(before) {
		t.Error("expected Publish to stamp snapshots missing a timestamp")
	}
}
