package versionstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hhlabs/trading-agent/pkg/types"
)

// recordingSink captures every Upsert call for assertions, guarded by a
// mutex since persistAsync fires it from its own goroutine.
type recordingSink struct {
	mu      sync.Mutex
	records []types.AgentVersion
}

func (r *recordingSink) Upsert(ctx context.Context, v types.AgentVersion) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, v)
	return nil
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

type failingSink struct{}

func (failingSink) Upsert(context.Context, types.AgentVersion) error {
	return context.DeadlineExceeded
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestCreateAndCurrentBeforeAdopt(t *testing.T) {
	s := New(NoopSink{}, zap.NewNop())
	if got := s.Current(); got.ID != "" {
		t.Fatalf("Current() before any Adopt = %+v, want zero value", got)
	}
	v := s.Create(types.DefaultScalpingConfig(), "")
	if v.ID == "" {
		t.Fatal("Create() returned an empty ID")
	}
}

func TestAdoptDemotesPrevious(t *testing.T) {
	s := New(NoopSink{}, zap.NewNop())
	v1 := s.Create(types.DefaultScalpingConfig(), "")
	v2 := s.Create(types.DefaultScalpingConfig(), v1.ID)

	if _, ok := s.Adopt(v1.ID); !ok {
		t.Fatal("Adopt(v1) = false")
	}
	if _, ok := s.Adopt(v2.ID); !ok {
		t.Fatal("Adopt(v2) = false")
	}

	versions := s.List()
	var v1After, v2After types.AgentVersion
	for _, v := range versions {
		if v.ID == v1.ID {
			v1After = v
		}
		if v.ID == v2.ID {
			v2After = v
		}
	}
	if v1After.IsActive {
		t.Fatal("v1 still active after adopting v2")
	}
	if !v2After.IsActive {
		t.Fatal("v2 not active after Adopt")
	}
	if s.Current().ID != v2.ID {
		t.Fatalf("Current().ID = %s, want %s", s.Current().ID, v2.ID)
	}
}

func TestAnnotateOverwritesScore(t *testing.T) {
	s := New(NoopSink{}, zap.NewNop())
	v := s.Create(types.DefaultScalpingConfig(), "")
	s.Adopt(v.ID)

	s.Annotate(v.ID, 70, 55, types.MarketConditions{RSI: 40})
	updated, ok := s.Annotate(v.ID, 80, 60, types.MarketConditions{RSI: 45})
	if !ok {
		t.Fatal("Annotate returned ok=false")
	}
	if updated.Score != 80 || updated.WinRate != 60 {
		t.Fatalf("Annotate result = %+v, want latest score/winrate", updated)
	}
	if updated.TotalSimulations != 2 {
		t.Fatalf("TotalSimulations = %d, want 2", updated.TotalSimulations)
	}
	if s.Current().Score != 80 {
		t.Fatalf("Current().Score = %v, want 80 (annotate of the current version updates the published snapshot)", s.Current().Score)
	}
}

func TestFindBestForExcludesCurrentAndBelowThreshold(t *testing.T) {
	s := New(NoopSink{}, zap.NewNop())
	current := s.Create(types.DefaultScalpingConfig(), "")
	s.Adopt(current.ID)
	s.Annotate(current.ID, 90, 70, types.MarketConditions{RSI: 50})

	weak := s.Create(types.DefaultScalpingConfig(), "")
	s.Annotate(weak.ID, 30, 20, types.MarketConditions{RSI: 50})

	strong := s.Create(types.DefaultScalpingConfig(), "")
	s.Annotate(strong.ID, 80, 65, types.MarketConditions{RSI: 50})

	best, ok := s.FindBestFor(types.MarketConditions{RSI: 50})
	if !ok {
		t.Fatal("FindBestFor returned ok=false with an eligible candidate present")
	}
	if best.ID != strong.ID {
		t.Fatalf("FindBestFor = %s, want %s (current and below-threshold excluded)", best.ID, strong.ID)
	}
}

func TestFindBestForNoneEligible(t *testing.T) {
	s := New(NoopSink{}, zap.NewNop())
	v := s.Create(types.DefaultScalpingConfig(), "")
	s.Annotate(v.ID, 10, 5, types.MarketConditions{})

	if _, ok := s.FindBestFor(types.MarketConditions{}); ok {
		t.Fatal("FindBestFor = ok=true with no eligible candidate")
	}
}

func TestPersistAsyncDoesNotBlockOnSinkFailure(t *testing.T) {
	s := New(failingSink{}, zap.NewNop())
	done := make(chan struct{})
	go func() {
		s.Create(types.DefaultScalpingConfig(), "")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Create() blocked on a failing sink")
	}
}

func TestCreatePersistsThroughSink(t *testing.T) {
	sink := &recordingSink{}
	s := New(sink, zap.NewNop())
	s.Create(types.DefaultScalpingConfig(), "")
	waitFor(t, func() bool { return sink.count() == 1 })
}
