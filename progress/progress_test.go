package progress

import (
	"testing"
	"time"

	"github.com/codepr/docscraper/model"
)

func TestEmitDeliversInOrder(t *testing.T) {
	bus := New()
	defer bus.Close("job-1")

	events := bus.Subscribe("job-1")

	go func() {
		bus.Emit(model.ProgressEvent{JobID: "job-1", Stage: model.StageInit, ProgressPct: 0})
		bus.Emit(model.ProgressEvent{JobID: "job-1", Stage: model.StageScraping, ProgressPct: 50})
		bus.Emit(model.ProgressEvent{JobID: "job-1", Stage: model.StageComplete, ProgressPct: 100})
	}()

	want := []model.Stage{model.StageInit, model.StageScraping, model.StageComplete}
	for _, w := range want {
		select {
		case ev := <-events:
			if ev.Stage != w {
				t.Errorf("Bus#Emit failed: expected stage %s got %s", w, ev.Stage)
			}
		case <-time.After(time.Second):
			t.Fatalf("Bus#Subscribe failed: timed out waiting for stage %s", w)
		}
	}
}

func TestEmitClampsNonDecreasingProgress(t *testing.T) {
	bus := New()
	defer bus.Close("job-2")

	events := bus.Subscribe("job-2")
	go func() {
		bus.Emit(model.ProgressEvent{JobID: "job-2", Stage: model.StageScraping, ProgressPct: 80})
		bus.Emit(model.ProgressEvent{JobID: "job-2", Stage: model.StageScraping, ProgressPct: 40})
	}()

	first := <-events
	second := <-events
	if first.ProgressPct != 80 {
		t.Errorf("Bus#Emit failed: expected first event at 80 got %v", first.ProgressPct)
	}
	if second.ProgressPct != 80 {
		t.Errorf("Bus#Emit failed: expected clamped progress to stay at 80, got %v", second.ProgressPct)
	}
}

func TestEmitPreservesOrderUnderVolume(t *testing.T) {
	bus := New()
	defer bus.Close("job-4")

	events := bus.Subscribe("job-4")

	const n = 200
	go func() {
		for i := 0; i <= n; i++ {
			bus.Emit(model.ProgressEvent{JobID: "job-4", Stage: model.StageScraping, ProgressPct: float64(i)})
		}
	}()

	last := -1.0
	for i := 0; i <= n; i++ {
		select {
		case ev := <-events:
			if ev.ProgressPct < last {
				t.Fatalf("Bus#Emit failed: progress went backwards, %v after %v", ev.ProgressPct, last)
			}
			last = ev.ProgressPct
		case <-time.After(time.Second):
			t.Fatalf("Bus#Subscribe failed: timed out waiting for event %d", i)
		}
	}
	if last != float64(n) {
		t.Errorf("Bus#Emit failed: expected final progress %d, got %v", n, last)
	}
}

func TestErrorStageResetsFloor(t *testing.T) {
	bus := New()
	defer bus.Close("job-3")

	events := bus.Subscribe("job-3")
	go func() {
		bus.Emit(model.ProgressEvent{JobID: "job-3", Stage: model.StageScraping, ProgressPct: 90})
		bus.Emit(model.ProgressEvent{JobID: "job-3", Stage: model.StageError, ProgressPct: 0, Error: "boom"})
	}()

	first := <-events
	second := <-events
	if first.ProgressPct != 90 {
		t.Errorf("Bus#Emit failed: expected first event at 90 got %v", first.ProgressPct)
	}
	if second.Stage != model.StageError || second.ProgressPct != 0 {
		t.Errorf("Bus#Emit failed: expected error event reset to 0, got %+v", second)
	}
}
