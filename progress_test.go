package pdfrender

// Notes:
// - progressTracker: stages only advance, percentage never decreases
// - stuck detection and retention are driven by the fake clock

import (
	"testing"
	"time"
)

func newTestTracker(clock *fakeClock) *progressTracker {
	return newProgressTracker(clock.Now,
		func() time.Duration { return 5 * time.Second },
		func() time.Duration { return 15 * time.Second })
}

func TestProgressTracker_Monotonic(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(newFakeClock())
	tr.start("op")

	tr.update("op", StageFetching, 20)
	tr.update("op", StageFetching, 10)
	if p := tr.get("op"); p.Percentage != 20 {
		t.Errorf("Percentage = %v, want 20", p.Percentage)
	}

	tr.update("op", StageRendering, 50)
	tr.update("op", StageParsing, 60)
	p := tr.get("op")
	if p.Stage != StageRendering {
		t.Errorf("Stage = %s, want rendering after a regression", p.Stage)
	}
	if p.Percentage != 60 {
		t.Errorf("Percentage = %v, want 60", p.Percentage)
	}

	tr.update("op", StageError, 70)
	if p := tr.get("op"); p.Stage == StageError {
		t.Error("update moved to the error stage")
	}

	tr.update("op", StageRendering, 250)
	if p := tr.get("op"); p.Percentage != 100 {
		t.Errorf("Percentage = %v, want clamped to 100", p.Percentage)
	}
}

func TestProgressTracker_Bytes(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(newFakeClock())
	tr.start("op")
	tr.bytes("op", 512, 2048)
	tr.bytes("op", 256, -1)

	p := tr.get("op")
	if p.BytesLoaded != 512 || p.TotalBytes != 2048 {
		t.Errorf("bytes = %d/%d, want 512/2048", p.BytesLoaded, p.TotalBytes)
	}
}

func TestProgressTracker_Stuck(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.start("op")
	tr.update("op", StageRendering, 10)

	clock.Advance(10 * time.Second)
	if tr.get("op").IsStuck {
		t.Error("IsStuck = true before the threshold")
	}
	clock.Advance(6 * time.Second)
	p := tr.get("op")
	if !p.IsStuck {
		t.Error("IsStuck = false past the threshold")
	}
	if p.TimeElapsed != 16*time.Second {
		t.Errorf("TimeElapsed = %v, want 16s", p.TimeElapsed)
	}

	tr.update("op", StageRendering, 20)
	if tr.get("op").IsStuck {
		t.Error("IsStuck = true after an update")
	}
}

func TestProgressTracker_FinishAndRetention(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	tr := newTestTracker(clock)
	tr.start("ok")
	tr.start("failed")
	tr.update("failed", StageRendering, 40)

	tr.finish("ok", true)
	tr.finish("failed", false)
	tr.finish("ok", false)
	tr.update("ok", StageRendering, 10)

	ok := tr.get("ok")
	if ok.Stage != StageComplete || ok.Percentage != 100 {
		t.Errorf("ok = %s %.0f%%, want complete 100%%", ok.Stage, ok.Percentage)
	}
	failed := tr.get("failed")
	if failed.Stage != StageError || failed.Percentage != 40 {
		t.Errorf("failed = %s %.0f%%, want error at 40%%", failed.Stage, failed.Percentage)
	}

	clock.Advance(5 * time.Second)
	if tr.get("ok") == nil {
		t.Error("entry dropped at the retention boundary")
	}
	clock.Advance(time.Millisecond)
	if tr.get("ok") != nil || tr.get("failed") != nil {
		t.Error("entries kept past retention")
	}
	if tr.len() != 0 {
		t.Errorf("len() = %d, want 0", tr.len())
	}
}

func TestProgressTracker_UnknownID(t *testing.T) {
	t.Parallel()

	tr := newTestTracker(newFakeClock())
	tr.update("nope", StageRendering, 50)
	tr.bytes("nope", 1, 1)
	tr.finish("nope", true)
	if tr.get("nope") != nil {
		t.Error("get(unknown) != nil")
	}
}
