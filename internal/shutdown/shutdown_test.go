package shutdown

import (
	"io"
	"log"
	"testing"
	"time"
)

func quiet() *Coordinator {
	return New(log.New(io.Discard, "", 0))
}

func TestFirstTriggerSetsStopFlag(t *testing.T) {
	t.Parallel()
	c := quiet()
	if c.ShouldStop() {
		t.Fatal("fresh coordinator already stopped")
	}
	c.Trigger("interrupt")
	if !c.ShouldStop() {
		t.Fatal("stop flag not set")
	}
	select {
	case <-c.Aborted():
		t.Fatal("aborted after single trigger")
	default:
	}
}

func TestSecondTriggerWithinWindowAborts(t *testing.T) {
	t.Parallel()
	c := quiet()
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Trigger("interrupt")
	c.now = func() time.Time { return base.Add(time.Second) }
	c.Trigger("interrupt")

	select {
	case <-c.Aborted():
	default:
		t.Fatal("second trigger within window did not abort")
	}
}

func TestSecondTriggerAfterWindowRestartsClock(t *testing.T) {
	t.Parallel()
	c := quiet()
	base := time.Now()
	c.now = func() time.Time { return base }
	c.Trigger("interrupt")
	c.now = func() time.Time { return base.Add(5 * time.Second) }
	c.Trigger("interrupt")

	select {
	case <-c.Aborted():
		t.Fatal("late second trigger must not abort")
	default:
	}

	// But a third one right after the second does.
	c.now = func() time.Time { return base.Add(6 * time.Second) }
	c.Trigger("interrupt")
	select {
	case <-c.Aborted():
	default:
		t.Fatal("escalation after restarted clock did not abort")
	}
}
