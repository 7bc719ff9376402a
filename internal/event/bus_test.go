package event

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/xia2/xia2-sub002/internal/logging"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus(nil)

	called := false
	id := bus.Subscribe(TypeStageChanged, func(e Event) {
		called = true
	})

	if id == "" {
		t.Error("Subscribe should return a non-empty ID")
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
	if called {
		t.Error("handler called before any event was published")
	}
}

func TestBus_Publish(t *testing.T) {
	bus := NewBus(nil)

	var received Event
	bus.Subscribe(TypeStageChanged, func(e Event) {
		received = e
	})

	bus.Publish(NewStageChangedEvent("run-1", "prepare", "scale", false, ""))

	sc, ok := received.(StageChangedEvent)
	if !ok {
		t.Fatalf("handler received %T, want StageChangedEvent", received)
	}
	if sc.From != "prepare" || sc.To != "scale" || sc.RunID != "run-1" {
		t.Errorf("received %+v", sc)
	}
	if sc.Timestamp().IsZero() {
		t.Error("event has no timestamp")
	}
}

func TestEventTypes(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{NewStageChangedEvent("r", "scale", "scale", true, "resolution changed"), "stage.changed"},
		{NewSweepReprocessEvent("SWEEP1", "oP"), "sweep.reprocess"},
		{NewResolutionChangedEvent("NATIVE", 0, 1.8, false), "resolution.changed"},
		{NewModelSelectedEvent(true, false, true, true), "model.selected"},
		{NewDamageFindingEvent(0, 0.979, []string{"SWEEP1"}, 4.2, true, 0, false), "damage.finding"},
		{NewRunCompletedEvent("r", true, ""), "run.completed"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.event.EventType(); got != tt.want {
				t.Errorf("EventType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBus_PublishOrder(t *testing.T) {
	bus := NewBus(nil)

	var calls []string
	bus.SubscribeAll(func(e Event) { calls = append(calls, "wildcard") })
	bus.Subscribe(TypeModelSelected, func(e Event) { calls = append(calls, "first") })
	bus.Subscribe(TypeModelSelected, func(e Event) { calls = append(calls, "second") })
	bus.Subscribe(TypeDamageFinding, func(e Event) { calls = append(calls, "other") })

	bus.Publish(NewModelSelectedEvent(false, false, false, false))

	want := []string{"first", "second", "wildcard"}
	if strings.Join(calls, ",") != strings.Join(want, ",") {
		t.Errorf("call order = %v, want %v", calls, want)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	calls := make(map[string]int)
	id1 := bus.Subscribe(TypeSweepReprocess, func(e Event) { calls["one"]++ })
	bus.Subscribe(TypeSweepReprocess, func(e Event) { calls["two"]++ })

	if !bus.Unsubscribe(id1) {
		t.Error("Unsubscribe() = false for an existing subscription")
	}
	if bus.Unsubscribe(id1) {
		t.Error("Unsubscribe() = true for a removed subscription")
	}
	if bus.Unsubscribe("missing") {
		t.Error("Unsubscribe() = true for an unknown ID")
	}

	bus.Publish(NewSweepReprocessEvent("SWEEP1", "tP"))

	if calls["one"] != 0 || calls["two"] != 1 {
		t.Errorf("calls = %v, want only the remaining handler", calls)
	}
}

func TestBus_Clear(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(TypeStageChanged, func(e Event) {})
	bus.Subscribe(TypeRunCompleted, func(e Event) {})
	bus.SubscribeAll(func(e Event) {})

	bus.Clear()

	if bus.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() after Clear = %d", bus.SubscriptionCount())
	}
}

func TestBus_HandlerPanicRecovery(t *testing.T) {
	var buf bytes.Buffer
	bus := NewBus(logging.NewWriterLogger(&buf, "DEBUG"))

	calls := 0
	bus.Subscribe(TypeRunCompleted, func(e Event) {
		calls++
		panic("handler panic")
	})
	bus.Subscribe(TypeRunCompleted, func(e Event) {
		calls++
	})

	bus.Publish(NewRunCompletedEvent("r", false, "boom"))

	if calls != 2 {
		t.Errorf("calls = %d, want both handlers despite the panic", calls)
	}
	if !strings.Contains(buf.String(), "event handler panicked") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestBus_Concurrent(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	calls := 0
	bus.Subscribe(TypeStageChanged, func(e Event) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			bus.Publish(NewStageChangedEvent("r", "scale", "finish", false, ""))
		})
		wg.Go(func() {
			id := bus.Subscribe(TypeResolutionChanged, func(e Event) {})
			bus.Unsubscribe(id)
		})
	}
	wg.Wait()

	if calls != 100 {
		t.Errorf("calls = %d, want 100", calls)
	}
	if bus.SubscriptionCount() != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", bus.SubscriptionCount())
	}
}

func TestBus_UniqueIDs(t *testing.T) {
	bus := NewBus(nil)

	ids := make(map[string]bool)
	for range 100 {
		id := bus.Subscribe(TypeStageChanged, func(e Event) {})
		if ids[id] {
			t.Errorf("duplicate subscription ID %s", id)
		}
		ids[id] = true
	}
}
