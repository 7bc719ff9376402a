// Package event provides a synchronous pub-sub bus between the scaling
// orchestrator and whatever front end drives it.
//
// The orchestrator publishes what it decides (stage transitions, sweeps sent
// back for reprocessing, resolution limits, the chosen scaling model, damage
// findings) and never waits on subscribers. The CLI subscribes to print
// progress.
//
// # Main Types
//
//   - [Event]: EventType() and Timestamp()
//   - [Bus]: thread-safe dispatcher; handlers run synchronously and a
//     panicking handler does not stop delivery to the others
//   - [Handler]: func(Event)
//
// # Events
//
//   - [StageChangedEvent]: stage.changed
//   - [SweepReprocessEvent]: sweep.reprocess
//   - [ResolutionChangedEvent]: resolution.changed
//   - [ModelSelectedEvent]: model.selected
//   - [DamageFindingEvent]: damage.finding
//   - [RunCompletedEvent]: run.completed
//
// # Usage
//
//	bus := event.NewBus(logger)
//
//	bus.Subscribe(event.TypeStageChanged, func(e event.Event) {
//	    sc := e.(event.StageChangedEvent)
//	    fmt.Printf("%s -> %s\n", sc.From, sc.To)
//	})
//
//	// Log everything
//	bus.SubscribeAll(func(e event.Event) {
//	    logger.Debug("event", "type", e.EventType())
//	})
package event
