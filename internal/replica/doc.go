// Package replica is the local replica of the world's component tables.
//
// ARCHITECTURE:
//
// Syncer -> Registry -> Component -> Stream -> Subscription -> Observer
//
// The Syncer polls the store's update log in seq order and applies each
// update to the Registry, which caches the record on its Component and emits
// it on the component's Stream (its update$) and on the registry-wide stream.
//
// Each Subscription owns a FIFO queue and exactly one delivery goroutine.
// Updates are delivered one at a time and each observer call runs to
// completion before the next starts. There is no backpressure: a slow
// observer grows its queue, it never blocks the Syncer or other
// subscriptions.
//
// Observer failures (returned errors and panics) are reported on
// Subscription.Errors(). Under ContinueOnError, the default, delivery
// continues with the next update; under HaltOnError the subscription stops
// delivering after the first failure.
package replica
