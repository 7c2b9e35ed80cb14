// Package engine turns events into runs. It owns the run table for one
// pipeline graph and applies every event (source change, manual trigger,
// executor report, cancellation, quiet-period expiry) atomically under a
// single mutex.
//
// Side effects that leave the process, such as dispatching queued runs or
// recording artifact manifests, happen after the mutex is released, so a
// slow executor or store never blocks event processing.
package engine
