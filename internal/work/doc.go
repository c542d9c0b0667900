// Package work runs publishing runs: one Profile Worker per profile, driven by a Run Controller.
//
// # Run lifecycle
//
// A run request is validated as a whole and every profile entry gets a queued
// run state before any worker starts. Each worker then processes its profile's
// tickers strictly in order:
//
//	start -> validate ticker -> quota pre-check -> generate -> duplicate check
//	      -> select author -> publish (with retries) -> reserve quota
//	      -> record fingerprint -> advance author cursor -> append result
//
// The result is appended and the queue persisted before the ticker's terminal
// progress event is emitted.
//
// # Pause, resume and cancel
//
// Control operations only change the persisted status. A worker observes the
// change at its next checkpoint, which happens before every ticker and at most
// PauseCheckInterval apart while waiting between tickers. Checkpoints and
// control operations are serialized by the controller, so a resume can never
// race a worker that is about to stop.
//
// # Quota
//
// Exhausting the daily quota halts the remaining queue of that profile; the
// run completes with the unprocessed tickers left in remaining_tickers.
package work
