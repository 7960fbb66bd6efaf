// Package dispatch drains the event queue on a fixed cadence. Each run
// claims a batch, fans the items out in parallel, and routes every item to
// either an in-process job handler or a configured remote HTTP endpoint,
// writing the outcome back through the queue's complete/fail primitives.
package dispatch
