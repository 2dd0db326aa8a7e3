// Package release schedules the key-up half of every held key.
//
// The ingest side presses a key and pushes a Pending record; the Scheduler
// lets the key go once Hold has strictly elapsed since IssuedAt. Records are
// released exactly once and, with the default OrderFIFO, strictly in the
// order they were queued. Only the front record is ever examined, so a long
// hold delays any shorter hold queued behind it. OrderDeadline trades that
// guarantee for per-key timing by keeping the queue as a min-heap.
//
// The scheduler sleeps on a timer armed for the front record's deadline and
// is woken early by every Enqueue, so there is no polling between events.
// On shutdown it flushes, so every pressed key gets its matching release.
package release
