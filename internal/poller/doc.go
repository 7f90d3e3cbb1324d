// Package poller provides the per-source polling scheduler for postrelay.
//
// This package is internal to postrelay and owns one recurring timer per
// enabled source. On each tick it fetches the most recent items for the
// source, keeps only those newer than the source's last-checked timestamp,
// and hands them one at a time to the source's deliverer with a pacing
// delay between attempts.
//
// The main components are:
//
//   - [Scheduler]: initial scans, timer lifecycle and the new-item detector
//   - [Timers]: cancellable per-source recurring tasks ([CronTimers] in production)
//   - [Client]: HTTP client wrapper shared by the fetch and delivery collaborators
//   - [Source], [Item]: the data the scheduler moves around
//
// Failures are isolated: a failed delivery only affects that item, a failed
// fetch only affects that tick, and neither affects other sources.
package poller
