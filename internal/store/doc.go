// Package store provides storage and pub/sub functionality for source status.
//
// This package is internal to postrelay and keeps the outcome of the most
// recent scan of every source, plus running totals. It implements a
// publish-subscribe pattern for real-time updates to connected status clients.
//
// The main components are:
//
//   - [Store]: Interface defining storage and subscription operations
//   - [MemoryStore]: In-memory implementation of Store with pub/sub
//   - [SourceStatus]: Storage representation of a source's latest scan
//
// Subscribers receive updates via channels with non-blocking sends (slow
// subscribers will miss updates rather than block the scheduler).
package store
