// Package source implements the fetchers that turn remote listings into
// [poller.Item] values.
//
// [Reddit] reads a subreddit's newest posts through the OAuth API, [Feed]
// reads RSS and Atom documents, and [Router] picks between them per source.
// Every response body read is added to the usage meter.
package source
