package main

import "context"

// FeedItem is one value received from the cloud feed.
type FeedItem struct {
	ID    string
	Value string
}

// FeedClient is the external feed collaborator polled by the dispatch loop.
//
// FetchAll returns every pending item; ordering is assumed newest-first (the
// loop normalizes to oldest-first before enqueuing). Delete is best-effort
// per item. Reconnect tears down and recreates the underlying session after
// repeated failures; Ping is a cheap connectivity probe for the health
// supervisor.
type FeedClient interface {
	FetchAll(ctx context.Context) ([]FeedItem, error)
	Delete(ctx context.Context, id string) error
	Ping(ctx context.Context) error
	Reconnect(ctx context.Context) error
}
