// Package client is the single entry point for all git hosting API
// traffic. It routes each call to the service adapter owning the
// repository's host and applies the retry discipline: wait out
// exhausted rate limits before calling, retry transient connection
// failures a bounded number of times, and re-issue calls rejected by
// a rate-limit race without counting them against the bound.
package client
