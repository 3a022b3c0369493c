// Package base provides functionality shared by the completion providers.
//
// Providers wrap their API call in Retry so transport-level failures are
// retried with the configured backoff, and wrap the whole completion in
// TraceCompletion so each model call appears as a span carrying its token
// usage. Both helpers are provider-agnostic: the provider supplies the
// retryability predicate for its own SDK error types.
package base
