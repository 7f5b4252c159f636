// Package providers holds the shared OAuth2 and send plumbing used by the
// per-platform clients in its subpackages.
package providers
