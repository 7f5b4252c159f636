// Package core holds the autoreply domain types, the contracts implemented by the
// vault, governor, retrier and platform clients, and the connection orchestrator.
// Leaf packages depend on core; core never imports them.
package core
