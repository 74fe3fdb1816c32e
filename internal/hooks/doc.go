// Package hooks runs lifecycle hooks of a recovery chain.
//
// The controller fires chain_start, transition, iteration and chain_end.
// Handlers are Go functions or external commands configured under hooks in
// the cirecover config; a command receives the event through CIRECOVER_HOOK_*
// environment variables.
package hooks
