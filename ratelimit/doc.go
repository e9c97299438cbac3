// Package ratelimit provides the fixed-window attempt limiter used to
// throttle login, registration and password-reset requests.
//
// # Window semantics
//
// The first attempt for an identifier opens a window with count 1. Further
// attempts inside the window increment the count while it is below max and
// are denied, without incrementing, once it reaches max. The first attempt
// after the window elapses opens a fresh window. Reset deletes the counter.
//
// Two backends implement [Limiter]: [Memory] keeps counters in process,
// sharded with one mutex per shard; [Redis] keeps them in a shared Redis so
// horizontally scaled deployments see one budget per identifier.
package ratelimit
