// Package session owns the server-side session record: opaque token
// generation, expiry arithmetic and persistence.
//
// # Tokens
//
// A session token is 32 bytes from crypto/rand, hex encoded. Stores never
// persist the raw token; they key records by [Digest], the SHA-256 of the
// token.
//
// # Architecture boundaries
//
// This package does NOT interpret JWTs or make authorization decisions.
// Those belong to the engine. A session is usable only while it is both
// active and unexpired; stores check both on every read.
package session
