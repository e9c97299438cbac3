// Package stackauth is the authentication and session-lifecycle core of a
// Q&A platform: credential verification, signed access, refresh and purpose
// tokens, server-side sessions and per-identifier attempt limiting.
//
// An [Engine] is assembled once with [New] and [Builder.Build] and is safe
// for concurrent use afterwards. It consumes two collaborators through
// narrow interfaces: a [UserDirectory] for accounts and a [SessionStore]
// for session records. The store/postgres package implements both;
// session.RedisStore is the default session store.
//
// # Errors
//
// Every Engine operation returns either nil or an [*Error] whose [Kind]
// clients branch on. Storage and crypto failures surface as [KindInternal]
// with a fixed message; the cause stays reachable through errors.Unwrap for
// logging. Login and password reset requests never reveal whether an email
// is registered.
//
// # Request context
//
// Client IP and user agent travel in the context ([WithClientIP],
// [WithUserAgent]). Registration and reset requests are limited per IP,
// login per email and IP.
//
// # Known gaps
//
// Refresh tokens are not rotated and purpose tokens stay redeemable until
// they expire; there is no revocation list.
package stackauth
