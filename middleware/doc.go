// Package middleware adapts stackauth to net/http.
//
// # Authentication
//
//   - [Authenticate] rejects requests without a valid access token.
//   - [OptionalAuthenticate] attaches an identity when it can and never
//     rejects.
//   - [RequireSession] additionally binds the request to a live server-side
//     session.
//
// Tokens are read from the Authorization header, either as "Bearer <token>"
// or bare. Resolution is delegated to [IdentityResolver], which
// stackauth.Engine implements; this package never parses tokens itself.
//
// # Authorization
//
// [OwnershipGuard] maps each [ResourceKind] to an owner lookup registered at
// start-up. Moderators and admins bypass ownership checks. [RequireRole] and
// [RequireVerified] gate on identity attributes.
//
// Failures are written as JSON by [WriteError]:
//
//	{"error":{"kind":"unauthorized","message":"invalid or expired token"}}
package middleware
