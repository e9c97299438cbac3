// Package jwt issues and verifies the HS256 tokens used by stackauth:
// access tokens, refresh tokens and purpose tokens (email verification,
// password reset).
//
// All three kinds share one secret and are told apart by the typ claim, so
// a refresh token can never pass as an access token. Verification is pure
// and lock-free.
package jwt
