// Package password hashes and verifies credentials and checks password
// strength.
//
// # Output format
//
// New hashes are Argon2id PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Accounts migrated from older systems may still carry bcrypt hashes
// ($2a$, $2b$, $2y$). [Argon2.Verify] accepts them and [Argon2.NeedsUpgrade]
// reports true so the caller can re-hash on the next successful login.
//
// # Strength policy
//
// [Policy.Validate] is a pure function that evaluates every rule and returns
// all violations at once.
//
// This package never stores passwords and never logs them.
package password
