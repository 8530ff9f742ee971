// Package license implements device-level license gating for the
// application: validation against the remote authority with a fail-open
// offline policy, the local retry lockout that throttles manual
// revalidation, and the persisted trust state shared between them.
//
// # Fail-open policy
//
// The most important contract in this package: connectivity loss never
// denies access. Any transport failure, timeout, or unparseable response
// downgrades to offline mode with access granted and an advisory message.
// Only an explicit "blocked" verdict received from the authority may deny
// access, and the granted flag is always the negation of that verdict.
//
// # Device registration
//
// The authority assigns a device id on first successful registration. The
// id is adopted exactly once and never overwritten by later responses,
// making registration idempotent.
//
// # Retry lockout
//
// The lockout is local friction against nuisance retries, not a security
// boundary. It counts manual attempts, blocks at a configured threshold,
// and resets whenever an online validation grants access. Offline
// fail-open grants do not reset the counter. The state survives restarts
// through a small JSON file; a corrupt or missing file degrades to the
// permissive defaults rather than blocking startup.
package license
