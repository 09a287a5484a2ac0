// Package identity owns user accounts: the User record, roles, and the stores that persist them.
//
// Password hashing lives in cmd/security/password and token issuance in the session package;
// this package only stores the resulting hash and the per-user token version counter.
package identity
