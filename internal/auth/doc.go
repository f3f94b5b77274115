// Package auth verifies API callers for the matrix bridge.
//
// The bridge does not keep user accounts. Gray Logic Core issues HS256
// access tokens with a shared secret and the bridge checks them:
//   - signature, expiry and algorithm via ParseToken
//   - the caller's role against a static role-permission table
//
// Panels and users may read and route the matrix. Installer settings,
// the audit journal and reboot need admin or owner.
package auth
