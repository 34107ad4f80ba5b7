// Package auth verifies caller identity for the allocation API.
//
// Callers present an HS256-signed JWT minted by machinectl. Tokens carry a
// subject and one of two roles (client, operator) and are checked by
// signature and expiry alone, so validation never touches the store.
package auth
