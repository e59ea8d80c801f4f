// Package auth holds the authorization primitives of the helpdesk
// backend.
//
// Authentication (token validation) lives in the identity package and
// the HTTP middleware. This package only answers whether a caller's
// roles satisfy a required role set. Every role check in the router
// goes through Authorize so access decisions stay in one place.
package auth
