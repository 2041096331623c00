// Package session is the server side of the session bridge. It verifies
// identity provider ID tokens, mints the session cookie, serves the
// sessionLogin and sessionLogout endpoints and computes the per request
// SSR auth snapshot.
package session
