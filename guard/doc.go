// Package guard decides whether a navigation may render, must wait for the
// authentication state to settle, or has to be redirected. All redirect
// logic of the portal lives in Guard.Decide.
package guard
