// Package auth provides the authentication core of a portal served both
// inside the LINE in-app browser (LIFF) and in regular browsers: environment
// detection, the authentication state machine, the shared error taxonomy and
// the HTTP helpers used by the session, phone and registration endpoints.
//
// Authentication state:
//   - Machine folds identity provider events and backend user lookups into a
//     single AuthenticationState. Phases move through loading,
//     unauthenticated, authenticating, needs_phone_verification,
//     user_registered and error. Only the Machine goroutine mutates state;
//     observers receive copies through Watch.
//   - Resolutions are tagged with a generation so a slow lookup for an
//     identity that has since signed out is discarded.
//
// Identity providers:
//   - DetectEnvironment picks exactly one provider per page load. The LIFF
//     and browser implementations live in provider/liff and provider/browser.
//
// Server side:
//   - session mints the HttpOnly session cookie from a verified ID token and
//     computes the SsrAuthSnapshot for every request.
//   - phone issues and confirms one-time codes and links the phone to the
//     registered user.
//   - guard decides allow, redirect or pending for every navigation.
//   - RegistrationController answers user lookups and sign ups.
//
// Activity sinks:
//   - ActivitySink is a light-weight audit emitter used by the Machine and the
//     HTTP controllers. Sinks run best-effort (errors are logged) so you can
//     forward to metrics, a database or a queue without blocking
//     authentication.
package auth
