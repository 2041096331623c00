// Package provider holds the pieces shared by the identity providers:
// an ordered change notifier and sign-in error classification.
//
// Concrete providers live in provider/liff (LINE in-app browser) and
// provider/browser (Firebase style browser SDK). Both wrap a small SDK
// capability interface so the orchestration logic can be exercised
// without a real SDK.
package provider
