// Package secure provides the hashing and signature primitives shared by Herald.
//
// It is the single source of truth for:
//   - SHA-256 / HMAC-SHA256 hex digests
//   - email normalization and dedupe keys
//   - versioned webhook signature verification ("v1,<hex>")
//   - bearer-token extraction from Authorization headers
//
// Every comparison of secret-derived material goes through crypto/subtle.
// Verification helpers return false on any parse or decode failure; they never panic.
package secure
