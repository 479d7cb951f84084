// Package security provides the security plumbing shared by the OAuth
// endpoints: per-identifier rate limiting, audit logging with hashed PII,
// secure response headers, and client IP extraction.
package security
