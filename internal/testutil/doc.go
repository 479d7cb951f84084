// Package testutil provides assertion helpers and test fixtures shared
// by the oauth-core test suites, including PKCE pair generation and a
// fluent HTTP request builder for handler tests.
package testutil
