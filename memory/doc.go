// Package memory provides an in-memory Provider and client store.
// It is suitable for development, testing, and single-instance deployments.
// All state is lost on restart; use it behind a single process only.
package memory
