// Package testutil contains helper builders used across tests to reduce
// boilerplate when constructing run records and backend response payloads.
// Payloads are assembled with sjson so nested documents read as a chain of
// path assignments instead of hand-escaped literals. These helpers are not
// intended for production usage.
package testutil
