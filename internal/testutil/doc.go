// Package testutil contains helper builders and recorders used across tests
// to reduce boilerplate when constructing stream messages and observing what
// a run emitted. They are not intended for production usage.
package testutil
