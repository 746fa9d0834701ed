// Package testutil provides test doubles for the cluster layer: an in-memory
// interpreter peer speaking the command protocol, a local executor and
// testify mocks.
package testutil
