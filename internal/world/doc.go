// Package world executes the world's declared actions against the local
// store, standing in for transactions sent to a chain.
//
// A transaction is written to the write log as pending, applied as one
// atomic read-modify-write of its record, marked confirmed (or failed) and
// then awaited on the replica: Execute returns only once the update it
// produced has been synced, and reads the result back from the replica.
package world
