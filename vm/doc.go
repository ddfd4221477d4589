// Package vm implements the Kestrel execution engine.
//
// This package contains:
//   - tagged value representation (inline floats, small ints, heap handles)
//   - the type model with slot dispatch and C3 method resolution
//   - a mark-sweep collector over arena-backed objects
//   - value stack, frames and vectorcall argument binding
//   - the bytecode dispatch loop with block unwinding and generators
//
// Code records are built with CodeBuilder or loaded with the codefile
// subpackage. An Engine is not safe for concurrent use; run one engine per
// goroutine.
package vm
