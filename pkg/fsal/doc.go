// Package fsal defines the backend-agnostic vocabulary of the adapter
// layer: the error taxonomy, caller credentials, the generic attribute
// set and its translation from native stat structures, and the Backend
// interface implemented by every storage backend.
//
// Protocol-facing code never talks to a backend directly. It goes through
// package export, which resolves handles to mounted backend instances via
// package registry and enforces the snapshot mutation barrier.
package fsal
