// Package proto owns the protocol object model.
//
// Ownership boundary:
// - interface descriptions (request/event tables, argument signatures)
// - version gating rules
// - the core wl_display / wl_registry / wl_callback interface set
package proto
