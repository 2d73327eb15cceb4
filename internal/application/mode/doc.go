// Package mode implements the mode state machine service: the single
// authoritative holder of the system operating mode.
//
// The machine moves STARTUP -> IDLE automatically when it finishes
// starting; thereafter IDLE <-> AMBIENT <-> INTERACTIVE, and any state
// may return to IDLE. Mode-change requests arriving on
// SYSTEM_SET_MODE_REQUEST are coalesced with a trailing-edge debounce:
// each request re-arms a grace timer and the latest target wins when it
// fires. Committed transitions are announced on SYSTEM_MODE_CHANGE;
// invalid targets leave the mode unchanged and emit exactly one
// ERROR status event.
package mode
