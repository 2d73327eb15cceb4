// Package planlog keeps a bounded in-memory record of recent plan
// executions, fed from the plan lifecycle topics. It exists for
// observability (the HTTP API reads it); it is not persistence and its
// contents are lost on restart.
package planlog
