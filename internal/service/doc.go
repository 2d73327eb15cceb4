// Package service implements the lifecycle contract every component of
// the system rides on: a state machine
// (INITIALIZING -> RUNNING -> STOPPING -> STOPPED, with ERROR) plus a
// structured task scope and subscription bookkeeping.
//
// Concrete services embed *Base and provide OnStart/OnStop hooks.
// OnStart must register every subscription synchronously (through
// Base.Subscribe) before returning, so a service never reports RUNNING
// while its handlers are not yet live. Stop closes the service's task
// scope atomically, waits a bounded grace period for tasks to drain,
// removes all subscriptions and is idempotent.
//
// The Supervisor starts registered services in order, stops them in
// reverse, and exposes a status snapshot; the HealthMonitor periodically
// logs and records that snapshot.
package service
