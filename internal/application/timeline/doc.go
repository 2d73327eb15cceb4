// Package timeline implements the layered plan scheduler: plans arrive
// on PLAN_READY, run as cancellable tasks on one of three fixed
// priority layers (override > foreground > ambient), and preempt
// lower-priority work.
//
// Starting a plan on a layer cancels the active plan of that layer and
// of every strictly lower layer; each displaced plan emits
// PLAN_ENDED{cancelled} before the new plan's PLAN_STARTED. Steps run
// strictly sequentially with fail-fast semantics; a parallel_steps step
// fans its sub-steps out concurrently and fails if any sub-step fails.
// Cancellation is cooperative: running plans stop at the next step
// boundary or open external wait. A preempted step's external wait is
// cancelled and a late completion signal for it is dropped.
package timeline
