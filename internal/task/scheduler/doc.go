// Package scheduler owns the recurring delivery jobs.
//
// Each job is keyed by a string id (one per template, see JobIDFor) and bound
// to a Trigger: daily at a wall-clock time in the configured timezone, or a
// fixed interval anchored at registration so firing time never drifts.
// Triggering uses robfig/cron; execution is handed to the task engine with a
// skip-if-running overlap policy.
package scheduler
