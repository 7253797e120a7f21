// Package provision turns operator requests into store records.
//
// RequestProvision and RequestDeletion only write the desired status; the
// reconciler performs the cluster work on its next pass. Purge removes
// records that reached a terminal status and keeps their audit trail.
package provision
