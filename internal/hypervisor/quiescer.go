// Package hypervisor provides the guest quiesce/resume collaborator the
// ReplicationEngine calls around SNAPSHOTTING. Per spec.md §1 this is an
// external collaborator behind a narrow two-method interface; the engine
// never talks to a hypervisor API directly.
package hypervisor

import "context"

// Quiescer pauses and resumes a guest around a snapshot point to obtain
// crash- or application-consistent state. Resume must be safe to call even
// if Quiesce never succeeded, and the engine guarantees it is always called
// on every exit path once Quiesce has been attempted.
type Quiescer interface {
	Quiesce(ctx context.Context, volumeName string) error
	Resume(ctx context.Context, volumeName string) error
}

// NoopQuiescer is used when no hypervisor is configured for a volume; both
// methods are no-ops, matching the "optional bracket" phrasing in spec.md §4.5.
type NoopQuiescer struct{}

func (NoopQuiescer) Quiesce(ctx context.Context, volumeName string) error { return nil }
func (NoopQuiescer) Resume(ctx context.Context, volumeName string) error  { return nil }
