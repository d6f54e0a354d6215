package channel

import (
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Mutation plan
// ---------------------------------------------------------------------------

// InternalOp is the kind of write applied to the internal side.
type InternalOp string

const (
	// InternalOpCreate creates a new internal record imported from remote
	InternalOpCreate InternalOp = "create"
	// InternalOpUpdate applies remote field values to an existing record
	InternalOpUpdate InternalOp = "update"
	// InternalOpLink only binds an external id, without field changes
	InternalOpLink InternalOp = "link"
)

// InternalMutation is one idempotent write against the internal store. The
// apply is checksum-gated: when the target already carries Checksum the
// write is a no-op.
type InternalMutation struct {
	Op InternalOp
	// InternalID is uuid.Nil for creates
	InternalID uuid.UUID
	ExternalID string
	NaturalKey string
	Kind       RecordKind
	Stock      decimal.Decimal
	Price      decimal.Decimal
	Status     string
	// Checksum is the checksum the record carries once the write applied
	Checksum string
}

// RecordKey returns the stable key of the record this mutation targets.
func (m InternalMutation) RecordKey() string {
	if m.ExternalID != "" {
		return m.ExternalID
	}
	return m.NaturalKey
}

// PlannedSkip records a pair that was deliberately not mutated, with the
// reason carried into the job summary.
type PlannedSkip struct {
	RecordKey string
	Reason    string
}

// MutationPlan is the ordered, deterministic output of one reconciliation.
// Replaying the same plan against the same starting state yields the same
// end state.
type MutationPlan struct {
	Internal []InternalMutation
	Remote   []RemoteMutation
	Skips    []PlannedSkip
	// Conflicts counts pairs where both sides diverged from the ancestor
	Conflicts int
	// Resolved maps record keys to the checksum both sides share once the
	// plan is fully applied; the executor uses it to advance ancestors
	Resolved map[string]string
}

// ---------------------------------------------------------------------------
// Reconciler
// ---------------------------------------------------------------------------

// Reconcile produces the mutation plan for one job: a three-way diff of the
// internal snapshot and the remote records against the last-synced checksum
// as common ancestor.
//
// Conflict policy: stock and price are internal-authoritative (remote wins
// only when the internal side was never synced); order status is
// remote-authoritative; everything else is last-writer-wins by timestamp
// with ties broken toward internal.
//
// The plan is pure and deterministic: no I/O, stable ordering by record
// key, idempotency tokens derived from the job fingerprint.
func Reconcile(job *SyncJob, states []*SyncState, remotes []RemoteRecord, caps AdapterCapabilities) *MutationPlan {
	plan := &MutationPlan{Resolved: make(map[string]string)}

	inbound := kindInbound(job.Kind) && caps.Import
	outbound := kindOutbound(job.Kind) && caps.Export

	byExternal := make(map[string]*RemoteRecord, len(remotes))
	byNatural := make(map[string]*RemoteRecord, len(remotes))
	for i := range remotes {
		r := &remotes[i]
		if r.ExternalID != "" {
			byExternal[r.ExternalID] = r
		}
		if r.NaturalKey != "" {
			byNatural[r.NaturalKey] = r
		}
	}

	matchedRemote := make(map[string]bool, len(remotes))

	for _, state := range states {
		remote := matchRemote(state, byExternal, byNatural)
		if remote == nil {
			reconcileUnmatchedInternal(plan, job, state, outbound)
			continue
		}
		matchedRemote[remote.ExternalID] = true
		reconcilePair(plan, job, state, remote, inbound, outbound)
	}

	if inbound {
		for i := range remotes {
			r := &remotes[i]
			if matchedRemote[r.ExternalID] {
				continue
			}
			// Unmatched remote record: create the internal twin, link it and
			// mark it imported.
			plan.Internal = append(plan.Internal, InternalMutation{
				Op:         InternalOpCreate,
				ExternalID: r.ExternalID,
				NaturalKey: r.NaturalKey,
				Kind:       r.Kind,
				Stock:      r.Stock,
				Price:      r.Price,
				Status:     r.Status,
				Checksum:   r.Checksum,
			})
			plan.Resolved[r.ExternalID] = r.Checksum
		}
	}

	sortPlan(plan)
	return plan
}

// matchRemote joins a state to its remote twin: by external id once linked,
// otherwise by the provider-defined natural key.
func matchRemote(state *SyncState, byExternal, byNatural map[string]*RemoteRecord) *RemoteRecord {
	if state.Linked() {
		return byExternal[state.ExternalID]
	}
	if state.NaturalKey != "" {
		return byNatural[state.NaturalKey]
	}
	return nil
}

// reconcileUnmatchedInternal handles an internal record with no remote twin:
// export-eligible records on export-capable connections are created
// remotely, everything else is skipped with a reason.
func reconcileUnmatchedInternal(plan *MutationPlan, job *SyncJob, state *SyncState, outbound bool) {
	key := state.RecordKey()
	if !outbound || !state.ExportEligible {
		plan.Skips = append(plan.Skips, PlannedSkip{RecordKey: key, Reason: "no remote counterpart"})
		return
	}
	plan.Remote = append(plan.Remote, RemoteMutation{
		Op:               MutationOpCreate,
		Kind:             state.Kind,
		NaturalKey:       state.NaturalKey,
		Stock:            state.Stock,
		Price:            state.Price,
		Status:           state.Status,
		IdempotencyToken: job.IdempotencyToken(key),
	})
	plan.Resolved[key] = state.InternalChecksum()
}

// reconcilePair runs the three-way diff for one matched pair.
func reconcilePair(plan *MutationPlan, job *SyncJob, state *SyncState, remote *RemoteRecord, inbound, outbound bool) {
	key := state.RecordKey()
	ancestor := state.LastSyncedChecksum
	internalChanged := state.InternalChanged()
	remoteChanged := remote.Checksum != ancestor

	if !state.Linked() {
		// First sync for this pair: bind the external id regardless of which
		// direction the data flows.
		plan.Internal = append(plan.Internal, InternalMutation{
			Op:         InternalOpLink,
			InternalID: state.InternalID,
			ExternalID: remote.ExternalID,
			NaturalKey: state.NaturalKey,
			Kind:       state.Kind,
			Checksum:   state.InternalChecksum(),
		})
	}

	switch {
	case !internalChanged && !remoteChanged:
		plan.Skips = append(plan.Skips, PlannedSkip{RecordKey: key, Reason: "in sync"})
		return

	case remoteChanged && !internalChanged:
		if !inbound {
			plan.Skips = append(plan.Skips, PlannedSkip{RecordKey: key, Reason: "inbound sync not enabled"})
			return
		}
		plan.Internal = append(plan.Internal, InternalMutation{
			Op:         InternalOpUpdate,
			InternalID: state.InternalID,
			ExternalID: remote.ExternalID,
			Kind:       state.Kind,
			Stock:      remote.Stock,
			Price:      remote.Price,
			Status:     remote.Status,
			Checksum:   remote.Checksum,
		})
		plan.Resolved[key] = remote.Checksum
		return

	case internalChanged && !remoteChanged:
		if !outbound {
			plan.Skips = append(plan.Skips, PlannedSkip{RecordKey: key, Reason: "outbound sync not enabled"})
			return
		}
		plan.Remote = append(plan.Remote, RemoteMutation{
			Op:               MutationOpUpdate,
			Kind:             state.Kind,
			ExternalID:       remote.ExternalID,
			NaturalKey:       state.NaturalKey,
			Stock:            state.Stock,
			Price:            state.Price,
			Status:           state.Status,
			IdempotencyToken: job.IdempotencyToken(key),
		})
		plan.Resolved[key] = state.InternalChecksum()
		return
	}

	// Both sides changed: resolve per field.
	plan.Conflicts++
	resolved := resolveConflict(state, remote)
	resolvedChecksum := RemoteChecksum(resolved.stock, resolved.price, resolved.status)
	plan.Resolved[key] = resolvedChecksum

	if resolvedChecksum != state.InternalChecksum() {
		if inbound {
			plan.Internal = append(plan.Internal, InternalMutation{
				Op:         InternalOpUpdate,
				InternalID: state.InternalID,
				ExternalID: remote.ExternalID,
				Kind:       state.Kind,
				Stock:      resolved.stock,
				Price:      resolved.price,
				Status:     resolved.status,
				Checksum:   resolvedChecksum,
			})
		} else {
			plan.Skips = append(plan.Skips, PlannedSkip{RecordKey: key, Reason: "inbound sync not enabled"})
		}
	}
	if resolvedChecksum != remote.Checksum {
		if outbound {
			plan.Remote = append(plan.Remote, RemoteMutation{
				Op:               MutationOpUpdate,
				Kind:             state.Kind,
				ExternalID:       remote.ExternalID,
				NaturalKey:       state.NaturalKey,
				Stock:            resolved.stock,
				Price:            resolved.price,
				Status:           resolved.status,
				IdempotencyToken: job.IdempotencyToken(key),
			})
		} else {
			plan.Skips = append(plan.Skips, PlannedSkip{RecordKey: key, Reason: "outbound sync not enabled"})
		}
	}
}

// resolvedFields holds the winning value of each syncable field.
type resolvedFields struct {
	stock  decimal.Decimal
	price  decimal.Decimal
	status string
}

// resolveConflict applies the field authority table to a pair where both
// sides diverged from the common ancestor.
func resolveConflict(state *SyncState, remote *RemoteRecord) resolvedFields {
	r := resolvedFields{}

	// Stock and price: internal-authoritative. The remote value wins only
	// when the internal side was never synced.
	if state.NeverSynced() {
		r.stock = remote.Stock
		r.price = remote.Price
	} else {
		r.stock = state.Stock
		r.price = state.Price
	}

	// Order and fulfillment status: remote-authoritative. Other statuses
	// fall back to last-writer-wins by timestamp, ties toward internal.
	switch {
	case state.Kind == RecordKindOrder:
		r.status = remote.Status
	case remote.LastModifiedAt.After(state.InternalUpdatedAt):
		r.status = remote.Status
	default:
		r.status = state.Status
	}

	return r
}

// kindInbound reports whether a sync kind flows remote -> internal.
func kindInbound(kind SyncKind) bool {
	switch kind {
	case SyncKindImport, SyncKindOrder, SyncKindStock:
		return true
	default:
		return false
	}
}

// kindOutbound reports whether a sync kind flows internal -> remote.
func kindOutbound(kind SyncKind) bool {
	switch kind {
	case SyncKindExport, SyncKindStock:
		return true
	default:
		return false
	}
}

// sortPlan orders the plan deterministically so replays apply mutations in
// an identical sequence.
func sortPlan(plan *MutationPlan) {
	sort.SliceStable(plan.Internal, func(i, j int) bool {
		return plan.Internal[i].RecordKey() < plan.Internal[j].RecordKey()
	})
	sort.SliceStable(plan.Remote, func(i, j int) bool {
		ki, kj := remoteKey(plan.Remote[i]), remoteKey(plan.Remote[j])
		return ki < kj
	})
	sort.SliceStable(plan.Skips, func(i, j int) bool {
		return plan.Skips[i].RecordKey < plan.Skips[j].RecordKey
	})
}

func remoteKey(m RemoteMutation) string {
	if m.ExternalID != "" {
		return m.ExternalID
	}
	return m.NaturalKey
}
