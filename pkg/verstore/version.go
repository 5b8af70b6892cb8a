package verstore

// versionTombstoneBit flags a stored VersionedPayload's Version as "the
// subkey was deleted as of this version" rather than "written to this
// payload as of this version". It occupies the one bit smallestInvalidVersion
// leaves unset (bit 63), so real version numbers (always far below 2^63),
// the "slot never written" sentinel, and tombstoned versions never collide.
// EffectiveVersion must be used for any chronological comparison against a
// stored Version.
const versionTombstoneBit uint64 = 1 << 63

// VersionedPayload pairs a payload with the version it took effect at. A
// VersionedPayload with no payload is either "never written" (Version ==
// smallestInvalidVersion) or a tombstone
// recording that the subkey was deleted as of EffectiveVersion (Version has
// versionTombstoneBit set). The explicit deletion marker lets iteration
// tell "never written" apart from "written, then deleted".
type VersionedPayload struct {
	Version uint64
	Payload PayloadHandle
}

// noPayloadVersionedPayload is the value representing "no payload at any
// version". It is not the zero VersionedPayload: its Version is
// smallestInvalidVersion.
var noPayloadVersionedPayload = VersionedPayload{Version: smallestInvalidVersion}

// HasPayload reports whether this entry records an actual live payload, as
// opposed to a tombstone or an unused slot.
func (v VersionedPayload) HasPayload() bool {
	return v.Version < smallestInvalidVersion && v.Version&versionTombstoneBit == 0
}

// EffectiveVersion returns the real version number this entry took effect
// at, with the tombstone flag masked off. Any chronological comparison
// against a stored Version must go through this, not the raw field.
func (v VersionedPayload) EffectiveVersion() uint64 {
	return v.Version &^ versionTombstoneBit
}

// tombstoneAt returns the VersionedPayload recording that a subkey was
// deleted as of version.
func tombstoneAt(version uint64) VersionedPayload {
	return VersionedPayload{Version: version | versionTombstoneBit}
}

// markedVersionOf encodes v the way state/version blocks physically store
// it in the blob: (effective_version << 1) | deletion_bit. Only meaningful for
// an entry that has actually been written (never call it on an unused
// inline slot).
func markedVersionOf(v VersionedPayload) uint64 {
	m := v.EffectiveVersion() << 1
	if !v.HasPayload() {
		m |= 1
	}
	return m
}

// versionedPayloadFromMarked reconstructs the VersionedPayload a marked
// version and (for non-deletions) a payload handle represent.
func versionedPayloadFromMarked(marked uint64, payload PayloadHandle) VersionedPayload {
	version := marked >> 1
	if marked&1 != 0 {
		return tombstoneAt(version)
	}
	return VersionedPayload{Version: version, Payload: payload}
}

// payloadRequirementKind distinguishes the three states a transaction's
// prerequisite or write can be in for a given subkey: absent, unconstrained
// (no requirement at all), or a specific expected/written value.
type payloadRequirementKind uint8

const (
	requirementNone payloadRequirementKind = iota
	requirementMissing
	requirementValue
)

// PayloadRequirement is a three-state value used when building transaction
// prerequisites: "no requirement", "must be missing", or "must equal this
// specific handle".
type PayloadRequirement struct {
	kind   payloadRequirementKind
	handle PayloadHandle
}

// NoRequirement returns a PayloadRequirement that places no constraint on
// the subkey.
func NoRequirement() PayloadRequirement {
	return PayloadRequirement{kind: requirementNone}
}

// RequireMissing returns a PayloadRequirement satisfied only when the
// subkey currently has no payload.
func RequireMissing() PayloadRequirement {
	return PayloadRequirement{kind: requirementMissing}
}

// RequireValue returns a PayloadRequirement satisfied only when the
// subkey's current payload equals handle, per the Behavior's
// EqualPayloads.
func RequireValue(handle PayloadHandle) PayloadRequirement {
	return PayloadRequirement{kind: requirementValue, handle: handle}
}

func (r PayloadRequirement) isSet() bool { return r.kind != requirementNone }

// writeKind distinguishes "no write", "delete", and "set to this value"
// for a single subkey operation inside a transaction.
type writeKind uint8

const (
	writeNone writeKind = iota
	writeDelete
	writeValue
)

// payloadWrite is the write-side counterpart of PayloadRequirement.
type payloadWrite struct {
	kind   writeKind
	handle PayloadHandle
}
