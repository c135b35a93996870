package types

import "time"

// RelType enumerates the typed relations an Edge can carry.
type RelType string

const (
	RelEvidenceOf RelType = "evidence_of"
	RelBlockedBy  RelType = "blocked_by"
	RelResolvesTo RelType = "resolves_to"
	RelCites      RelType = "cites"
	RelDerivedFrom RelType = "derived_from"
)

// Edge is a typed relation between two graph nodes, unique on
// (SrcID, RelType, DstID).
type Edge struct {
	EdgeID  int64
	SrcType string
	SrcID   string
	RelType RelType
	DstType string
	DstID   string
	Meta    Metadata
	CreatedAt time.Time
}
