package store

import (
	"time"

	"lineage/api/internal/validity"
)

type User struct {
	ID            string
	Email         string
	DisplayName   string
	PasswordHash  string
	Role          string
	DeactivatedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SacramentRecord is one ordination or consecration of a clergy member.
// BishopName is joined from the officiant's clergy row.
type SacramentRecord struct {
	ID              int64
	BishopID        string
	BishopName      string
	Date            string
	Validity        string
	IsSubConditione bool
	IsDoubtfulEvent bool
	Notes           string
}

// Record returns the rule-engine view of the record.
func (r SacramentRecord) Record() validity.Record {
	v, err := validity.ParseValidity(r.Validity)
	if err != nil {
		v = validity.ValidityInvalid
	}
	return validity.Record{
		Validity:        v,
		IsSubConditione: r.IsSubConditione,
		IsDoubtfulEvent: r.IsDoubtfulEvent,
		BishopID:        r.BishopID,
		BishopName:      r.BishopName,
	}
}

// Records converts a slice of stored records.
func Records(items []SacramentRecord) []validity.Record {
	out := make([]validity.Record, len(items))
	for i, item := range items {
		out[i] = item.Record()
	}
	return out
}

type Clergy struct {
	ID            string
	Name          string
	Rank          string
	Church        string
	BirthDate     string
	DeathDate     string
	Notes         string
	PhotoKey      string
	UpdatedBy     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Ordinations   []SacramentRecord
	Consecrations []SacramentRecord
}

// LineageLink is an officiant to recipient edge of the lineage graph.
type LineageLink struct {
	Source string
	Target string
	Kind   validity.Kind
}

// ClergyRef is the id and name of a clergy member.
type ClergyRef struct {
	ID   string
	Name string
}

type WikiPage struct {
	Slug      string
	Title     string
	Body      string
	Revision  string
	UpdatedBy string
	UpdatedAt time.Time
}

type CommitInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
	Added     int
	Removed   int
}

type AuditEvent struct {
	ID          int64
	EventType   string
	ActorName   string
	SubjectType string
	SubjectID   string
	Payload     map[string]any
	CreatedAt   time.Time
}
