package validity

import (
	"context"
	"fmt"
)

// Option is one choice of an entry's validity selector.
type Option struct {
	Value    Validity `json:"value"`
	Disabled bool     `json:"disabled"`
}

// Entry is one ordination or consecration row of an edit form.
type Entry struct {
	Kind          Kind     `json:"kind"`
	Validity      Validity `json:"validity"`
	Options       []Option `json:"options,omitempty"`
	SubConditione bool     `json:"isSubConditione"`
	DoubtfulEvent bool     `json:"isDoubtfulEvent"`
	BishopID      string   `json:"bishopId,omitempty"`
	BishopName    string   `json:"bishopName,omitempty"`
	Note          string   `json:"note,omitempty"`
}

// Record returns the rule-engine view of the entry.
func (e *Entry) Record() Record {
	return Record{
		Validity:        e.Validity,
		IsSubConditione: e.SubConditione,
		IsDoubtfulEvent: e.DoubtfulEvent,
		BishopID:        e.BishopID,
		BishopName:      e.BishopName,
	}
}

// Form is the set of ordination and consecration entries being edited.
type Form struct {
	Entries []Entry `json:"entries"`
}

// Violation describes an entry whose status the officiant cannot confer.
type Violation struct {
	Index      int       `json:"index"`
	Kind       Kind      `json:"kind"`
	BishopID   string    `json:"bishopId"`
	BishopName string    `json:"bishopName,omitempty"`
	Status     Status    `json:"status"`
	Allowed    StatusSet `json:"allowed"`
}

// Message is the user-facing text for the violation.
func (v Violation) Message() string {
	from := ""
	if v.BishopName != "" {
		from = " from " + v.BishopName
	}
	return fmt.Sprintf("Status inheritance rules not met for %s%s.", v.Kind, from)
}

// FormStatus is the result of validating a form before submission.
type FormStatus struct {
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
	Message    string      `json:"message,omitempty"`
}

func defaultOptions() []Option {
	options := make([]Option, len(ValidityOptions))
	for i, v := range ValidityOptions {
		options[i] = Option{Value: v}
	}
	return options
}

// ApplyValidityRestrictions disables the validity options the summarised bishop
// cannot confer. A current value that is no longer allowed is reset to the
// first allowed option and a note is attached; it reports whether that
// happened.
func ApplyValidityRestrictions(entry *Entry, summary *Summary) bool {
	if entry == nil {
		return false
	}
	if len(entry.Options) == 0 {
		entry.Options = defaultOptions()
	}
	allowed := AllowedValidityValues(AllowedEffectiveStatuses(summary, entry.Kind))

	var first Validity
	for i := range entry.Options {
		ok := allowed.Has(entry.Options[i].Value)
		entry.Options[i].Disabled = !ok
		if ok && first == "" {
			first = entry.Options[i].Value
		}
	}

	current := entry.Validity
	if current == "" {
		current = ValidityValid
	}
	if allowed.Has(current) || first == "" {
		entry.Validity = current
		entry.Note = ""
		return false
	}

	entry.Validity = first
	entry.Note = fmt.Sprintf("Validity changed from %s to %s: the %s's officiant cannot confer a better status.",
		current, first, entry.Kind)
	return true
}

// HandleNewEntry applies restrictions to an entry that was just added or whose
// bishop changed.
func (e *Engine) HandleNewEntry(ctx context.Context, entry *Entry) bool {
	if entry == nil {
		return false
	}
	if entry.BishopID == "" {
		return ApplyValidityRestrictions(entry, nil)
	}
	lookup := e.Resolve(ctx, entry.BishopID)
	return ApplyValidityRestrictions(entry, lookup.Restriction())
}

// RefreshFormRestrictions re-applies restrictions to every entry and returns the
// number of entries whose value was reset.
func (e *Engine) RefreshFormRestrictions(ctx context.Context, form *Form) int {
	if form == nil {
		return 0
	}
	ids := make([]string, 0, len(form.Entries))
	for _, entry := range form.Entries {
		ids = append(ids, entry.BishopID)
	}
	lookups := e.ResolveAll(ctx, ids)

	reset := 0
	for i := range form.Entries {
		entry := &form.Entries[i]
		var summary *Summary
		if lookup, ok := lookups[entry.BishopID]; ok {
			summary = lookup.Restriction()
		}
		if ApplyValidityRestrictions(entry, summary) {
			reset++
		}
	}
	return reset
}

// ValidateFormStatus checks every entry against its officiant before
// submission. Entries without a bishop or whose bishop is in skipBishopIDs are
// not checked. Blocking the submission is left to the caller.
func (e *Engine) ValidateFormStatus(ctx context.Context, entries []Entry, skipBishopIDs []string) FormStatus {
	status := FormStatus{Valid: true, Violations: []Violation{}}
	if len(entries) == 0 {
		return status
	}

	skip := skipSet(skipBishopIDs)
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, skipped := skip[entry.BishopID]; skipped {
			continue
		}
		ids = append(ids, entry.BishopID)
	}
	if len(ids) == 0 {
		return status
	}
	lookups := e.ResolveAll(ctx, ids)

	for i := range entries {
		entry := &entries[i]
		lookup, ok := lookups[entry.BishopID]
		if !ok {
			continue
		}
		summary := lookup.Restriction()
		record := entry.Record()
		if IsRecordAllowed(&record, summary, entry.Kind) {
			continue
		}
		e.observer.Violation(entry.Kind)
		status.Violations = append(status.Violations, Violation{
			Index:      i,
			Kind:       entry.Kind,
			BishopID:   entry.BishopID,
			BishopName: entry.BishopName,
			Status:     EffectiveStatus(&record),
			Allowed:    AllowedEffectiveStatuses(summary, entry.Kind),
		})
	}
	if len(status.Violations) > 0 {
		status.Valid = false
		status.Message = status.Violations[0].Message()
	}
	return status
}
