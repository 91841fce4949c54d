package validity

import "context"

// RosterEntry is one clergy member of a list view with their own records.
type RosterEntry struct {
	ClergyID      string   `json:"clergyId"`
	Ordinations   []Record `json:"ordinations"`
	Consecrations []Record `json:"consecrations"`
	Warning       bool     `json:"warning"`
}

// FlagClergyListWithViolations sets Warning on every entry with an ordination or
// consecration its officiant cannot confer, and clears it elsewhere. Bishops in
// skipBishopIDs are not checked. It returns the number of flagged entries.
func (e *Engine) FlagClergyListWithViolations(ctx context.Context, roster []RosterEntry, skipBishopIDs []string) int {
	skip := skipSet(skipBishopIDs)
	var ids []string
	for _, entry := range roster {
		for _, r := range entry.Ordinations {
			if _, skipped := skip[r.BishopID]; !skipped {
				ids = append(ids, r.BishopID)
			}
		}
		for _, r := range entry.Consecrations {
			if _, skipped := skip[r.BishopID]; !skipped {
				ids = append(ids, r.BishopID)
			}
		}
	}
	lookups := e.ResolveAll(ctx, ids)

	check := func(records []Record, kind Kind) bool {
		for i := range records {
			lookup, ok := lookups[records[i].BishopID]
			if !ok {
				continue
			}
			if !IsRecordAllowed(&records[i], lookup.Restriction(), kind) {
				e.observer.Violation(kind)
				return true
			}
		}
		return false
	}

	flagged := 0
	for i := range roster {
		entry := &roster[i]
		ordViolation := check(entry.Ordinations, KindOrdination)
		consViolation := check(entry.Consecrations, KindConsecration)
		entry.Warning = ordViolation || consViolation
		if entry.Warning {
			flagged++
		}
	}
	return flagged
}
