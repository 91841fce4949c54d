package validity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagClergyListWithViolations(t *testing.T) {
	source := newFakeSource(map[string]Summary{"good": validBishop, "bad": invalidBishop})
	engine := NewEngine(source)

	roster := []RosterEntry{
		{ClergyID: "c1", Ordinations: []Record{{Validity: ValidityValid, BishopID: "good"}}},
		{ClergyID: "c2", Ordinations: []Record{{Validity: ValidityValid, BishopID: "bad"}}, Warning: false},
		{ClergyID: "c3", Consecrations: []Record{{Validity: ValidityInvalid, BishopID: "bad"}}, Warning: true},
		{ClergyID: "c4", Consecrations: []Record{{Validity: ValidityValid, BishopID: "fresh"}}},
		{ClergyID: "c5"},
	}
	flagged := engine.FlagClergyListWithViolations(context.Background(), roster, []string{"fresh"})

	assert.Equal(t, 1, flagged)
	assert.False(t, roster[0].Warning)
	assert.True(t, roster[1].Warning)
	assert.False(t, roster[2].Warning, "stale warning is cleared")
	assert.False(t, roster[3].Warning)
	assert.False(t, roster[4].Warning)
	assert.Equal(t, 0, source.callsFor("fresh"))
	assert.Equal(t, 1, source.callsFor("bad"))
}

func TestFlagClergyListFailsOpen(t *testing.T) {
	source := newFakeSource(nil)
	source.failing["down"] = true
	engine := NewEngine(source)

	roster := []RosterEntry{{ClergyID: "c1", Ordinations: []Record{{Validity: ValidityValid, BishopID: "down"}}}}
	assert.Equal(t, 0, engine.FlagClergyListWithViolations(context.Background(), roster, nil))
	assert.False(t, roster[0].Warning)
}
