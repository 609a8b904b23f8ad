package structure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindIncubator.Valid())
	assert.True(t, KindPen.Valid())
	assert.False(t, Kind("barn").Valid())
	assert.False(t, Kind("").Valid())
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		state  State
		want   Kind
		wantOK bool
	}{
		{name: "incubating", state: Incubating{Rarity: RarityCommon}, want: KindIncubator, wantOK: true},
		{name: "occupied", state: Occupied{Unit: Unit{ID: "u1"}}, want: KindPen, wantOK: true},
		{name: "empty fits either", state: Empty{}, want: "", wantOK: false},
		{name: "nil", state: nil, want: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := KindOf(tt.state)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(Empty{}, KindIncubator))
	assert.True(t, Matches(Empty{}, KindPen))
	assert.True(t, Matches(Incubating{}, KindIncubator))
	assert.False(t, Matches(Incubating{}, KindPen))
	assert.True(t, Matches(Occupied{}, KindPen))
	assert.False(t, Matches(Occupied{}, KindIncubator))
	assert.False(t, Matches(nil, KindPen))
	assert.False(t, Matches(Empty{}, Kind("barn")))
}

func TestStructure_Known(t *testing.T) {
	s := Structure{ID: "Inc_1", Kind: KindIncubator}
	assert.False(t, s.Known())

	s.State = Empty{}
	s.StateAt = time.Now()
	assert.True(t, s.Known())
}

func TestChangeAction_Valid(t *testing.T) {
	for _, a := range []ChangeAction{ChangeInitial, ChangePlaced, ChangeHatched, ChangeCancelled, ChangeCollected, ChangeRemoved} {
		assert.True(t, a.Valid(), "expected %q to be valid", a)
	}
	assert.False(t, ChangeAction("Exploded").Valid())
	assert.False(t, ChangeAction("").Valid())
}
