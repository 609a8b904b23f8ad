package structure

import "time"

// State is the server-derived occupancy of a structure. It is a closed set:
// Empty, Incubating or Occupied. The client replaces a structure's State
// wholesale from server data and never edits the fields of a held value.
type State interface {
	state()
}

// Empty is a structure with nothing placed in it.
type Empty struct{}

// Incubating is an incubator holding an egg. Whether the egg is still
// incubating or ready to hatch is derived from StartTime and HatchDuration
// at read time, never stored.
type Incubating struct {
	Rarity        Rarity
	Variant       string
	StartTime     time.Time // server clock
	HatchDuration time.Duration
}

// Occupied is a pen holding a critter.
type Occupied struct {
	Unit            Unit
	LastCollectTime time.Time // server clock; the server resets it on collect
}

// Unit identifies a hatched critter.
type Unit struct {
	ID      string
	Name    string
	Rarity  Rarity
	Variant string
	Level   int
}

func (Empty) state()      {}
func (Incubating) state() {}
func (Occupied) state()   {}

// KindOf returns the structure kind a state variant belongs to. Empty fits
// either kind, so ok is false for it and for nil.
func KindOf(s State) (Kind, bool) {
	switch s.(type) {
	case Incubating:
		return KindIncubator, true
	case Occupied:
		return KindPen, true
	default:
		return "", false
	}
}

// Matches reports whether a state variant is legal for a structure kind.
func Matches(s State, k Kind) bool {
	if s == nil {
		return false
	}
	if _, ok := s.(Empty); ok {
		return k.Valid()
	}
	sk, _ := KindOf(s)
	return sk == k
}

// Rarity grades eggs and critters.
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityUncommon  Rarity = "Uncommon"
	RarityRare      Rarity = "Rare"
	RarityEpic      Rarity = "Epic"
	RarityLegendary Rarity = "Legendary"
)
