package game

import (
	"math/rand/v2"
)

// wordEntry pairs a target word with its canned clue.
type wordEntry struct {
	word string
	clue string
}

// wordsByLength is the built-in word pool, grouped by length so the
// relay variant can advance word length each round. Words are stored
// uppercased, matching the target representation.
var wordsByLength = map[int][]wordEntry{
	4: {
		{"MOON", "It orbits the Earth."},
		{"FROG", "An amphibian that croaks."},
		{"LAVA", "Molten rock above ground."},
		{"WOLF", "It hunts in packs and howls."},
		{"KIWI", "A fuzzy fruit, or a flightless bird."},
		{"MAZE", "Easy to enter, hard to leave."},
	},
	5: {
		{"PIANO", "An instrument with 88 keys."},
		{"COMET", "An icy visitor with a tail."},
		{"TIGER", "A striped big cat."},
		{"BREAD", "Baked from flour and water."},
		{"CHESS", "A board game of kings and queens."},
		{"STORM", "Thunder usually comes with it."},
	},
	6: {
		{"CAMERA", "It captures moments."},
		{"GUITAR", "Six strings, usually."},
		{"CASTLE", "A fortress with towers."},
		{"PIRATE", "A sailor flying a black flag."},
		{"TEMPLE", "A place of worship."},
		{"JUNGLE", "A dense tropical forest."},
	},
	7: {
		{"RAINBOW", "Seven colors after the rain."},
		{"PENGUIN", "A bird in a tuxedo."},
		{"COMPASS", "It always points north."},
		{"GLACIER", "A slow river of ice."},
		{"MONSOON", "A season of heavy rain."},
		{"HARVEST", "Gathering what was sown."},
	},
	8: {
		{"ELEPHANT", "The largest land animal."},
		{"UMBRELLA", "Open it when it rains."},
		{"DINOSAUR", "Extinct giant reptile."},
		{"SCORPION", "Eight legs and a stinger."},
		{"KANGAROO", "It carries its young in a pouch."},
		{"MOUNTAIN", "The highest kind of ground."},
	},
}

// pickWord returns a random entry of the given length, or of any
// length when length is zero. Lengths outside the pool fall back to
// the longest available.
func pickWord(length int) wordEntry {
	if length == 0 {
		lengths := poolLengths()
		length = lengths[rand.IntN(len(lengths))]
	}
	pool, ok := wordsByLength[length]
	if !ok {
		pool = wordsByLength[maxWordLength()]
	}
	return pool[rand.IntN(len(pool))]
}

// maxWordLength returns the longest word length in the pool, which
// caps relay progression.
func maxWordLength() int {
	max := 0
	for l := range wordsByLength {
		if l > max {
			max = l
		}
	}
	return max
}

func poolLengths() []int {
	lengths := make([]int, 0, len(wordsByLength))
	for l := range wordsByLength {
		lengths = append(lengths, l)
	}
	return lengths
}
