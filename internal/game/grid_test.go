package game_test

import (
	"strconv"
	"strings"
	"testing"

	"github.com/lbento/warden/internal/game"
)

const (
	gridPlayerOne = "5511987654321@s.whatsapp.net"
	gridPlayerTwo = "5521912345678@s.whatsapp.net"
)

func newGridSession(t *testing.T, players ...string) (*game.Session, game.Engine) {
	t.Helper()

	s, prompt, err := game.NewSession("conv@g.us", game.KindGrid, players, game.Settings{})
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if prompt == "" {
		t.Fatal("NewSession() returned empty opening prompt")
	}

	e, ok := game.EngineFor(game.KindGrid)
	if !ok {
		t.Fatal("EngineFor(KindGrid) not found")
	}
	return s, e
}

func TestGridRequiresTwoPlayers(t *testing.T) {
	t.Parallel()

	_, _, err := game.NewSession("conv@g.us", game.KindGrid, []string{gridPlayerOne}, game.Settings{})
	if err == nil {
		t.Fatal("NewSession() with one player should fail")
	}
}

func TestGridValidInput(t *testing.T) {
	t.Parallel()

	s, e := newGridSession(t, gridPlayerOne, gridPlayerTwo)

	testCases := []struct {
		input    string
		expected bool
	}{
		{"5", true},
		{" 9 ", true},
		{"42", true}, // range is Apply's job
		{"quit", true},
		{"QUIT", true},
		{"hello", false},
		{"1 2", false},
		{"", false},
	}

	for _, tc := range testCases {
		if got := e.ValidInput(s, tc.input); got != tc.expected {
			t.Errorf("ValidInput(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestGridWinLine(t *testing.T) {
	t.Parallel()

	// Every winning line: rows, columns, diagonals, in 1-based positions.
	lines := []struct {
		name string
		line [3]int
	}{
		{"top row", [3]int{1, 2, 3}},
		{"middle row", [3]int{4, 5, 6}},
		{"bottom row", [3]int{7, 8, 9}},
		{"left column", [3]int{1, 4, 7}},
		{"middle column", [3]int{2, 5, 8}},
		{"right column", [3]int{3, 6, 9}},
		{"main diagonal", [3]int{1, 5, 9}},
		{"anti diagonal", [3]int{3, 5, 7}},
	}

	for _, tc := range lines {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			s, e := newGridSession(t, gridPlayerOne, gridPlayerTwo)

			// The second player fills cells off the line, two at most,
			// so only the first player can complete three in a row.
			onLine := map[int]bool{tc.line[0]: true, tc.line[1]: true, tc.line[2]: true}
			var off []int
			for pos := 1; pos <= 9; pos++ {
				if !onLine[pos] {
					off = append(off, pos)
				}
			}

			for i := 0; i < 2; i++ {
				result, err := e.Apply(s, gridPlayerOne, strconv.Itoa(tc.line[i]))
				if err != nil {
					t.Fatalf("Apply(%d) error = %v", tc.line[i], err)
				}
				if result.Ended {
					t.Fatalf("Apply(%d) ended the game early", tc.line[i])
				}
				if result, err = e.Apply(s, gridPlayerTwo, strconv.Itoa(off[i])); err != nil {
					t.Fatalf("Apply(%d) error = %v", off[i], err)
				}
				if result.Ended {
					t.Fatalf("Apply(%d) ended the game early", off[i])
				}
			}

			result, err := e.Apply(s, gridPlayerOne, strconv.Itoa(tc.line[2]))
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if !result.Ended || result.Status != game.StatusWon {
				t.Fatalf("completing the %s: got ended=%v status=%s, want won", tc.name, result.Ended, result.Status)
			}
			if result.Winner != "5511987654321" {
				t.Errorf("Winner = %q, want canonical first player", result.Winner)
			}
			if s.Status != game.StatusWon {
				t.Errorf("session status = %s, want won", s.Status)
			}
		})
	}
}

func TestGridTieAfterNineMoves(t *testing.T) {
	t.Parallel()

	s, e := newGridSession(t, gridPlayerOne, gridPlayerTwo)

	// X: 1 3 6 7 8, O: 2 4 5 9 fills the board with no line.
	moves := []struct {
		player string
		pos    string
	}{
		{gridPlayerOne, "1"}, {gridPlayerTwo, "2"},
		{gridPlayerOne, "3"}, {gridPlayerTwo, "4"},
		{gridPlayerOne, "6"}, {gridPlayerTwo, "5"},
		{gridPlayerOne, "7"}, {gridPlayerTwo, "9"},
	}
	for _, m := range moves {
		result, err := e.Apply(s, m.player, m.pos)
		if err != nil {
			t.Fatalf("Apply(%s, %s) error = %v", m.player, m.pos, err)
		}
		if result.Ended {
			t.Fatalf("Apply(%s, %s) ended the game early with status %s", m.player, m.pos, result.Status)
		}
	}

	result, err := e.Apply(s, gridPlayerOne, "8")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Ended || result.Status != game.StatusTied {
		t.Fatalf("ninth move: got ended=%v status=%s, want tied", result.Ended, result.Status)
	}
}

func TestGridRejectedMovesLeaveStateUnchanged(t *testing.T) {
	t.Parallel()

	s, e := newGridSession(t, gridPlayerOne, gridPlayerTwo)

	// Out of turn.
	result, err := e.Apply(s, gridPlayerTwo, "5")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !strings.Contains(result.Reply, "turn") {
		t.Errorf("out-of-turn reply = %q, want turn guidance", result.Reply)
	}
	if s.Grid.Moves != 0 {
		t.Errorf("out-of-turn move mutated the board, moves = %d", s.Grid.Moves)
	}

	// Out of range.
	result, _ = e.Apply(s, gridPlayerOne, "0")
	if !strings.Contains(result.Reply, "between 1 and 9") {
		t.Errorf("out-of-range reply = %q", result.Reply)
	}
	if s.Grid.Moves != 0 {
		t.Errorf("out-of-range move mutated the board, moves = %d", s.Grid.Moves)
	}

	// Occupied cell.
	if _, err := e.Apply(s, gridPlayerOne, "5"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	result, _ = e.Apply(s, gridPlayerTwo, "5")
	if !strings.Contains(result.Reply, "already taken") {
		t.Errorf("occupied reply = %q", result.Reply)
	}
	if s.Grid.Moves != 1 {
		t.Errorf("occupied move mutated the board, moves = %d", s.Grid.Moves)
	}
	if s.TurnIndex != 1 {
		t.Errorf("TurnIndex = %d, want second player still to move", s.TurnIndex)
	}
}

func TestGridQuitEndsGame(t *testing.T) {
	t.Parallel()

	s, e := newGridSession(t, gridPlayerOne, gridPlayerTwo)

	result, err := e.Apply(s, gridPlayerTwo, "quit")
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !result.Ended || result.Status != game.StatusQuit {
		t.Fatalf("quit: got ended=%v status=%s, want quit", result.Ended, result.Status)
	}
}

func TestRandomGridMove(t *testing.T) {
	t.Parallel()

	s, _ := newGridSession(t, gridPlayerOne, game.BotPlayer)

	// Leave only cell 6 empty.
	for i := range s.Grid.Cells {
		if i != 5 {
			s.Grid.Cells[i] = "X"
		}
	}

	for i := 0; i < 20; i++ {
		move, ok := game.RandomGridMove(s)
		if !ok {
			t.Fatal("RandomGridMove() = false, want a move")
		}
		if move != "6" {
			t.Fatalf("RandomGridMove() = %q, want the only empty cell", move)
		}
	}

	s.Grid.Cells[5] = "O"
	if _, ok := game.RandomGridMove(s); ok {
		t.Error("RandomGridMove() on a full board should report false")
	}

	if pos, ok := game.RandomGridMove(&game.Session{}); ok {
		t.Errorf("RandomGridMove() without grid state = %q, want none", pos)
	}
}

func TestGridSessionRoundTrip(t *testing.T) {
	t.Parallel()

	s, e := newGridSession(t, gridPlayerOne, gridPlayerTwo)
	if _, err := e.Apply(s, gridPlayerOne, "5"); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	state, err := s.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	restored, err := game.UnmarshalSession(state)
	if err != nil {
		t.Fatalf("UnmarshalSession() error = %v", err)
	}
	if restored.Grid == nil || restored.Grid.Cells[4] != "X" {
		t.Error("restored session lost the applied move")
	}
	if restored.TurnIndex != 1 {
		t.Errorf("restored TurnIndex = %d, want 1", restored.TurnIndex)
	}

	// Play continues on the restored session.
	result, err := e.Apply(restored, gridPlayerTwo, strconv.Itoa(1))
	if err != nil {
		t.Fatalf("Apply() on restored session error = %v", err)
	}
	if result.Ended {
		t.Error("second move should not end the game")
	}
}
