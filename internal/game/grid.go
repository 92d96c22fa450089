package game

import (
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
)

// GridState is the kind-specific state of the 3x3 grid game. Cells
// are addressed 1-9 row-major; empty cells hold "".
type GridState struct {
	Cells [9]string `json:"cells"`
	Moves int       `json:"moves"`
}

// gridMarks maps player slot index to mark. The session creator is
// always X and moves first.
var gridMarks = [2]string{"X", "O"}

// gridLines are the 8 winning lines: 3 rows, 3 columns, 2 diagonals.
var gridLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

type gridEngine struct{}

func (e *gridEngine) Kind() Kind { return KindGrid }

func (e *gridEngine) Start(s *Session, _ Settings) (string, error) {
	if len(s.Players) != 2 {
		return "", fmt.Errorf("grid game requires exactly 2 players, got %d", len(s.Players))
	}

	s.Grid = &GridState{}
	prompt := fmt.Sprintf("Tic-tac-toe started! %s plays X, %s plays O.\nSend a position (1-9) or %q to give up.\n%s",
		playerLabel(s.Players[0]), playerLabel(s.Players[1]), QuitToken, renderGrid(s.Grid))
	return prompt, nil
}

// ValidInput accepts a single token that is an integer or the quit
// token. Range checking is Apply's job so out-of-range positions get
// a guidance reply instead of silence.
func (e *gridEngine) ValidInput(_ *Session, text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) != 1 {
		return false
	}
	if fields[0] == QuitToken {
		return true
	}
	_, err := strconv.Atoi(fields[0])
	return err == nil
}

func (e *gridEngine) Apply(s *Session, player, text string) (Result, error) {
	if s.Grid == nil {
		return Result{}, fmt.Errorf("session %s has no grid state", s.ConversationID)
	}

	input := strings.ToLower(strings.TrimSpace(text))

	if input == QuitToken {
		s.Status = StatusQuit
		s.touch()
		return Result{
			Reply:  fmt.Sprintf("%s gave up. Game over.", playerLabel(player)),
			Ended:  true,
			Status: StatusQuit,
		}, nil
	}

	idx := s.playerIndex(player)
	if idx != s.TurnIndex {
		return Result{
			Reply:  fmt.Sprintf("It's %s's turn (%s).", gridMarks[s.TurnIndex], playerLabel(s.CurrentPlayer())),
			Status: StatusActive,
		}, nil
	}

	pos, err := strconv.Atoi(input)
	if err != nil || pos < 1 || pos > 9 {
		return Result{
			Reply:  "Pick a position between 1 and 9.",
			Status: StatusActive,
		}, nil
	}

	cell := pos - 1
	if s.Grid.Cells[cell] != "" {
		return Result{
			Reply:  fmt.Sprintf("Position %d is already taken.\n%s", pos, renderGrid(s.Grid)),
			Status: StatusActive,
		}, nil
	}

	mark := gridMarks[idx]
	s.Grid.Cells[cell] = mark
	s.Grid.Moves++
	s.touch()

	if winningMark(s.Grid) == mark {
		s.Status = StatusWon
		return Result{
			Reply:  fmt.Sprintf("%s\n%s (%s) wins!", renderGrid(s.Grid), playerLabel(player), mark),
			Ended:  true,
			Status: StatusWon,
			Winner: s.Players[idx],
		}, nil
	}

	if s.Grid.Moves == 9 {
		s.Status = StatusTied
		return Result{
			Reply:  fmt.Sprintf("%s\nIt's a tie!", renderGrid(s.Grid)),
			Ended:  true,
			Status: StatusTied,
		}, nil
	}

	s.TurnIndex = 1 - s.TurnIndex
	return Result{
		Reply:  fmt.Sprintf("%s\n%s's turn (%s).", renderGrid(s.Grid), gridMarks[s.TurnIndex], playerLabel(s.CurrentPlayer())),
		Status: StatusActive,
	}, nil
}

func (e *gridEngine) Info(s *Session) string {
	if s.Grid == nil {
		return ""
	}
	return fmt.Sprintf("%s\n%s's turn (%s).", renderGrid(s.Grid), gridMarks[s.TurnIndex], playerLabel(s.CurrentPlayer()))
}

// RandomGridMove picks a uniformly random empty cell for the synthetic
// bot player, returned as a 1-9 position string. ok is false when the
// session is not an active grid game or the board is full.
func RandomGridMove(s *Session) (string, bool) {
	if s.Grid == nil || s.Status != StatusActive {
		return "", false
	}

	empty := make([]int, 0, 9)
	for i, c := range s.Grid.Cells {
		if c == "" {
			empty = append(empty, i+1)
		}
	}
	if len(empty) == 0 {
		return "", false
	}
	return strconv.Itoa(empty[rand.IntN(len(empty))]), true
}

func winningMark(g *GridState) string {
	for _, line := range gridLines {
		a, b, c := g.Cells[line[0]], g.Cells[line[1]], g.Cells[line[2]]
		if a != "" && a == b && b == c {
			return a
		}
	}
	return ""
}

func renderGrid(g *GridState) string {
	cells := make([]string, 9)
	for i, c := range g.Cells {
		if c == "" {
			cells[i] = strconv.Itoa(i + 1)
		} else {
			cells[i] = c
		}
	}

	var sb strings.Builder
	for row := 0; row < 3; row++ {
		if row > 0 {
			sb.WriteString("\n---+---+---\n")
		}
		sb.WriteString(fmt.Sprintf(" %s | %s | %s ", cells[row*3], cells[row*3+1], cells[row*3+2]))
	}
	return sb.String()
}

// playerLabel renders a player identity for replies. The synthetic
// bot slot gets a readable name.
func playerLabel(player string) string {
	if player == BotPlayer {
		return "the bot"
	}
	return "+" + player
}
