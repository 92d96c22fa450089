package game

import (
	"fmt"
	"strings"
	"time"

	"github.com/lbento/warden/internal/identity"
)

// WordState is the kind-specific state of the word-guessing game and
// its relay variant. Target is always uppercased; Correct and Wrong
// accumulate guessed letters in guess order.
type WordState struct {
	Target     string `json:"target"`
	Clue       string `json:"clue"`
	Correct    string `json:"correct"`
	Wrong      string `json:"wrong"`
	WrongCount int    `json:"wrong_count"`
	MaxWrong   int    `json:"max_wrong"`

	// Relay-only fields.
	Relay        bool      `json:"relay,omitempty"`
	Joining      bool      `json:"joining,omitempty"`
	JoinDeadline time.Time `json:"join_deadline,omitempty"`
	Round        int       `json:"round,omitempty"`
}

const defaultMaxWrong = 6

// relayStartLength is the word length of the first relay round; each
// completed round advances it by one up to the longest available
// words, at which point the relay is won.
const relayStartLength = 4

type wordEngine struct {
	relay bool
}

func (e *wordEngine) Kind() Kind {
	if e.relay {
		return KindRelay
	}
	return KindWord
}

func (e *wordEngine) Start(s *Session, settings Settings) (string, error) {
	if len(s.Players) < 1 {
		return "", fmt.Errorf("word game requires at least 1 player")
	}

	maxWrong := settings.MaxWrongGuesses
	if maxWrong <= 0 {
		maxWrong = defaultMaxWrong
	}

	if e.relay {
		joinWindow := settings.JoinWindow
		if joinWindow <= 0 {
			joinWindow = time.Minute
		}
		s.Word = &WordState{
			MaxWrong:     maxWrong,
			Relay:        true,
			Joining:      true,
			JoinDeadline: time.Now().UTC().Add(joinWindow),
		}
		return fmt.Sprintf("Word relay is forming! Send %q in the next %s to play. At least two players are needed.",
			JoinToken, joinWindow), nil
	}

	entry := pickWord(0)
	s.Word = &WordState{
		Target:   entry.word,
		Clue:     entry.clue,
		MaxWrong: maxWrong,
	}
	return fmt.Sprintf("Hangman started! Guess the word one letter at a time. %q for a clue, %q to give up.\n%s",
		HintToken, QuitToken, renderWord(s.Word)), nil
}

// ValidInput accepts single-token input only, so unrelated chatter in
// the conversation never draws a reply. During the relay join phase
// only the join and quit tokens are game input; after it, full-word
// guesses (alphabetic, multi-letter) are accepted as well.
func (e *wordEngine) ValidInput(s *Session, text string) bool {
	fields := strings.Fields(strings.ToLower(text))
	if len(fields) != 1 {
		return false
	}
	token := fields[0]

	if token == QuitToken {
		return true
	}

	if s.Word != nil && s.Word.Joining {
		return token == JoinToken
	}

	if token == HintToken {
		return true
	}

	if len(token) > 1 {
		return e.relay && isAlpha(token)
	}
	return true
}

func (e *wordEngine) Apply(s *Session, player, text string) (Result, error) {
	ws := s.Word
	if ws == nil {
		return Result{}, fmt.Errorf("session %s has no word state", s.ConversationID)
	}

	input := strings.ToUpper(strings.TrimSpace(text))
	token := strings.ToLower(input)

	if ws.Joining {
		return e.applyJoining(s, player, token), nil
	}

	if token == QuitToken {
		s.Status = StatusQuit
		s.touch()
		return Result{
			Reply:  fmt.Sprintf("Game over. The word was %s.", ws.Target),
			Ended:  true,
			Status: StatusQuit,
		}, nil
	}

	if token == HintToken {
		return Result{
			Reply:  fmt.Sprintf("Hint: %s", ws.Clue),
			Status: StatusActive,
		}, nil
	}

	if ws.Relay {
		if idx := s.playerIndex(player); idx != s.TurnIndex {
			return Result{
				Reply:  fmt.Sprintf("It's %s's turn.", playerLabel(s.CurrentPlayer())),
				Status: StatusActive,
			}, nil
		}
	}

	if len(input) > 1 {
		if !ws.Relay || !isAlpha(token) {
			return Result{
				Reply:  "Guess a single letter (A-Z).",
				Status: StatusActive,
			}, nil
		}
		return e.applyWordGuess(s, player, input), nil
	}

	letter := input
	if !isAlpha(token) {
		return Result{
			Reply:  "Guess a single letter (A-Z).",
			Status: StatusActive,
		}, nil
	}

	if strings.Contains(ws.Correct, letter) || strings.Contains(ws.Wrong, letter) {
		return Result{
			Reply:  fmt.Sprintf("%s was already guessed.\n%s", letter, renderWord(ws)),
			Status: StatusActive,
		}, nil
	}

	if strings.Contains(ws.Target, letter) {
		ws.Correct += letter
		s.touch()

		if covered(ws.Target, ws.Correct) {
			if ws.Relay {
				return e.completeRound(s, player), nil
			}
			s.Status = StatusWon
			return Result{
				Reply:  fmt.Sprintf("The word was %s. %s got it!", ws.Target, playerLabel(player)),
				Ended:  true,
				Status: StatusWon,
				Winner: canonicalWinner(s, player),
			}, nil
		}

		return Result{
			Reply:  fmt.Sprintf("%s is in the word!\n%s", letter, renderWord(ws)),
			Status: StatusActive,
		}, nil
	}

	ws.Wrong += letter
	ws.WrongCount++
	s.touch()

	if ws.WrongCount >= ws.MaxWrong {
		s.Status = StatusLost
		return Result{
			Reply:  fmt.Sprintf("Out of guesses! The word was %s.", ws.Target),
			Ended:  true,
			Status: StatusLost,
		}, nil
	}

	return Result{
		Reply:  fmt.Sprintf("No %s in the word.\n%s", letter, renderWord(ws)),
		Status: StatusActive,
	}, nil
}

// applyJoining handles the relay waiting room: join tokens grow the
// player list until the deadline, at which point the first word is
// chosen or the session is canceled for lack of players.
func (e *wordEngine) applyJoining(s *Session, player, token string) Result {
	ws := s.Word

	if time.Now().UTC().After(ws.JoinDeadline) {
		return e.FinalizeJoin(s)
	}

	switch token {
	case QuitToken:
		s.Status = StatusQuit
		s.touch()
		return Result{
			Reply:  "Word relay canceled.",
			Ended:  true,
			Status: StatusQuit,
		}
	case JoinToken:
		if s.playerIndex(player) >= 0 {
			return Result{
				Reply:  fmt.Sprintf("%s is already in.", playerLabel(player)),
				Status: StatusActive,
			}
		}
		norm := identity.Normalize(player)
		if norm == "" {
			return Result{Status: StatusActive}
		}
		s.Players = append(s.Players, norm)
		s.touch()
		return Result{
			Reply:  fmt.Sprintf("%s joined the relay (%d player(s)).", playerLabel(player), len(s.Players)),
			Status: StatusActive,
		}
	default:
		return Result{Status: StatusActive}
	}
}

// FinalizeJoin closes the relay waiting room. With fewer than two
// joiners the session is canceled; otherwise the first word is chosen
// and play begins. Callers must hold the session lock. It is also
// invoked by the scheduler sweep when the window elapses with no
// further input.
func (e *wordEngine) FinalizeJoin(s *Session) Result {
	ws := s.Word
	ws.Joining = false

	if len(s.Players) < 2 {
		s.Status = StatusQuit
		s.touch()
		return Result{
			Reply:  "Not enough players joined. Word relay canceled.",
			Ended:  true,
			Status: StatusQuit,
		}
	}

	entry := pickWord(relayStartLength)
	ws.Target = entry.word
	ws.Clue = entry.clue
	s.TurnIndex = 0
	s.touch()

	return Result{
		Reply: fmt.Sprintf("Word relay starts with %d players! First word has %d letters. %s goes first.\n%s",
			len(s.Players), len(ws.Target), playerLabel(s.CurrentPlayer()), renderWord(ws)),
		Status: StatusActive,
	}
}

// applyWordGuess handles a relay full-word guess. A correct word
// completes the round; a wrong one costs a guess.
func (e *wordEngine) applyWordGuess(s *Session, player, word string) Result {
	ws := s.Word

	if word == ws.Target {
		return e.completeRound(s, player)
	}

	ws.WrongCount++
	s.touch()

	if ws.WrongCount >= ws.MaxWrong {
		s.Status = StatusLost
		return Result{
			Reply:  fmt.Sprintf("Out of guesses! The word was %s.", ws.Target),
			Ended:  true,
			Status: StatusLost,
		}
	}

	return Result{
		Reply:  fmt.Sprintf("%s is not the word.\n%s", word, renderWord(ws)),
		Status: StatusActive,
	}
}

// completeRound advances the relay after a completed word: the word
// length grows by one and the turn rotates. Running past the longest
// available words wins the relay for the player who finished.
func (e *wordEngine) completeRound(s *Session, player string) Result {
	ws := s.Word
	finished := ws.Target

	nextLength := relayStartLength + ws.Round + 1
	if nextLength > maxWordLength() {
		s.Status = StatusWon
		s.touch()
		return Result{
			Reply:  fmt.Sprintf("%s was it! %s completed the relay!", finished, playerLabel(player)),
			Ended:  true,
			Status: StatusWon,
			Winner: canonicalWinner(s, player),
		}
	}

	ws.Round++
	s.TurnIndex = (s.TurnIndex + 1) % len(s.Players)

	entry := pickWord(nextLength)
	ws.Target = entry.word
	ws.Clue = entry.clue
	ws.Correct = ""
	ws.Wrong = ""
	ws.WrongCount = 0
	s.touch()

	return Result{
		Reply: fmt.Sprintf("%s was it! Next word has %d letters. %s is up.\n%s",
			finished, len(ws.Target), playerLabel(s.CurrentPlayer()), renderWord(ws)),
		Status: StatusActive,
	}
}

// FinalizeRelayJoin closes an elapsed relay waiting room from outside
// the engine (the scheduler sweep). It reports false when the session
// is not a relay still in its join phase, or the window has not
// elapsed yet. Callers must hold the session lock.
func FinalizeRelayJoin(s *Session) (Result, bool) {
	if s.Kind != KindRelay || s.Word == nil || !s.Word.Joining {
		return Result{}, false
	}
	if time.Now().UTC().Before(s.Word.JoinDeadline) {
		return Result{}, false
	}
	e, _ := EngineFor(KindRelay)
	return e.(*wordEngine).FinalizeJoin(s), true
}

func (e *wordEngine) Info(s *Session) string {
	ws := s.Word
	if ws == nil {
		return ""
	}
	if ws.Joining {
		return fmt.Sprintf("Word relay is forming (%d joined). Send %q to play.", len(s.Players), JoinToken)
	}
	if ws.Relay {
		return fmt.Sprintf("%s\n%s is up.", renderWord(ws), playerLabel(s.CurrentPlayer()))
	}
	return renderWord(ws)
}

// renderWord renders the masked word and guess bookkeeping
// deterministically from state alone.
func renderWord(ws *WordState) string {
	masked := make([]string, 0, len(ws.Target))
	for _, r := range ws.Target {
		letter := string(r)
		if strings.Contains(ws.Correct, letter) {
			masked = append(masked, letter)
		} else {
			masked = append(masked, "_")
		}
	}

	line := strings.Join(masked, " ")
	if ws.WrongCount == 0 {
		return line
	}
	return fmt.Sprintf("%s\nWrong: %s (%d/%d)", line, strings.Join(strings.Split(ws.Wrong, ""), " "), ws.WrongCount, ws.MaxWrong)
}

// covered reports whether every distinct letter of target has been
// guessed.
func covered(target, correct string) bool {
	for _, r := range target {
		if !strings.ContainsRune(correct, r) {
			return false
		}
	}
	return true
}

func isAlpha(token string) bool {
	if token == "" {
		return false
	}
	for _, r := range token {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

// canonicalWinner maps the raw sender back to the stored player slot
// so history rows carry the canonical identity.
func canonicalWinner(s *Session, player string) string {
	if idx := s.playerIndex(player); idx >= 0 {
		return s.Players[idx]
	}
	return player
}
