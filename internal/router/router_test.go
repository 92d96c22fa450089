package router_test

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lbento/warden/internal/access"
	"github.com/lbento/warden/internal/archive"
	"github.com/lbento/warden/internal/commands"
	"github.com/lbento/warden/internal/config"
	"github.com/lbento/warden/internal/database"
	"github.com/lbento/warden/internal/game"
	"github.com/lbento/warden/internal/router"
	"github.com/lbento/warden/internal/transport"
)

// nullStore keeps no state; the registry holds everything in memory.
type nullStore struct{}

func (s *nullStore) Ping(context.Context) error                                  { return nil }
func (s *nullStore) GetOwner(context.Context) (string, error)                    { return "", nil }
func (s *nullStore) SetOwner(context.Context, string) error                      { return nil }
func (s *nullStore) ListGrants(context.Context) (map[string][]string, error)     { return nil, nil }
func (s *nullStore) AddGrant(context.Context, string, string) error              { return nil }
func (s *nullStore) RemoveGrant(context.Context, string, string) error           { return nil }
func (s *nullStore) ListGameSessions(context.Context) (map[string]string, error) { return nil, nil }
func (s *nullStore) SaveGameSession(context.Context, string, string) error       { return nil }
func (s *nullStore) DeleteGameSession(context.Context, string) error             { return nil }
func (s *nullStore) AppendGameHistory(context.Context, *database.GameHistory) error {
	return nil
}
func (s *nullStore) GetMediaObject(context.Context, string) (*database.MediaObject, error) {
	return nil, nil
}
func (s *nullStore) InsertMediaObject(context.Context, *database.MediaObject) error { return nil }
func (s *nullStore) AddMediaRef(context.Context, string, string, string) error      { return nil }
func (s *nullStore) CountMediaRefs(context.Context, string) (int, error)            { return 0, nil }
func (s *nullStore) RunSQLMaintenance(context.Context) error                        { return nil }

// fakeTransport delivers scripted inbound messages and records
// outbound replies.
type fakeTransport struct {
	msgs chan transport.Message

	mu     sync.Mutex
	sent   []sentText
	typing int
}

type sentText struct {
	conversation string
	text         string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{msgs: make(chan transport.Message, 16)}
}

func (f *fakeTransport) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (f *fakeTransport) Messages() <-chan transport.Message { return f.msgs }

func (f *fakeTransport) SendText(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{conversation: conversationID, text: text})
	return nil
}

func (f *fakeTransport) SendMedia(context.Context, string, transport.Media, string) error {
	return nil
}

func (f *fakeTransport) SendTyping(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing++
	return nil
}

func (f *fakeTransport) SelfID() string { return "5511900000000@s.whatsapp.net" }

func (f *fakeTransport) replies() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentText, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.typing
}

const (
	ownerID = "5511911111111@s.whatsapp.net"
	userID  = "5511922222222@s.whatsapp.net"
	convID  = "120363041234567890@g.us"
)

type fixture struct {
	router   *router.Router
	registry *access.Registry
	archiver *archive.Archiver
	trans    *fakeTransport
	logDir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	reg := access.NewRegistry(ctx, &nullStore{}, nil)
	require.NoError(t, reg.SetOwner(ctx, ownerID))

	logDir := t.TempDir()
	arch, err := archive.New(nil, &nullStore{}, archive.Config{
		Dir:      logDir,
		MediaDir: t.TempDir(),
	})
	require.NoError(t, err)

	games := config.GamesConfig{
		IdleTimeout:     30 * time.Minute,
		JoinWindow:      time.Minute,
		MaxWrongGuesses: 6,
	}
	cmdRegistry := commands.NewRegistry(commands.Deps{
		Registry: reg,
		Archiver: arch,
		Games:    games,
		Prefix:   ".",
	})

	trans := newFakeTransport()
	r := router.New(nil, config.BotConfig{
		CommandPrefix:         ".",
		MaxConcurrentCommands: 4,
		BotMoveDelay:          time.Millisecond,
		ShutdownTimeout:       time.Second,
	}, games, reg, arch, cmdRegistry, trans)

	return &fixture{router: r, registry: reg, archiver: arch, trans: trans, logDir: logDir}
}

// start runs the router until the test ends.
func (fx *fixture) start(t *testing.T) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = fx.router.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func (fx *fixture) send(sender, text string) {
	fx.trans.msgs <- transport.Message{
		ID:           "msg-" + text,
		Sender:       sender,
		Conversation: convID,
		Text:         text,
		Kind:         "text",
		Timestamp:    time.Now().UTC(),
	}
}

func (fx *fixture) waitForReply(t *testing.T, count int) []sentText {
	t.Helper()

	require.Eventually(t, func() bool {
		return len(fx.trans.replies()) >= count
	}, 2*time.Second, 5*time.Millisecond, "expected %d replies, got %v", count, fx.trans.replies())
	return fx.trans.replies()
}

func TestOwnerCommandGetsReply(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.send(ownerID, ".ping")

	replies := fx.waitForReply(t, 1)
	assert.Equal(t, "pong", replies[0].text)
	assert.Equal(t, convID, replies[0].conversation)

	// Inbound message and outbound reply both queued for archival.
	require.Eventually(t, func() bool {
		return fx.archiver.Stats().Enqueued == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDeniedMessageIsSilentButArchived(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.send(userID, ".ping")
	// The follow-up owner ping proves the denied message was already
	// processed when we count replies.
	fx.send(ownerID, ".ping")

	replies := fx.waitForReply(t, 1)
	assert.Len(t, replies, 1, "stranger's command drew a reply")
	assert.Equal(t, "pong", replies[0].text)

	assert.GreaterOrEqual(t, fx.archiver.Stats().Enqueued, uint64(2))
}

func TestOwnEchoIsArchivedOnly(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.trans.msgs <- transport.Message{
		ID:           "echo-1",
		Sender:       ownerID,
		Conversation: convID,
		Text:         "just me talking",
		Kind:         "text",
		Timestamp:    time.Now().UTC(),
		FromSelf:     true,
	}
	fx.send(ownerID, ".ping")

	replies := fx.waitForReply(t, 1)
	assert.Len(t, replies, 1)
	require.Eventually(t, func() bool {
		// Echo, command, and reply all queued for archival.
		return fx.archiver.Stats().Enqueued == 3
	}, time.Second, 5*time.Millisecond)
}

func TestTypingIndicatorOnlyForOwner(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	require.NoError(t, fx.registry.Allow(context.Background(), userID, "ping"))
	fx.start(t)

	fx.send(userID, ".ping")
	replies := fx.waitForReply(t, 1)
	assert.Equal(t, "pong", replies[0].text)
	assert.Equal(t, 0, fx.trans.typingCount(), "granted user's command ran with the indicator")

	fx.send(ownerID, ".ping")
	fx.waitForReply(t, 2)
	assert.Equal(t, 1, fx.trans.typingCount())
}

func TestOutboundArchiveEntryHasGeneratedID(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.send(ownerID, ".ping")
	fx.waitForReply(t, 1)
	require.Eventually(t, func() bool {
		return fx.archiver.Stats().Enqueued == 2
	}, time.Second, 5*time.Millisecond)

	fx.archiver.Flush(context.Background())

	now := time.Now().UTC()
	logPath := filepath.Join(fx.logDir, now.Format("2006"), now.Format("01"), "group", now.Format("02")+".log")
	f, err := os.Open(logPath)
	require.NoError(t, err)
	defer f.Close()

	var found bool
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e archive.Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		if e.Direction != archive.DirectionOut {
			continue
		}
		found = true
		_, err := uuid.Parse(e.MessageID)
		assert.NoError(t, err, "outbound message id %q should be a generated uuid", e.MessageID)
	}
	require.NoError(t, scanner.Err())
	require.True(t, found, "no outbound entry in the day log")
}

func TestOwnerUnknownCommand(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.send(ownerID, ".doesnotexist")

	replies := fx.waitForReply(t, 1)
	assert.Contains(t, replies[0].text, "Unknown command")
	assert.Contains(t, replies[0].text, ".help")
}

func TestGamePlayerInputFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	_, _, err := fx.registry.StartGame(context.Background(), convID, game.KindWord, []string{userID}, game.Settings{MaxWrongGuesses: 6})
	require.NoError(t, err)

	// Chatter that is not game input draws no reply.
	fx.send(userID, "nice weather today")
	// A single letter is a guess.
	fx.send(userID, "e")

	replies := fx.waitForReply(t, 1)
	assert.Len(t, replies, 1, "only the guess drew a reply")
	assert.NotEmpty(t, replies[0].text)
}

func TestGameQuitEndsSession(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	_, _, err := fx.registry.StartGame(context.Background(), convID, game.KindWord, []string{userID}, game.Settings{})
	require.NoError(t, err)

	fx.send(userID, "quit")

	replies := fx.waitForReply(t, 1)
	assert.Contains(t, replies[0].text, "Game over")

	require.Eventually(t, func() bool {
		_, ok := fx.registry.Session(convID)
		return !ok
	}, time.Second, 5*time.Millisecond, "session still active after quit")
}

func TestOwnerPlaysOwnGame(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.send(ownerID, ".hangman")
	fx.waitForReply(t, 1)

	// Owner precedence still lets the owner submit guesses.
	fx.send(ownerID, "e")
	replies := fx.waitForReply(t, 2)
	assert.NotEmpty(t, replies[1].text)
}

func TestBotAnswersGridMove(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	_, _, err := fx.registry.StartGame(context.Background(), convID, game.KindGrid,
		[]string{userID, game.BotPlayer}, game.Settings{})
	require.NoError(t, err)

	fx.send(userID, "5")

	// The player's move reply comes first, the bot's delayed move after.
	replies := fx.waitForReply(t, 2)
	assert.Contains(t, replies[0].text, "turn")

	sess, ok := fx.registry.Session(convID)
	require.True(t, ok)
	sess.Lock()
	moves := sess.Grid.Moves
	turn := sess.CurrentPlayer()
	sess.Unlock()
	assert.Equal(t, 2, moves, "bot answered with its own move")
	assert.NotEqual(t, game.BotPlayer, turn)
}

func TestSweepEndsIdleSession(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	sess, _, err := fx.registry.StartGame(context.Background(), convID, game.KindWord, []string{userID}, game.Settings{})
	require.NoError(t, err)
	sess.Lock()
	sess.LastMoveAt = time.Now().UTC().Add(-time.Hour)
	sess.Unlock()

	require.NoError(t, fx.router.Sweep(context.Background()))

	_, ok := fx.registry.Session(convID)
	assert.False(t, ok, "idle session survived the sweep")

	replies := fx.trans.replies()
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0].text, "timed out")
}

func TestSweepFinalizesRelayJoinWindow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	sess, _, err := fx.registry.StartGame(context.Background(), convID, game.KindRelay,
		[]string{userID}, game.Settings{JoinWindow: time.Minute})
	require.NoError(t, err)

	// Window still open: nothing happens.
	require.NoError(t, fx.router.Sweep(context.Background()))
	_, ok := fx.registry.Session(convID)
	require.True(t, ok)

	sess.Lock()
	sess.Word.JoinDeadline = time.Now().UTC().Add(-time.Second)
	sess.Unlock()

	require.NoError(t, fx.router.Sweep(context.Background()))

	_, ok = fx.registry.Session(convID)
	assert.False(t, ok, "single-player relay should be canceled at the deadline")

	replies := fx.trans.replies()
	require.NotEmpty(t, replies)
	assert.Contains(t, replies[len(replies)-1].text, "Not enough players")
}

func TestForceEndGame(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	_, _, err := fx.registry.StartGame(context.Background(), convID, game.KindWord, []string{userID}, game.Settings{})
	require.NoError(t, err)

	assert.True(t, fx.router.ForceEndGame(context.Background(), convID, game.StatusTimeout))
	assert.False(t, fx.router.ForceEndGame(context.Background(), convID, game.StatusTimeout))

	_, ok := fx.registry.Session(convID)
	assert.False(t, ok)
}

func TestShutdownFlushesArchive(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.start(t)

	fx.send(ownerID, ".ping")
	fx.waitForReply(t, 1)

	fx.router.Shutdown(context.Background())
	assert.Equal(t, 0, fx.archiver.Stats().QueueLength)
}
