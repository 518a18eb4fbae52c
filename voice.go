package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/asticode/go-astiav"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
)

// ============================================================================
// Playback Engine
// ============================================================================

const (
	MsgMusicNotInVoice    = "❌ Tu dois être dans un salon vocal pour utiliser cette commande."
	MsgMusicNoSession     = "❌ Aucune lecture en cours sur ce serveur."
	MsgMusicJoinFail      = "❌ Impossible de rejoindre le salon vocal."
	MsgMusicResolveFail   = "❌ Aucun résultat trouvé pour cette recherche."
	MsgMusicQueued        = "🎵 **%s** ajouté à la file d'attente (position %d)."
	MsgMusicQueuedNow     = "🎵 Lecture de **%s**."
	MsgMusicSkipped       = "⏭️ **%s** passé."
	MsgMusicNothingToSkip = "❌ Rien à passer."
	MsgMusicStopped       = "⏹️ Lecture arrêtée, à bientôt !"
	MsgMusicQueueEmpty    = "📭 La file d'attente est vide."
	MsgMusicQueueCleared  = "🗑️ File d'attente vidée."
	MsgMusicQueueDone     = "✅ File d'attente terminée."
)

var OpusSilence = []byte{0xf8, 0xff, 0xfe}

const (
	SilenceDuration = 1 * time.Second

	// Bound on establishing the voice connection and on the first bytes of a
	// track download arriving.
	maxConnWait = 20 * time.Second
	// A download that stops making progress for this long is abandoned.
	maxStall = 5 * time.Second
	// Hard cap on waiting for a track to become playable.
	maxTotal = 60 * time.Second

	// Bytes that must be buffered before playback starts on a partial file.
	trackReadyBytes = 512 * 1024

	searchCacheTTL = 1 * time.Hour
)

var (
	VoiceManager *VoiceSystem
	OnceVoice    sync.Once
)

type SearchResult struct {
	URL   string
	Title string
}

type cachedItem struct {
	results   []SearchResult
	expiresAt time.Time
}

type QueryCache struct {
	sync.RWMutex
	items map[string]cachedItem
}

type VoiceSystem struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*VoiceSession
	cache    *QueryCache
}

type VoiceSession struct {
	GuildID   snowflake.ID
	ChannelID snowflake.ID
	channelMu sync.RWMutex

	Conn   voice.Conn
	client bot.Client

	cancelCtx  context.Context
	cancelFunc context.CancelFunc

	queueMu      sync.Mutex
	queue        []*Track
	currentTrack *Track
	streamCancel context.CancelFunc
	provider     *StreamProvider
	queueUpdate  chan struct{}

	joinedMu     sync.Mutex
	joined       bool
	joinedChan   chan struct{}
	joinedChanMu sync.Mutex

	// Channel where queue notices are posted. Zero when playback is driven
	// programmatically rather than by /music.
	noticeMu        sync.Mutex
	noticeChannelID snowflake.ID

	goroutineWg sync.WaitGroup
}

type Track struct {
	URL      string
	Title    string
	Channel  string
	Duration time.Duration
	Path     string

	Error        error
	Downloaded   bool
	WrittenBytes int64
	LiveStream   io.Reader

	mu        sync.Mutex
	fetchOnce sync.Once
	onceStart sync.Once

	done            chan struct{}
	MetadataReady   chan struct{}
	PlaybackStarted chan struct{}

	cancel         context.CancelFunc
	downloadCancel context.CancelFunc
}

// ===========================
// Commands
// ===========================

func init() {
	memberPerm := discord.PermissionSendMessages
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "music",
		Description:              "Joue de la musique dans un salon vocal",
		DefaultMemberPermissions: omit.New(&memberPerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Ajoute une chanson à la file d'attente",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "chanson",
						Description:  "Lien YouTube ou recherche",
						Required:     true,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Passe la chanson en cours",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Arrête la lecture et quitte le salon vocal",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Affiche la file d'attente",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Vide la file d'attente",
			},
		},
	}, handleMusic)

	RegisterAutocompleteHandler("music", autocompleteMusic)

	RegisterVoiceStateUpdateHandler(func(event *events.GuildVoiceStateUpdate) {
		GetVoiceManager().onVoiceStateUpdate(event)
	})

	RegisterDaemon(LogVoice, func(ctx context.Context) (bool, func(), func()) {
		dir := GlobalConfig.AudioCacheDir
		_ = os.RemoveAll(dir)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			LogVoice("Failed to create audio cache dir %s: %v", dir, err)
			return false, nil, nil
		}
		astiav.SetLogLevel(astiav.LogLevelFatal)

		run := func() {
			<-ctx.Done()
		}
		shutdown := func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			GetVoiceManager().Shutdown(shutdownCtx)
		}
		return true, run, shutdown
	})
}

func handleMusic(event *events.ApplicationCommandInteractionCreate) {
	data := event.SlashCommandInteractionData()
	if event.GuildID() == nil {
		respondEphemeral(event, MsgMusicNotInVoice)
		return
	}

	sub := ""
	if data.SubCommandName != nil {
		sub = *data.SubCommandName
	}

	switch sub {
	case "play":
		handleMusicPlay(event, data)
	case "skip":
		handleMusicSkip(event)
	case "stop":
		handleMusicStop(event)
	case "queue":
		handleMusicQueue(event)
	case "clear":
		handleMusicClear(event)
	}
}

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	client := *event.Client()
	guildID := *event.GuildID()

	voiceState, ok := client.Caches.VoiceState(guildID, event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		respondEphemeral(event, MsgMusicNotInVoice)
		return
	}
	channelID := *voiceState.ChannelID

	if err := event.DeferCreateMessage(false); err != nil {
		return
	}

	query := data.String("chanson")
	safeGo(func() {
		ctx, cancel := context.WithTimeout(AppContext, 45*time.Second)
		defer cancel()

		url := query
		if !strings.HasPrefix(query, "http") {
			resolved, err := ResolveSearchQuery(ctx, query)
			if err != nil {
				editResponse(client, event, MsgMusicResolveFail)
				return
			}
			url = resolved
		}

		vm := GetVoiceManager()
		joinCtx, joinCancel := context.WithTimeout(ctx, maxConnWait)
		err := vm.Join(joinCtx, client, guildID, channelID)
		joinCancel()
		if err != nil {
			editResponse(client, event, MsgMusicJoinFail)
			return
		}

		sess := vm.GetSession(guildID)
		if sess == nil {
			editResponse(client, event, MsgMusicJoinFail)
			return
		}
		sess.setNoticeChannel(event.Channel().ID())

		t, pos, err := vm.Play(guildID, url)
		if err != nil {
			editResponse(client, event, MsgGenericErrorFR)
			return
		}

		label := displayTitle(t)
		if pos <= 1 {
			editResponse(client, event, fmt.Sprintf(MsgMusicQueuedNow, label))
		} else {
			editResponse(client, event, fmt.Sprintf(MsgMusicQueued, label, pos))
		}
	})
}

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate) {
	sess := GetVoiceManager().GetSession(*event.GuildID())
	if sess == nil {
		respondEphemeral(event, MsgMusicNoSession)
		return
	}

	title, err := sess.Skip()
	if err != nil {
		respondEphemeral(event, MsgMusicNothingToSkip)
		return
	}
	respond(event, fmt.Sprintf(MsgMusicSkipped, title))
}

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	vm := GetVoiceManager()
	if vm.GetSession(*event.GuildID()) == nil {
		respondEphemeral(event, MsgMusicNoSession)
		return
	}

	guildID := *event.GuildID()
	respond(event, MsgMusicStopped)
	safeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vm.Leave(ctx, guildID)
	})
}

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate) {
	sess := GetVoiceManager().GetSession(*event.GuildID())
	if sess == nil {
		respondEphemeral(event, MsgMusicNoSession)
		return
	}

	current, queued := sess.QueueSnapshot()
	if current == nil && len(queued) == 0 {
		respondEphemeral(event, MsgMusicQueueEmpty)
		return
	}

	var b strings.Builder
	if current != nil {
		fmt.Fprintf(&b, "▶️ **%s**\n", displayTitle(current))
	}
	for i, t := range queued {
		if i >= 15 {
			fmt.Fprintf(&b, "… et %d de plus\n", len(queued)-i)
			break
		}
		fmt.Fprintf(&b, "`%d.` %s\n", i+1, displayTitle(t))
	}
	respond(event, b.String())
}

func handleMusicClear(event *events.ApplicationCommandInteractionCreate) {
	sess := GetVoiceManager().GetSession(*event.GuildID())
	if sess == nil {
		respondEphemeral(event, MsgMusicNoSession)
		return
	}
	sess.ClearQueue()
	respond(event, MsgMusicQueueCleared)
}

func autocompleteMusic(event *events.AutocompleteInteractionCreate) {
	q := strings.TrimSpace(event.Data.String("chanson"))
	if len(q) < 3 || strings.HasPrefix(q, "http") {
		_ = event.AutocompleteResult(nil)
		return
	}

	results, err := GetVoiceManager().Search(q)
	if err != nil || len(results) == 0 {
		_ = event.AutocompleteResult(nil)
		return
	}

	choices := make([]discord.AutocompleteChoice, 0, len(results))
	for _, r := range results {
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  Truncate(r.Title, 100),
			Value: r.URL,
		})
	}
	if len(choices) > 25 {
		choices = choices[:25]
	}
	_ = event.AutocompleteResult(choices)
}

func displayTitle(t *Track) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Title != "" {
		return t.Title
	}
	if id := extractVideoID(t.URL); id != "" {
		return "YouTube (" + id + ")"
	}
	return t.URL
}

// ===========================
// Voice Manager
// ===========================

// GetVoiceManager returns the singleton VoiceSystem instance
func GetVoiceManager() *VoiceSystem {
	OnceVoice.Do(func() {
		VoiceManager = &VoiceSystem{
			sessions: make(map[snowflake.ID]*VoiceSession),
			cache: &QueryCache{
				items: make(map[string]cachedItem),
			},
		}
		go VoiceManager.startCacheGC()
	})
	return VoiceManager
}

func (vs *VoiceSystem) startCacheGC() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		<-ticker.C
		vs.cache.Lock()
		now := time.Now()
		for q, item := range vs.cache.items {
			if now.After(item.expiresAt) {
				delete(vs.cache.items, q)
			}
		}
		vs.cache.Unlock()
	}
}

// GetSession retrieves the voice session for a guild
func (vs *VoiceSystem) GetSession(guildID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.sessions[guildID]
}

// Prepare creates or retrieves a voice session for a guild. A session whose
// context was canceled is discarded and replaced.
func (vs *VoiceSystem) Prepare(client bot.Client, guildID, channelID snowflake.ID) *VoiceSession {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	if sess, ok := vs.sessions[guildID]; ok {
		if sess.cancelCtx.Err() != nil {
			delete(vs.sessions, guildID)
		} else {
			sess.channelMu.Lock()
			sess.ChannelID = channelID
			sess.channelMu.Unlock()
			return sess
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sess := &VoiceSession{
		GuildID:     guildID,
		ChannelID:   channelID,
		Conn:        client.VoiceManager.CreateConn(guildID),
		cancelCtx:   ctx,
		cancelFunc:  cancel,
		queue:       make([]*Track, 0),
		client:      client,
		queueUpdate: make(chan struct{}, 1),
		joinedChan:  make(chan struct{}),
	}
	vs.sessions[guildID] = sess
	return sess
}

// Join connects the bot to a voice channel
func (vs *VoiceSystem) Join(ctx context.Context, client bot.Client, guildID, channelID snowflake.ID) error {
	sess := vs.Prepare(client, guildID, channelID)

	sess.joinedMu.Lock()
	if sess.joined {
		sess.joinedMu.Unlock()
		vs.moveIfNeeded(ctx, sess, channelID)
		return nil
	}
	sess.joinedMu.Unlock()

	LogVoice("Joining channel %s in guild %s", channelID, guildID)

	var lastErr error
	for i := range 5 {
		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * 1000 * time.Millisecond
			LogVoice("Retrying voice connection in %v (Attempt %d/5)", backoff, i+1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := sess.Conn.Open(ctx, channelID, false, false); err != nil {
			lastErr = err
			continue
		}
		lastErr = nil
		break
	}

	if lastErr != nil {
		LogVoice("Failed to connect to voice in guild %s after 5 attempts: %v", guildID, lastErr)
		sess.Conn.Close(ctx)
		return lastErr
	}

	sess.joinedMu.Lock()
	if !sess.joined {
		sess.joined = true
		sess.joinedChanMu.Lock()
		select {
		case <-sess.joinedChan:
		default:
			close(sess.joinedChan)
		}
		sess.joinedChanMu.Unlock()
		sess.goroutineWg.Add(1)
		go func() {
			defer sess.goroutineWg.Done()
			sess.processQueue()
		}()
	}
	sess.joinedMu.Unlock()
	return nil
}

func (vs *VoiceSystem) moveIfNeeded(ctx context.Context, sess *VoiceSession, channelID snowflake.ID) {
	sess.channelMu.RLock()
	current := sess.ChannelID
	sess.channelMu.RUnlock()
	if current == channelID {
		return
	}
	if err := sess.Conn.Open(ctx, channelID, false, false); err != nil {
		LogVoice("Failed to move to channel %s in guild %s: %v", channelID, sess.GuildID, err)
		return
	}
	sess.channelMu.Lock()
	sess.ChannelID = channelID
	sess.channelMu.Unlock()
}

// Leave disconnects the bot from a voice channel
func (vs *VoiceSystem) Leave(ctx context.Context, guildID snowflake.ID) {
	vs.mu.Lock()
	sess, ok := vs.sessions[guildID]
	if !ok {
		vs.mu.Unlock()
		return
	}
	delete(vs.sessions, guildID)
	vs.mu.Unlock()

	sess.Stop()
	sess.joinedMu.Lock()
	sess.joined = false
	sess.joinedMu.Unlock()
	if sess.Conn != nil {
		sess.Conn.Close(ctx)
	}
	LogVoice("Left voice in guild %s", guildID)
}

// Shutdown gracefully stops all voice sessions
func (vs *VoiceSystem) Shutdown(ctx context.Context) {
	vs.mu.Lock()
	sessions := make([]*VoiceSession, 0, len(vs.sessions))
	for id, sess := range vs.sessions {
		sessions = append(sessions, sess)
		delete(vs.sessions, id)
	}
	vs.mu.Unlock()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *VoiceSession) {
			defer wg.Done()
			s.Stop()
			if s.Conn != nil {
				s.Conn.Close(ctx)
			}
		}(sess)
	}
	wg.Wait()
}

// Play appends a track to the guild queue and returns its position.
func (vs *VoiceSystem) Play(guildID snowflake.ID, url string) (*Track, int, error) {
	s := vs.GetSession(guildID)
	if s == nil {
		return nil, 0, errors.New("not connected to voice")
	}

	t := NewTrack(url)
	s.queueMu.Lock()
	playing := s.currentTrack != nil
	s.queue = append(s.queue, t)
	pos := len(s.queue)
	select {
	case s.queueUpdate <- struct{}{}:
	default:
	}
	s.queueMu.Unlock()

	LogVoice("Queued track in guild %s: %s", guildID, url)
	go s.prepareTrack(s.cancelCtx, t)

	if playing {
		pos++
	}
	return t, pos, nil
}

// PlayNow discards the queue and the current track and plays url immediately.
// Callers observe playback through the returned track's PlaybackStarted and
// done channels.
func (vs *VoiceSystem) PlayNow(guildID snowflake.ID, url string) (*Track, error) {
	s := vs.GetSession(guildID)
	if s == nil {
		return nil, errors.New("not connected to voice")
	}

	t := NewTrack(url)
	s.queueMu.Lock()
	for _, qt := range s.queue {
		qt.Cleanup()
	}
	s.queue = []*Track{t}
	cancel := s.streamCancel
	select {
	case s.queueUpdate <- struct{}{}:
	default:
	}
	s.queueMu.Unlock()

	if cancel != nil {
		cancel()
	}

	LogVoice("Immediate playback in guild %s: %s", guildID, url)
	go s.prepareTrack(s.cancelCtx, t)
	return t, nil
}

// onVoiceStateUpdate tracks the bot's own voice state so external disconnects
// tear the session down and channel moves are followed.
func (vs *VoiceSystem) onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	client := *event.Client()
	if event.VoiceState.UserID != client.ID() {
		return
	}

	vs.mu.Lock()
	s, ok := vs.sessions[event.VoiceState.GuildID]
	vs.mu.Unlock()
	if !ok {
		return
	}

	if event.VoiceState.ChannelID == nil {
		LogVoice("Bot disconnected by external event in guild %s", event.VoiceState.GuildID)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		vs.Leave(ctx, event.VoiceState.GuildID)
		return
	}

	s.channelMu.Lock()
	if s.ChannelID != *event.VoiceState.ChannelID {
		LogVoice("Bot moved from %s to %s in guild %s", s.ChannelID, *event.VoiceState.ChannelID, event.VoiceState.GuildID)
		s.ChannelID = *event.VoiceState.ChannelID
	}
	s.channelMu.Unlock()
}

// NonBotVoiceMembers lists the human members currently in a voice channel.
func NonBotVoiceMembers(client bot.Client, guildID, channelID snowflake.ID) []snowflake.ID {
	var ids []snowflake.ID
	for state := range client.Caches.VoiceStates(guildID) {
		if state.ChannelID == nil || *state.ChannelID != channelID {
			continue
		}
		if state.UserID == client.ID() {
			continue
		}
		if m, ok := client.Caches.Member(guildID, state.UserID); ok && m.User.Bot {
			continue
		}
		ids = append(ids, state.UserID)
	}
	return ids
}

// ===========================
// Voice Session
// ===========================

// Skip skips the currently playing track
func (s *VoiceSession) Skip() (string, error) {
	s.queueMu.Lock()
	if s.currentTrack == nil {
		s.queueMu.Unlock()
		return "", errors.New("nothing playing")
	}
	title := displayTitle(s.currentTrack)
	cancel := s.streamCancel
	s.queueMu.Unlock()

	if cancel != nil {
		cancel()
	}
	return title, nil
}

// Halt clears the queue and stops the current track without leaving the
// channel.
func (s *VoiceSession) Halt() {
	s.queueMu.Lock()
	for _, t := range s.queue {
		t.Cleanup()
	}
	s.queue = nil
	cancel := s.streamCancel
	s.queueMu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// ClearQueue drops all queued tracks but lets the current one finish.
func (s *VoiceSession) ClearQueue() {
	s.queueMu.Lock()
	for _, t := range s.queue {
		t.Cleanup()
	}
	s.queue = nil
	s.queueMu.Unlock()
}

// QueueSnapshot returns the current track and a copy of the pending queue.
func (s *VoiceSession) QueueSnapshot() (*Track, []*Track) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	queued := make([]*Track, len(s.queue))
	copy(queued, s.queue)
	return s.currentTrack, queued
}

// WaitJoined waits for the bot to join the voice channel
func (s *VoiceSession) WaitJoined(ctx context.Context) error {
	select {
	case <-s.joinedChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.cancelCtx.Done():
		return errors.New("session closed")
	}
}

// Stop stops playback, clears the queue and cancels the session context.
func (s *VoiceSession) Stop() {
	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	s.queueMu.Lock()
	if s.streamCancel != nil {
		s.streamCancel()
	}
	s.queueMu.Unlock()

	if s.Conn != nil {
		s.setOpusFrameProviderSafe(nil)
		s.setSpeakingSafe(0)
	}

	s.queueMu.Lock()
	for _, t := range s.queue {
		t.Cleanup()
	}
	s.queue = nil
	if s.currentTrack != nil {
		s.currentTrack.Cleanup()
	}
	s.currentTrack = nil
	select {
	case s.queueUpdate <- struct{}{}:
	default:
	}
	s.queueMu.Unlock()
}

// WaitForCleanup waits for all session goroutines to exit
func (s *VoiceSession) WaitForCleanup() {
	s.goroutineWg.Wait()
}

func (s *VoiceSession) setNoticeChannel(channelID snowflake.ID) {
	s.noticeMu.Lock()
	s.noticeChannelID = channelID
	s.noticeMu.Unlock()
}

func (s *VoiceSession) notifyQueueExhausted() {
	s.noticeMu.Lock()
	channelID := s.noticeChannelID
	s.noticeMu.Unlock()
	if channelID == 0 {
		return
	}
	_, err := s.client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().
		SetContent(MsgMusicQueueDone).
		Build())
	if err != nil {
		LogVoice("Failed to send queue notice in guild %s: %v", s.GuildID, err)
	}
}

// setOpusFrameProviderSafe sets the opus frame provider safely, recovering from any potential panics
func (s *VoiceSession) setOpusFrameProviderSafe(provider voice.OpusFrameProvider) {
	if s.cancelCtx.Err() != nil {
		return
	}
	if s.Conn == nil || (reflect.ValueOf(s.Conn).Kind() == reflect.Ptr && reflect.ValueOf(s.Conn).IsNil()) {
		return
	}

	for i := range 3 {
		if s.trySetOpusFrameProvider(provider) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-s.cancelCtx.Done():
				return
			}
		}
		if s.cancelCtx.Err() != nil {
			return
		}
	}
	LogVoice("Exhausted retries for SetOpusFrameProvider in guild %s", s.GuildID)
}

func (s *VoiceSession) trySetOpusFrameProvider(provider voice.OpusFrameProvider) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	s.Conn.SetOpusFrameProvider(provider)
	return true
}

// setSpeakingSafe sets the speaking state safely
func (s *VoiceSession) setSpeakingSafe(flags voice.SpeakingFlags) {
	if s.cancelCtx.Err() != nil {
		return
	}
	if s.Conn == nil || (reflect.ValueOf(s.Conn).Kind() == reflect.Ptr && reflect.ValueOf(s.Conn).IsNil()) {
		return
	}

	for i := 0; i < 3; i++ {
		if s.trySetSpeaking(flags) {
			return
		}
		if i < 2 {
			select {
			case <-time.After(150 * time.Millisecond):
			case <-s.cancelCtx.Done():
				return
			}
		}
		if s.cancelCtx.Err() != nil {
			return
		}
	}
	LogVoice("Exhausted retries for SetSpeaking in guild %s", s.GuildID)
}

func (s *VoiceSession) trySetSpeaking(flags voice.SpeakingFlags) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	s.Conn.SetSpeaking(s.cancelCtx, flags)
	return true
}

// processQueue processes tracks from the queue and handles playback
func (s *VoiceSession) processQueue() {
	defer func() {
		if r := recover(); r != nil {
			LogVoice("CRITICAL: processQueue panic recovered: %v", r)
		}
	}()
	for {
		s.queueMu.Lock()
		if len(s.queue) == 0 {
			hadTrack := s.currentTrack != nil
			s.currentTrack = nil
			s.queueMu.Unlock()
			if hadTrack {
				s.notifyQueueExhausted()
			}
			select {
			case <-s.queueUpdate:
				continue
			case <-s.cancelCtx.Done():
				return
			}
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.currentTrack = t
		s.queueMu.Unlock()

		go s.prepareTrack(s.cancelCtx, t)

		if err := t.Wait(s.cancelCtx); err != nil {
			LogVoice("Skipping track %s due to error: %v", t.URL, err)
			continue
		}

		if err := s.WaitJoined(s.cancelCtx); err != nil {
			LogVoice("Skipping track %s: failed to wait for join: %v", t.URL, err)
			continue
		}

		ctx, cancel := context.WithCancel(s.cancelCtx)
		t.cancel = cancel

		go func() {
			select {
			case <-t.PlaybackStarted:
				t.mu.Lock()
				title, channel, url, duration := t.Title, t.Channel, t.URL, t.Duration
				t.mu.Unlock()
				if title == "" {
					title = displayTitle(t)
				}
				LogVoice("Playing track: %s · %s (%s) [%v]", title, channel, url, duration)
			case <-ctx.Done():
				LogVoice("Track skipped/finished: %s", t.URL)
			}
		}()

		s.streamTrack(t)
		t.Cleanup()
	}
}

// prepareTrack resolves metadata and downloads the audio for a track. Safe to
// call more than once per track.
func (s *VoiceSession) prepareTrack(ctx context.Context, t *Track) {
	t.fetchOnce.Do(func() {
		defer func() {
			if r := recover(); r != nil {
				LogVoice("CRITICAL: prepareTrack panic recovered: %v", r)
				t.MarkError(fmt.Errorf("track preparation panic: %v", r))
			}
		}()

		go func() {
			title, uploader, duration, err := ytdlpResolveMetadata(ctx, t.URL)
			if err == nil {
				t.mu.Lock()
				t.Title, t.Channel, t.Duration = title, uploader, duration
				t.mu.Unlock()
			} else {
				LogVoice("Background metadata fetch failed for %s: %v", t.URL, err)
			}
			select {
			case <-t.MetadataReady:
			default:
				close(t.MetadataReady)
			}
		}()

		filename := trackCachePath(t.URL)
		if _, err := os.Stat(filename); err == nil {
			t.mu.Lock()
			title, channel, duration := t.Title, t.Channel, t.Duration
			t.mu.Unlock()
			t.MarkReady(filename, title, channel, duration, nil)
			return
		}

		s.downloadAndCache(ctx, t, filename, t.URL)
	})
}

func trackCachePath(url string) string {
	id := extractVideoID(url)
	if id == "" {
		sum := sha256.Sum256([]byte(url))
		id = hex.EncodeToString(sum[:])[:12]
	}
	return filepath.Join(GlobalConfig.AudioCacheDir, id+".webm")
}

func (s *VoiceSession) downloadAndCache(ctx context.Context, t *Track, filename, url string) {
	downloadDone := make(chan struct{})
	writeSig := make(chan struct{}, 1)
	readySig := make(chan struct{})
	onceReady := sync.Once{}

	go func() {
		defer close(downloadDone)
		partFilename := filename + ".part"

		cacheFile, err := os.Create(partFilename)
		if err != nil {
			LogVoice("Failed to create cache file: %v", err)
			return
		}

		sink := &progressFile{
			File: cacheFile,
			onWrite: func(n int) {
				t.mu.Lock()
				t.WrittenBytes += int64(n)
				wb := t.WrittenBytes
				t.mu.Unlock()
				if wb >= trackReadyBytes {
					onceReady.Do(func() { close(readySig) })
				}
				select {
				case writeSig <- struct{}{}:
				default:
				}
			},
			onTruncate: func(size int64) {
				t.mu.Lock()
				t.WrittenBytes = size
				t.mu.Unlock()
			},
		}

		ctx, dcancel := context.WithCancel(ctx)
		t.mu.Lock()
		t.downloadCancel = dcancel
		t.mu.Unlock()
		defer dcancel()

		err = ytdlpStream(ctx, url, sink)
		cacheFile.Close()

		if err != nil {
			LogVoice("Stream/Cache failed for %s: %v", url, err)
			os.Remove(partFilename)
			return
		}

		onceReady.Do(func() { close(readySig) })
		if err := os.Rename(partFilename, filename); err != nil {
			LogVoice("Failed to rename cache file for %s: %v", url, err)
			os.Remove(partFilename)
			return
		}
		t.mu.Lock()
		wb := t.WrittenBytes
		t.mu.Unlock()
		LogVoice("Downloaded track file: %s (Size: %d bytes)", filename, wb)
	}()

	totalTimer := time.NewTimer(maxTotal)
	defer totalTimer.Stop()

	stallTimer := time.NewTimer(maxConnWait)
	defer stallTimer.Stop()

loop:
	for {
		select {
		case <-readySig:
			break loop
		case <-ctx.Done():
			t.MarkError(ctx.Err())
			return
		case <-totalTimer.C:
			t.MarkError(errors.New("timeout: download too slow (max total time exceeded)"))
			return
		case <-stallTimer.C:
			t.MarkError(errors.New("timeout: download stalled or failed to start"))
			return
		case <-writeSig:
			if !stallTimer.Stop() {
				select {
				case <-stallTimer.C:
				default:
				}
			}
			stallTimer.Reset(maxStall)
		}
	}

	partFilename := filename + ".part"
	readFile, err := os.Open(partFilename)
	if err != nil {
		// The download may have completed and renamed the part file already.
		readFile, err = os.Open(filename)
		if err != nil {
			t.MarkError(fmt.Errorf("failed to open cache file for tailing: %w", err))
			return
		}
	}

	tr := &TailingReader{
		f:       readFile,
		done:    downloadDone,
		ctx:     ctx,
		playCtx: context.Background(),
		sig:     writeSig,
	}

	t.mu.Lock()
	title, channel, duration := t.Title, t.Channel, t.Duration
	t.mu.Unlock()
	t.MarkReady(filename, title, channel, duration, tr)
}

// ===========================
// Track
// ===========================

// NewTrack creates a new track with the given URL
func NewTrack(url string) *Track {
	return &Track{
		URL:             url,
		done:            make(chan struct{}),
		MetadataReady:   make(chan struct{}),
		PlaybackStarted: make(chan struct{}),
	}
}

// Wait waits for the track to be ready or error
func (t *Track) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.Error
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkReady marks the track as ready for playback
func (t *Track) MarkReady(path, title, channel string, d time.Duration, s io.Reader) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Downloaded || t.Error != nil {
		return
	}
	t.Path, t.Title, t.Channel, t.Duration, t.Downloaded, t.LiveStream = path, title, channel, d, true, s
	close(t.done)
}

// MarkError marks the track as failed with an error
func (t *Track) MarkError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Downloaded || t.Error != nil {
		return
	}
	t.Error = err
	close(t.done)
}

func (t *Track) Cancel() {
	if t.cancel != nil {
		t.cancel()
	}
}

func (t *Track) Cleanup() {
	t.Cancel()
	t.mu.Lock()
	if t.downloadCancel != nil {
		t.downloadCancel()
	}
	path := t.Path
	t.mu.Unlock()

	if c, ok := t.LiveStream.(io.Closer); ok {
		c.Close()
	}
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		LogVoice("Failed to remove track file %s: %v", path, err)
	}
	_ = os.Remove(path + ".part")
}

type progressFile struct {
	*os.File
	onWrite    func(n int)
	onTruncate func(size int64)
}

func (p *progressFile) Write(b []byte) (n int, err error) {
	n, err = p.File.Write(b)
	if n > 0 && p.onWrite != nil {
		p.onWrite(n)
	}
	return
}

func (p *progressFile) Truncate(size int64) error {
	if p.onTruncate != nil {
		p.onTruncate(size)
	}
	return p.File.Truncate(size)
}

// TailingReader reads a file that is still being written, blocking on EOF
// until more bytes arrive or the download finishes.
type TailingReader struct {
	mu      sync.Mutex
	f       *os.File
	done    chan struct{}
	ctx     context.Context
	playCtx context.Context
	sig     chan struct{}
}

func (r *TailingReader) SetPlayContext(ctx context.Context) {
	r.playCtx = ctx
}

func (r *TailingReader) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		f := r.f
		r.mu.Unlock()

		n, err := f.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != io.EOF {
			return n, err
		}

		select {
		case <-r.done:
			n2, err2 := f.Read(p)
			if n2 > 0 {
				return n2, nil
			}
			if err2 != nil && err2 != io.EOF {
				return n2, err2
			}
			return 0, io.EOF
		case <-r.ctx.Done():
			return 0, r.ctx.Err()
		case <-r.sig:
			continue
		case <-r.playCtx.Done():
			return 0, r.playCtx.Err()
		}
	}
}

func (r *TailingReader) Close() error {
	return r.f.Close()
}

func (r *TailingReader) Seek(offset int64, whence int) (int64, error) {
	return r.f.Seek(offset, whence)
}

// ===========================
// Streaming
// ===========================

func (s *VoiceSession) streamTrack(t *Track) {
	s.queueMu.Lock()
	if s.streamCancel != nil {
		s.streamCancel()
	}
	p := NewStreamProvider(s)
	s.provider = p
	done := make(chan struct{})
	p.OnFinish = func() {
		close(done)
	}
	ctx, cancel := context.WithCancel(s.cancelCtx)
	s.streamCancel = cancel
	p.SetContext(ctx)
	reader := t.LiveStream
	if tr, ok := reader.(*TailingReader); ok {
		tr.SetPlayContext(ctx)
	}
	s.queueMu.Unlock()

	defer cancel()
	go func() {
		defer p.PushFrame(nil)
		tc := NewAstiavTranscoder()
		defer tc.Close()
		if err := tc.OpenInput(t.Path, reader); err != nil {
			LogVoice("Transcoder OpenInput failed: %v", err)
			return
		}
		if err := tc.SetupDecoder(); err != nil {
			LogVoice("Transcoder SetupDecoder failed: %v", err)
			return
		}
		if err := tc.SetupEncoder(); err != nil {
			LogVoice("Transcoder SetupEncoder failed: %v", err)
			return
		}
		if err := tc.Transcode(ctx, p.PushFrame); err != nil {
			LogVoice("Transcoder finished for: %s (Err: %v)", t.URL, err)
		}
	}()

	if s.Conn != nil {
		s.setOpusFrameProviderSafe(p)
		s.setSpeakingSafe(voice.SpeakingFlagMicrophone)
		t.onceStart.Do(func() {
			close(t.PlaybackStarted)
		})
	}

	select {
	case <-done:
		LogVoice("Playback finished: %s", t.URL)
	case <-ctx.Done():
		LogVoice("Playback stopped: %s", t.URL)
	case <-s.cancelCtx.Done():
		LogVoice("Session canceled during playback: %s", t.URL)
		cancel()
	}

	if s.provider == p {
		if s.Conn != nil {
			s.setOpusFrameProviderSafe(nil)
			s.setSpeakingSafe(0)
		}
		select {
		case <-time.After(200 * time.Millisecond):
		case <-s.cancelCtx.Done():
		}
	}
}

type StreamProvider struct {
	frames        chan []byte
	sess          *VoiceSession
	ctx           context.Context
	draining      bool
	silenceFrames int
	once          sync.Once
	OnFinish      func()
}

func NewStreamProvider(s *VoiceSession) *StreamProvider {
	return &StreamProvider{
		frames: make(chan []byte, 100),
		sess:   s,
	}
}

func (p *StreamProvider) SetContext(ctx context.Context) {
	p.ctx = ctx
}

func (p *StreamProvider) Close() {
	p.once.Do(func() {
		if p.OnFinish != nil {
			p.OnFinish()
		}
	})
}

func (p *StreamProvider) PushFrame(f []byte) {
	select {
	case p.frames <- f:
	case <-p.sess.cancelCtx.Done():
	case <-p.ctx.Done():
	}
}

func (p *StreamProvider) ProvideOpusFrame() ([]byte, error) {
	if p.draining {
		target := int(SilenceDuration.Milliseconds() / 20)
		if p.silenceFrames < target {
			p.silenceFrames++
			return OpusSilence, nil
		}
		p.Close()
		return nil, io.EOF
	}

	select {
	case f := <-p.frames:
		if f == nil {
			p.draining = true
			return OpusSilence, nil
		}
		return f, nil
	case <-p.sess.cancelCtx.Done():
		p.Close()
		return nil, io.EOF
	case <-p.ctx.Done():
		p.Close()
		return nil, io.EOF
	case <-time.After(500 * time.Millisecond):
		return OpusSilence, nil
	}
}

// ===========================
// Transcoding
// ===========================

type AstiavTranscoder struct {
	inputCtx         *astiav.FormatContext
	decoderCtx       *astiav.CodecContext
	encoderCtx       *astiav.CodecContext
	resampleCtx      *astiav.SoftwareResampleContext
	fifo             *astiav.AudioFifo
	packet           *astiav.Packet
	frame            *astiav.Frame
	resampleFrame    *astiav.Frame
	audioStreamIndex int
	reader           io.Reader
	onFrame          func([]byte)
	pts              int64
}

func NewAstiavTranscoder() *AstiavTranscoder {
	return &AstiavTranscoder{
		packet:        astiav.AllocPacket(),
		frame:         astiav.AllocFrame(),
		resampleFrame: astiav.AllocFrame(),
	}
}

func (t *AstiavTranscoder) OpenInput(in string, r io.Reader) error {
	t.inputCtx = astiav.AllocFormatContext()
	if t.inputCtx == nil {
		return errors.New("failed to alloc ctx")
	}
	if r != nil {
		t.reader = r
		seekFunc := func(offset int64, whence int) (int64, error) {
			if whence == 2 {
				return -1, errors.New("seeking from end not supported during download")
			}
			if s, ok := r.(io.Seeker); ok {
				return s.Seek(offset, whence)
			}
			return 0, errors.New("seek not supported")
		}

		ioCtx, err := astiav.AllocIOContext(16*1024, false, func(b []byte) (int, error) {
			return t.reader.Read(b)
		}, seekFunc, nil)
		if err != nil {
			return err
		}
		t.inputCtx.SetPb(ioCtx)
		t.inputCtx.SetFlags(t.inputCtx.Flags().Add(astiav.FormatContextFlagCustomIo))

		opts := astiav.NewDictionary()
		defer opts.Free()
		opts.Set("probesize", "10000000", 0)
		opts.Set("analyzeduration", "10000000", 0)
		opts.Set("fflags", "nobuffer", 0)
		opts.Set("flags", "low_delay", 0)

		if err := t.inputCtx.OpenInput(in, nil, opts); err != nil {
			return err
		}
	} else {
		if err := t.inputCtx.OpenInput(in, nil, nil); err != nil {
			return err
		}
	}
	if err := t.inputCtx.FindStreamInfo(nil); err != nil {
		return err
	}
	t.audioStreamIndex = -1
	for _, s := range t.inputCtx.Streams() {
		if s.CodecParameters().MediaType() == astiav.MediaTypeAudio {
			t.audioStreamIndex = s.Index()
			break
		}
	}
	if t.audioStreamIndex == -1 {
		return errors.New("no audio")
	}
	return nil
}

func (t *AstiavTranscoder) SetupDecoder() error {
	p := t.inputCtx.Streams()[t.audioStreamIndex].CodecParameters()
	d := astiav.FindDecoder(p.CodecID())
	if d == nil {
		return errors.New("no decoder")
	}
	t.decoderCtx = astiav.AllocCodecContext(d)
	_ = p.ToCodecContext(t.decoderCtx)
	return t.decoderCtx.Open(d, nil)
}

func (t *AstiavTranscoder) SetupEncoder() error {
	e := astiav.FindEncoderByName("libopus")
	if e == nil {
		e = astiav.FindEncoder(astiav.CodecIDOpus)
	}
	if e == nil {
		return errors.New("no encoder")
	}
	t.encoderCtx = astiav.AllocCodecContext(e)
	t.encoderCtx.SetBitRate(192000)
	t.encoderCtx.SetSampleRate(48000)
	t.encoderCtx.SetChannelLayout(astiav.ChannelLayoutStereo)
	t.encoderCtx.SetSampleFormat(astiav.SampleFormatS16)
	t.encoderCtx.SetTimeBase(astiav.NewRational(1, 48000))
	o := astiav.NewDictionary()
	defer o.Free()
	o.Set("vbr", "on", 0)
	o.Set("compression_level", "10", 0)
	o.Set("frame_size", "20", 0)
	if err := t.encoderCtx.Open(e, o); err != nil {
		return err
	}
	t.resampleCtx = astiav.AllocSoftwareResampleContext()
	if t.resampleCtx == nil {
		return errors.New("failed to allocate resampler")
	}
	return nil
}

func (t *AstiavTranscoder) Transcode(ctx context.Context, on func([]byte)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("transcoder panic: %v", r)
			LogVoice("CRITICAL: Transcoder panic recovered: %v", r)
		}
	}()

	defer t.packet.Unref()
	t.onFrame = on
	defer func() {
		if t.onFrame != nil {
			t.onFrame(nil)
		}
	}()

	fifoSize := 960 * 2
	t.fifo = astiav.AllocAudioFifo(t.encoderCtx.SampleFormat(), t.encoderCtx.ChannelLayout().Channels(), fifoSize)
	if t.fifo == nil {
		return errors.New("failed to alloc fifo")
	}
	defer func() {
		if t.fifo != nil {
			t.fifo.Free()
			t.fifo = nil
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		t.packet.Unref()

		if err := t.inputCtx.ReadFrame(t.packet); err != nil {
			if errors.Is(err, astiav.ErrEof) {
				break
			}
			return err
		}

		if t.packet.StreamIndex() != t.audioStreamIndex {
			continue
		}

		if err := t.decoderCtx.SendPacket(t.packet); err != nil {
			return err
		}

		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	// Flush Decoder
	if t.decoderCtx != nil {
		_ = t.decoderCtx.SendPacket(nil)
		for {
			if err := t.decoderCtx.ReceiveFrame(t.frame); err != nil {
				break
			}
			if err := t.pushToFifo(); err != nil {
				return err
			}
			t.frame.Unref()
		}
	}

	// Clear FIFO
	if err := t.processFifo(true); err != nil {
		return err
	}

	// Flush Encoder
	if t.encoderCtx != nil {
		_ = t.encoderCtx.SendFrame(nil)
		for {
			t.packet.Unref()
			if t.encoderCtx.ReceivePacket(t.packet) != nil {
				break
			}
			if t.onFrame != nil {
				d := t.packet.Data()
				fd := make([]byte, len(d))
				copy(fd, d)
				t.onFrame(fd)
			}
		}
	}
	return nil
}

func (t *AstiavTranscoder) encodeAndWrite(f *astiav.Frame) error {
	if err := t.encoderCtx.SendFrame(f); err != nil {
		return err
	}
	for {
		t.packet.Unref()
		if t.encoderCtx.ReceivePacket(t.packet) != nil {
			break
		}
		if t.onFrame != nil {
			d := t.packet.Data()
			fd := make([]byte, len(d))
			copy(fd, d)
			t.onFrame(fd)
		}
	}
	return nil
}

func (t *AstiavTranscoder) pushToFifo() error {
	t.resampleFrame.Unref()
	t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
	t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
	t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
	nb := int(astiav.RescaleQ(int64(t.frame.NbSamples()), astiav.NewRational(1, t.frame.SampleRate()), astiav.NewRational(1, t.encoderCtx.SampleRate())))
	if nb > 0 {
		t.resampleFrame.SetNbSamples(nb)
		_ = t.resampleFrame.AllocBuffer(0)
		if t.resampleCtx.ConvertFrame(t.frame, t.resampleFrame) == nil {
			_, _ = t.fifo.Write(t.resampleFrame)
			return t.processFifo(false)
		}
	}
	return nil
}

func (t *AstiavTranscoder) processFifo(drain bool) error {
	if t.fifo == nil {
		return nil
	}
	for {
		sz := 960
		if t.fifo.Size() < sz {
			if !drain || t.fifo.Size() == 0 {
				return nil
			}
			sz = t.fifo.Size()
		}
		t.resampleFrame.Unref()
		t.resampleFrame.SetNbSamples(sz)
		t.resampleFrame.SetChannelLayout(t.encoderCtx.ChannelLayout())
		t.resampleFrame.SetSampleFormat(t.encoderCtx.SampleFormat())
		t.resampleFrame.SetSampleRate(t.encoderCtx.SampleRate())
		_ = t.resampleFrame.AllocBuffer(0)
		_, _ = t.fifo.Read(t.resampleFrame)

		t.resampleFrame.SetPts(t.pts)
		t.pts += int64(sz)
		if err := t.encodeAndWrite(t.resampleFrame); err != nil {
			return err
		}
	}
}

func (t *AstiavTranscoder) Close() {
	if t.resampleCtx != nil {
		t.resampleCtx.Free()
	}
	if t.resampleFrame != nil {
		t.resampleFrame.Free()
	}
	if t.packet != nil {
		t.packet.Free()
	}
	if t.frame != nil {
		t.frame.Free()
	}
	if t.decoderCtx != nil {
		t.decoderCtx.Free()
	}
	if t.encoderCtx != nil {
		t.encoderCtx.Free()
	}
	if t.inputCtx != nil {
		t.inputCtx.CloseInput()
		t.inputCtx.Free()
	}
}

// ===========================
// Autocomplete Search
// ===========================

// Search queries YouTube Music and YouTube in parallel and merges the
// results, YouTube Music first. Results are cached per query.
func (vs *VoiceSystem) Search(q string) ([]SearchResult, error) {
	vs.cache.RLock()
	if item, ok := vs.cache.items[q]; ok {
		if time.Now().Before(item.expiresAt) {
			vs.cache.RUnlock()
			return item.results, nil
		}
	}
	vs.cache.RUnlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2600*time.Millisecond)
	defer cancel()
	resMu := sync.Mutex{}
	var ytm, yt []SearchResult
	seen := make(map[string]bool)
	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		s := ytmusic.TrackSearch(q)
		r, _ := s.Next()
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			art := ""
			if len(v.Artists) > 0 {
				art = " - " + v.Artists[0].Name
			}
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				ytm = append(ytm, SearchResult{URL: "https://music.youtube.com/watch?v=" + v.VideoID, Title: TruncateWithPreserve(v.Title, 100, "[YTM] ", art)})
			}
			resMu.Unlock()
		}
	}()
	go func() {
		defer wg.Done()
		c := ytsearch.NewClient(nil)
		r, _ := c.Search(ctx, q)
		for _, v := range r.Results {
			resMu.Lock()
			if !seen[v.VideoID] {
				seen[v.VideoID] = true
				yt = append(yt, SearchResult{URL: "https://www.youtube.com/watch?v=" + v.VideoID, Title: TruncateWithPreserve(v.Title, 100, "[YT] ", "")})
			}
			resMu.Unlock()
		}
	}()
	d := make(chan struct{})
	go func() {
		wg.Wait()
		close(d)
	}()
	select {
	case <-d:
	case <-time.After(2300 * time.Millisecond):
	}
	resMu.Lock()
	defer resMu.Unlock()
	fin := append(append([]SearchResult(nil), ytm...), yt...)
	if len(fin) > 25 {
		fin = fin[:25]
	}

	if len(fin) > 0 {
		vs.cache.Lock()
		vs.cache.items[q] = cachedItem{results: fin, expiresAt: time.Now().Add(searchCacheTTL)}
		vs.cache.Unlock()
	}

	return fin, nil
}
