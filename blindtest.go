package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"
)

// ============================================================================
// Blindtest
// ============================================================================

const (
	MsgBlindtestGuildOnly      = "❌ Cette commande ne peut être utilisée que dans un serveur."
	MsgBlindtestNotInVoice     = "❌ Tu dois être dans un salon vocal pour lancer un blindtest."
	MsgBlindtestNoneActive     = "❌ Aucun blindtest n'est en cours."
	MsgBlindtestNonePrepared   = "❌ Aucun blindtest n'est préparé. Utilise `/blindtest prepare` d'abord."
	MsgBlindtestAlreadyActive  = "❌ Un blindtest est déjà en cours !"
	MsgBlindtestPrepareActive  = "❌ Impossible de préparer un blindtest pendant une partie."
	MsgBlindtestBadDuration    = "❌ La durée doit être un nombre entre %d et %d secondes."
	MsgBlindtestBadCount       = "❌ Le nombre de questions doit être entre %d et %d."
	MsgBlindtestGenerating     = "🎵 Génération du blindtest en cours..."
	MsgBlindtestGeneratingWith = "🤖 Génération des questions avec %s..."
	MsgBlindtestGenerateFail   = "❌ Une erreur est survenue lors de la préparation du blindtest. Veuillez réessayer. (%v)"
	MsgBlindtestSearchProgress = "🎵 Recherche des vidéos YouTube en cours... (%d/%d)"
	MsgBlindtestStarted        = "🎮 C'est parti !"
	MsgBlindtestNextIn         = "🎵 Question suivante dans 5 secondes..."
	MsgBlindtestNext           = "🎵 Question suivante..."
	MsgBlindtestCorrect        = "✅ Correct ! +1 point"
	MsgBlindtestIncorrect      = "❌ Incorrect, essaie encore !"
	MsgBlindtestAlreadySolved  = "❌ Cette question a déjà été résolue !"
	MsgBlindtestNoHistory      = "📭 Aucun blindtest terminé sur ce serveur."
)

const (
	blindtestAnswerButtonID = "blindtest:answer"
	blindtestAnswerModalID  = "blindtest:answer_modal"
	blindtestAnswerInputID  = "answer_input"

	// Delay between stopping the previous clip and starting the next one.
	stopGraceDelay = 1 * time.Second
	// Pause between a round's resolution and the next round.
	settleDelay = 5 * time.Second
	// Bound on a round's clip actually starting to play.
	playbackStartBound = 10 * time.Second

	enrichBatchSize  = 5
	enrichBatchDelay = 2 * time.Second
)

type roundOutcome int

const (
	outcomeTimeout roundOutcome = iota
	outcomeAllAnswered
	outcomePlaybackError
)

var (
	blindtestManager *BlindtestManager
	onceBlindtest    sync.Once
)

type BlindtestManager struct {
	mu       sync.Mutex
	sessions map[snowflake.ID]*BlindtestSession
}

// BlindtestSession is the per-guild trivia state machine. Every mutation of
// round state happens under mu; timer callbacks re-check the round generation
// after reacquiring it, so a timer firing at the same moment as a correct
// answer resolves the round exactly once.
type BlindtestSession struct {
	mu      sync.Mutex
	guildID snowflake.ID
	client  bot.Client

	textChannelID  snowflake.ID
	voiceChannelID snowflake.ID

	set      *Blindtest
	duration time.Duration

	active        bool
	questionIndex int
	scores        map[snowflake.ID]int
	scoreOrder    []snowflake.ID
	answered      map[snowflake.ID]struct{}
	roundSolved   bool
	roundResolved bool
	roundGen      int
	roundTimer    *time.Timer
	settleTimer   *time.Timer

	activeMessageID snowflake.ID
}

// GetBlindtestManager returns the singleton BlindtestManager instance
func GetBlindtestManager() *BlindtestManager {
	onceBlindtest.Do(func() {
		blindtestManager = &BlindtestManager{
			sessions: make(map[snowflake.ID]*BlindtestSession),
		}
	})
	return blindtestManager
}

// Session returns the session for a guild, creating it lazily.
func (m *BlindtestManager) Session(client bot.Client, guildID snowflake.ID) *BlindtestSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[guildID]; ok {
		return s
	}
	s := &BlindtestSession{
		guildID:  guildID,
		client:   client,
		scores:   make(map[snowflake.ID]int),
		answered: make(map[snowflake.ID]struct{}),
	}
	m.sessions[guildID] = s
	return s
}

// ===========================
// Commands
// ===========================

func init() {
	memberPerm := discord.PermissionSendMessages
	RegisterCommand(discord.SlashCommandCreate{
		Name:                     "blindtest",
		Description:              "Blindtest musical généré par IA",
		DefaultMemberPermissions: omit.New(&memberPerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "prepare",
				Description: "Prépare un blindtest avec un thème spécifique",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "theme",
						Description: "Thème du blindtest (ex: musique de jeux vidéo)",
						Required:    true,
					},
					discord.ApplicationCommandOptionInt{
						Name:        "questions",
						Description: "Nombre de questions (1-50)",
						MinValue:    intPtr(QuestionCountMin),
						MaxValue:    intPtr(QuestionCountMax),
					},
					discord.ApplicationCommandOptionInt{
						Name:        "duree",
						Description: "Durée par question en secondes (10-300)",
						MinValue:    intPtr(RoundDurationMin),
						MaxValue:    intPtr(RoundDurationMax),
					},
					discord.ApplicationCommandOptionString{
						Name:        "type-reponse",
						Description: "Type de réponse attendu (ex: nom du jeu, artiste)",
					},
					discord.ApplicationCommandOptionString{
						Name:        "difficulte",
						Description: "Difficulté des questions",
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Facile", Value: "facile"},
							{Name: "Moyen", Value: "moyen"},
							{Name: "Difficile", Value: "difficile"},
							{Name: "Impossible", Value: "impossible"},
						},
					},
					discord.ApplicationCommandOptionString{
						Name:        "ia",
						Description: "Fournisseur IA pour la génération",
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Deepseek", Value: ProviderDeepseek},
							{Name: "GPT", Value: ProviderGPT},
						},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "start",
				Description: "Lance le blindtest préparé",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Arrête le blindtest en cours",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "history",
				Description: "Affiche l'historique des blindtests du serveur",
			},
		},
	}, handleBlindtest)

	RegisterComponentHandler(blindtestAnswerButtonID, handleAnswerButton)
	RegisterModalHandler(blindtestAnswerModalID, handleAnswerModal)
}

func handleBlindtest(event *events.ApplicationCommandInteractionCreate) {
	if event.GuildID() == nil {
		respondEphemeral(event, MsgBlindtestGuildOnly)
		return
	}
	data := event.SlashCommandInteractionData()
	sub := ""
	if data.SubCommandName != nil {
		sub = *data.SubCommandName
	}

	switch sub {
	case "prepare":
		handleBlindtestPrepare(event, data)
	case "start":
		handleBlindtestStart(event)
	case "stop":
		handleBlindtestStop(event)
	case "history":
		handleBlindtestHistory(event)
	}
}

func handleBlindtestPrepare(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	client := *event.Client()
	guildID := *event.GuildID()
	s := GetBlindtestManager().Session(client, guildID)

	theme := data.String("theme")
	questionCount := 10
	if v, ok := data.OptInt("questions"); ok {
		questionCount = v
	}
	durationSecs := GlobalConfig.RoundDurationSecs
	if v, ok := data.OptInt("duree"); ok {
		durationSecs = v
	}
	answerType := "titre de la musique"
	if v, ok := data.OptString("type-reponse"); ok {
		answerType = v
	}
	difficulty := "moyen"
	if v, ok := data.OptString("difficulte"); ok {
		difficulty = v
	}
	provider := ProviderDeepseek
	if v, ok := data.OptString("ia"); ok {
		provider = v
	}

	if durationSecs < RoundDurationMin || durationSecs > RoundDurationMax {
		respondEphemeral(event, fmt.Sprintf(MsgBlindtestBadDuration, RoundDurationMin, RoundDurationMax))
		return
	}
	if questionCount < QuestionCountMin || questionCount > QuestionCountMax {
		respondEphemeral(event, fmt.Sprintf(MsgBlindtestBadCount, QuestionCountMin, QuestionCountMax))
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		respondEphemeral(event, MsgBlindtestPrepareActive)
		return
	}
	s.mu.Unlock()

	gen, err := GeneratorFor(provider)
	if err != nil {
		respondEphemeral(event, fmt.Sprintf(MsgBlindtestGenerateFail, err))
		return
	}

	respondEphemeral(event, MsgBlindtestGenerating)
	channelID := event.Channel().ID()

	safeGo(func() {
		sendText(client, channelID, fmt.Sprintf(MsgBlindtestGeneratingWith, gen.Name()))

		ctx, cancel := context.WithTimeout(AppContext, 5*time.Minute)
		defer cancel()

		bt, err := gen.Generate(ctx, theme, questionCount, answerType, difficulty)
		if err != nil {
			LogBlindtest("Generation failed for guild %s: %v", guildID, err)
			sendText(client, channelID, fmt.Sprintf(MsgBlindtestGenerateFail, err))
			return
		}

		found := enrichQuestionURLs(ctx, client, channelID, bt)

		s.mu.Lock()
		if s.active {
			s.mu.Unlock()
			sendText(client, channelID, MsgBlindtestPrepareActive)
			return
		}
		s.set = bt
		s.duration = time.Duration(durationSecs) * time.Second
		s.textChannelID = channelID
		s.mu.Unlock()

		LogBlindtest("Prepared blindtest for guild %s: theme=%q questions=%d found=%d", guildID, bt.Theme, len(bt.Questions), found)
		sendEmbed(client, channelID, discord.NewEmbedBuilder().
			SetTitle("🎮 Blindtest Prêt !").
			SetDescription(fmt.Sprintf(
				"Thème: **%s**\nNombre de questions: **%d**\nDurée par question: **%d secondes**\nType de réponse attendu: **%s**\nDifficulté: **%s**\nIA utilisée: **%s**\nVidéos trouvées: **%d/%d**",
				bt.Theme, len(bt.Questions), durationSecs, bt.AnswerType, difficulty, gen.Name(), found, len(bt.Questions))).
			SetColor(0x00ff00).
			Build())
	})
}

// enrichQuestionURLs resolves the audio of each question ahead of time, in
// small batches with a fixed pause between them to stay under the search
// provider's rate limits. Questions that fail to resolve keep an empty URL
// and are retried just-in-time when their round starts.
func enrichQuestionURLs(ctx context.Context, client bot.Client, channelID snowflake.ID, bt *Blindtest) int {
	limiter := rate.NewLimiter(rate.Every(enrichBatchDelay), 1)
	total := len(bt.Questions)
	found := 0

	for start := 0; start < total; start += enrichBatchSize {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		end := Min(start+enrichBatchSize, total)

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, q := range bt.Questions[start:end] {
			if q.SearchHint == "" {
				continue
			}
			wg.Add(1)
			go func(q *BlindtestQuestion) {
				defer wg.Done()
				u, err := ResolveSearchQuery(ctx, q.SearchHint)
				if err != nil {
					LogBlindtest("No video found for %q: %v", q.SearchHint, err)
					return
				}
				mu.Lock()
				q.URL = u
				found++
				mu.Unlock()
			}(q)
		}
		wg.Wait()

		sendText(client, channelID, fmt.Sprintf(MsgBlindtestSearchProgress, end, total))
	}
	return found
}

func handleBlindtestStart(event *events.ApplicationCommandInteractionCreate) {
	client := *event.Client()
	guildID := *event.GuildID()
	s := GetBlindtestManager().Session(client, guildID)

	voiceState, ok := client.Caches.VoiceState(guildID, event.User().ID)
	if !ok || voiceState.ChannelID == nil {
		respondEphemeral(event, MsgBlindtestNotInVoice)
		return
	}

	s.mu.Lock()
	if s.active {
		s.mu.Unlock()
		respondEphemeral(event, MsgBlindtestAlreadyActive)
		return
	}
	if s.set == nil {
		s.mu.Unlock()
		respondEphemeral(event, MsgBlindtestNonePrepared)
		return
	}
	s.active = true
	s.questionIndex = 0
	s.scores = make(map[snowflake.ID]int)
	s.scoreOrder = nil
	s.answered = make(map[snowflake.ID]struct{})
	s.roundSolved = false
	s.roundResolved = false
	s.client = client
	s.textChannelID = event.Channel().ID()
	s.voiceChannelID = *voiceState.ChannelID
	s.mu.Unlock()

	respond(event, MsgBlindtestStarted)
	LogBlindtest("Blindtest started in guild %s", guildID)
	safeGo(s.playCurrentQuestion)
}

func handleBlindtestStop(event *events.ApplicationCommandInteractionCreate) {
	client := *event.Client()
	guildID := *event.GuildID()
	s := GetBlindtestManager().Session(client, guildID)

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		respondEphemeral(event, MsgBlindtestNoneActive)
		return
	}
	s.active = false
	s.cancelTimersLocked()
	set := s.set
	s.set = nil
	ranking := s.rankedScoresLocked()
	s.mu.Unlock()

	if sess := GetVoiceManager().GetSession(guildID); sess != nil {
		sess.Halt()
	}

	embed := buildScoreboardEmbed(client, "🏁 Blindtest Arrêté !", "Voici les scores finaux :", ranking)
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().SetEmbeds(embed).Build()); err != nil {
		LogBlindtest("Failed to send stop scoreboard in guild %s: %v", guildID, err)
	}

	LogBlindtest("Blindtest stopped in guild %s", guildID)
	recordResult(guildID, set, ranking)
}

func handleBlindtestHistory(event *events.ApplicationCommandInteractionCreate) {
	guildID := *event.GuildID()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results, err := GetBlindtestHistory(ctx, guildID.String(), 10)
	if err != nil {
		LogBlindtest("Failed to load history for guild %s: %v", guildID, err)
		respondEphemeral(event, MsgGenericErrorFR)
		return
	}
	if len(results) == 0 {
		respondEphemeral(event, MsgBlindtestNoHistory)
		return
	}

	builder := discord.NewEmbedBuilder().
		SetTitle("📜 Historique des blindtests").
		SetColor(0x0099ff)
	for _, r := range results {
		winner := "Personne"
		if r.WinnerID != "" {
			winner = fmt.Sprintf("<@%s> (%d points)", r.WinnerID, r.WinnerScore)
		}
		builder.AddField(
			fmt.Sprintf("%s — %d questions", r.Theme, r.QuestionCount),
			fmt.Sprintf("Vainqueur : %s\n%s", winner, r.FinishedAt.Format("02/01/2006 15:04")),
			false,
		)
	}
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().SetEmbeds(builder.Build()).Build()); err != nil {
		LogBlindtest("Failed to send history in guild %s: %v", guildID, err)
	}
}

// ===========================
// Rounds
// ===========================

// playCurrentQuestion starts the round for the current question index: fresh
// round state, audio playback, the answer button and the round timer.
func (s *BlindtestSession) playCurrentQuestion() {
	s.mu.Lock()
	if !s.active || s.set == nil {
		s.mu.Unlock()
		return
	}
	s.roundSolved = false
	s.roundResolved = false
	s.answered = make(map[snowflake.ID]struct{})
	s.cancelTimersLocked()
	s.roundGen++
	gen := s.roundGen
	q := s.set.Questions[s.questionIndex]
	idx, total := s.questionIndex, len(s.set.Questions)
	answerType := s.set.AnswerType
	duration := s.duration
	client, textChannelID, voiceChannelID, guildID := s.client, s.textChannelID, s.voiceChannelID, s.guildID
	ranking := s.rankedScoresLocked()
	s.mu.Unlock()

	if sess := GetVoiceManager().GetSession(guildID); sess != nil {
		sess.Halt()
	}
	time.Sleep(stopGraceDelay)

	if hasAnyScore(ranking) {
		sendEmbed(client, textChannelID, buildScoreboardEmbed(client, "🎯 Scores actuels", "", ranking))
	}

	if err := s.playQuestionAudio(q, client, guildID, voiceChannelID); err != nil {
		LogBlindtest("Playback failed for question %d in guild %s: %v", idx+1, guildID, err)
		sendEmbed(client, textChannelID, discord.NewEmbedBuilder().
			SetTitle("❌ Erreur de lecture").
			SetDescription("Une erreur est survenue lors de la lecture de la musique. Passage à la question suivante...").
			SetColor(0xff0000).
			Build())
		s.resolveRound(gen, outcomePlaybackError)
		return
	}

	msg, err := client.Rest.CreateMessage(textChannelID, discord.NewMessageCreateBuilder().
		SetEmbeds(discord.NewEmbedBuilder().
			SetTitle("🎵 Question en cours").
			SetDescription(fmt.Sprintf(
				"Question %d/%d\nType de réponse attendu: **%s**\nClique sur le bouton ci-dessous pour répondre !",
				idx+1, total, answerType)).
			SetColor(0x0099ff).
			Build()).
		AddComponents(discord.NewActionRow(discord.NewPrimaryButton("✍️ Répondre", blindtestAnswerButtonID))).
		Build())
	if err != nil {
		LogBlindtest("Failed to send question message in guild %s: %v", guildID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.roundGen != gen {
		return
	}
	if msg != nil {
		s.activeMessageID = msg.ID
	}
	s.roundTimer = time.AfterFunc(duration, func() {
		s.resolveRound(gen, outcomeTimeout)
	})
}

// playQuestionAudio resolves the question's audio, joins the voice channel
// and plays it, bounding both connection and playback start.
func (s *BlindtestSession) playQuestionAudio(q *BlindtestQuestion, client bot.Client, guildID, voiceChannelID snowflake.ID) error {
	ctx, cancel := context.WithTimeout(AppContext, 45*time.Second)
	defer cancel()

	s.mu.Lock()
	url := q.URL
	s.mu.Unlock()

	if url == "" {
		if q.SearchHint == "" {
			return errors.New("question has no audio reference")
		}
		resolved, err := ResolveSearchQuery(ctx, q.SearchHint)
		if err != nil {
			return err
		}
		url = resolved
		s.mu.Lock()
		q.URL = resolved
		s.mu.Unlock()
	}

	vm := GetVoiceManager()
	joinCtx, joinCancel := context.WithTimeout(ctx, maxConnWait)
	err := vm.Join(joinCtx, client, guildID, voiceChannelID)
	joinCancel()
	if err != nil {
		return fmt.Errorf("voice connection failed: %w", err)
	}

	t, err := vm.PlayNow(guildID, url)
	if err != nil {
		return err
	}

	select {
	case <-t.PlaybackStarted:
		return nil
	case <-t.done:
		if t.Error != nil {
			return t.Error
		}
		return errors.New("track ended before playback started")
	case <-time.After(playbackStartBound):
		t.Cancel()
		return errors.New("timeout waiting for playback to start")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolveRound ends the round identified by gen exactly once: reveal, halt
// playback, advance the question index, then either arm the settle timer for
// the next round or end the session. Safe to call from the round timer, the
// all-answered short-circuit and the playback error path concurrently.
func (s *BlindtestSession) resolveRound(gen int, outcome roundOutcome) {
	s.mu.Lock()
	q, hasMore, ok := s.takeRoundResolutionLocked(gen)
	if !ok {
		s.mu.Unlock()
		return
	}
	client, textChannelID, guildID := s.client, s.textChannelID, s.guildID
	messageID := s.activeMessageID
	s.activeMessageID = 0
	s.mu.Unlock()

	if sess := GetVoiceManager().GetSession(guildID); sess != nil {
		sess.Halt()
	}
	if messageID != 0 {
		disableAnswerButton(client, textChannelID, messageID)
	}

	switch outcome {
	case outcomeAllAnswered:
		sendEmbed(client, textChannelID, revealEmbed("🎉 Tous les joueurs ont trouvé la réponse !", 0x00ff00, q))
	case outcomeTimeout:
		sendEmbed(client, textChannelID, revealEmbed("⏰ Temps écoulé !", 0xff0000, q))
	case outcomePlaybackError:
		sendEmbed(client, textChannelID, revealEmbed("⏭️ Question passée", 0xff9900, q))
	}

	if !hasMore {
		s.endSession()
		return
	}

	sendText(client, textChannelID, MsgBlindtestNextIn)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || s.roundGen != gen {
		return
	}
	s.settleTimer = time.AfterFunc(settleDelay, func() {
		s.mu.Lock()
		active := s.active
		s.mu.Unlock()
		if !active {
			return
		}
		sendText(client, textChannelID, MsgBlindtestNext)
		s.playCurrentQuestion()
	})
}

func (s *BlindtestSession) endSession() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.cancelTimersLocked()
	set := s.set
	s.set = nil
	ranking := s.rankedScoresLocked()
	client, textChannelID, guildID := s.client, s.textChannelID, s.guildID
	s.mu.Unlock()

	if sess := GetVoiceManager().GetSession(guildID); sess != nil {
		sess.Halt()
	}

	sendEmbed(client, textChannelID, buildScoreboardEmbed(client, "🏆 Blindtest Terminé !", "Voici les scores :", ranking))
	LogBlindtest("Blindtest ended in guild %s (%d players scored)", guildID, len(ranking))
	recordResult(guildID, set, ranking)
}

// takeRoundResolutionLocked claims the resolution of the round identified by
// gen. It returns ok=false when the session is inactive, a newer round has
// started, or the round was already resolved by a concurrent path. On success
// it cancels the pending timers and advances the question index. Callers must
// hold s.mu.
func (s *BlindtestSession) takeRoundResolutionLocked(gen int) (q *BlindtestQuestion, hasMore bool, ok bool) {
	if !s.active || s.roundGen != gen || s.roundResolved {
		return nil, false, false
	}
	s.roundResolved = true
	s.cancelTimersLocked()
	q = s.set.Questions[s.questionIndex]
	s.questionIndex++
	hasMore = s.questionIndex < len(s.set.Questions)
	return q, hasMore, true
}

// cancelTimersLocked stops any pending round and settle timers. Callers must
// hold s.mu. Stopping a timer that already fired is a no-op; the fired
// callback bails out on the generation check.
func (s *BlindtestSession) cancelTimersLocked() {
	if s.roundTimer != nil {
		s.roundTimer.Stop()
		s.roundTimer = nil
	}
	if s.settleTimer != nil {
		s.settleTimer.Stop()
		s.settleTimer = nil
	}
}

// ===========================
// Answers
// ===========================

func handleAnswerButton(event *events.ComponentInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	client := *event.Client()
	s := GetBlindtestManager().Session(client, *event.GuildID())

	s.mu.Lock()
	active, solved := s.active, s.roundSolved || s.roundResolved
	s.mu.Unlock()

	if !active {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgBlindtestNoneActive).SetEphemeral(true).Build())
		return
	}
	if solved {
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgBlindtestAlreadySolved).SetEphemeral(true).Build())
		return
	}

	err := event.Modal(discord.ModalCreate{
		CustomID: blindtestAnswerModalID,
		Title:    "Répondre à la question",
		Components: []discord.LayoutComponent{
			discord.NewActionRow(discord.TextInputComponent{
				CustomID:  blindtestAnswerInputID,
				Style:     discord.TextInputStyleShort,
				Label:     "Ta réponse",
				Required:  true,
				MaxLength: 100,
			}),
		},
	})
	if err != nil {
		LogBlindtest("Failed to open answer modal: %v", err)
	}
}

func handleAnswerModal(event *events.ModalSubmitInteractionCreate) {
	if event.GuildID() == nil {
		return
	}
	client := *event.Client()
	guildID := *event.GuildID()
	userID := event.User().ID
	s := GetBlindtestManager().Session(client, guildID)

	answer := strings.TrimSpace(event.Data.Text(blindtestAnswerInputID))

	s.mu.Lock()
	if !s.active || s.set == nil {
		s.mu.Unlock()
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgBlindtestNoneActive).SetEphemeral(true).Build())
		return
	}
	if s.roundSolved || s.roundResolved {
		s.mu.Unlock()
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgBlindtestAlreadySolved).SetEphemeral(true).Build())
		return
	}

	q := s.set.Questions[s.questionIndex]
	if !IsAcceptableAnswer(answer, q.AcceptableAnswers) {
		s.mu.Unlock()
		_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgBlindtestIncorrect).SetEphemeral(true).Build())
		return
	}

	s.roundSolved = true
	if _, seen := s.scores[userID]; !seen {
		s.scoreOrder = append(s.scoreOrder, userID)
	}
	s.scores[userID]++
	s.answered[userID] = struct{}{}
	gen := s.roundGen
	textChannelID, voiceChannelID := s.textChannelID, s.voiceChannelID
	messageID := s.activeMessageID
	answered := make(map[snowflake.ID]struct{}, len(s.answered))
	for id := range s.answered {
		answered[id] = struct{}{}
	}
	s.mu.Unlock()

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(MsgBlindtestCorrect).SetEphemeral(true).Build())

	if messageID != 0 {
		markAnswerButtonSolved(client, textChannelID, messageID)
	}
	sendEmbed(client, textChannelID, discord.NewEmbedBuilder().
		SetTitle("🎉 Bonne réponse !").
		SetDescription(fmt.Sprintf("%s a trouvé la bonne réponse !", displayName(client, userID))).
		SetColor(0x00ff00).
		Build())

	// Roster is read at decision time, not cached: members joining or leaving
	// the channel mid-round change the short-circuit condition.
	roster := NonBotVoiceMembers(client, guildID, voiceChannelID)
	if allPresentAnswered(roster, answered) {
		s.resolveRound(gen, outcomeAllAnswered)
	}
}

// allPresentAnswered reports whether every member of the roster has answered.
// An empty roster does not short-circuit the round.
func allPresentAnswered(roster []snowflake.ID, answered map[snowflake.ID]struct{}) bool {
	if len(roster) == 0 {
		return false
	}
	for _, id := range roster {
		if _, ok := answered[id]; !ok {
			return false
		}
	}
	return true
}

// ===========================
// Presentation
// ===========================

type scoreEntry struct {
	userID snowflake.ID
	score  int
}

// rankedScoresLocked sorts scores descending; ties keep first-score order.
// Callers must hold s.mu.
func (s *BlindtestSession) rankedScoresLocked() []scoreEntry {
	entries := make([]scoreEntry, 0, len(s.scoreOrder))
	for _, id := range s.scoreOrder {
		entries = append(entries, scoreEntry{userID: id, score: s.scores[id]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].score > entries[j].score
	})
	return entries
}

func hasAnyScore(ranking []scoreEntry) bool {
	for _, e := range ranking {
		if e.score > 0 {
			return true
		}
	}
	return false
}

func buildScoreboardEmbed(client bot.Client, title, description string, ranking []scoreEntry) discord.Embed {
	builder := discord.NewEmbedBuilder().
		SetTitle(title).
		SetColor(0xffd700)
	if description != "" {
		builder.SetDescription(description)
	}
	if len(ranking) == 0 {
		builder.AddField("Aucun point", "Personne n'a marqué de points dans ce blindtest.", false)
	}
	for _, e := range ranking {
		builder.AddField(displayName(client, e.userID), fmt.Sprintf("%d points", e.score), false)
	}
	return builder.Build()
}

func revealEmbed(title string, color int, q *BlindtestQuestion) discord.Embed {
	return discord.NewEmbedBuilder().
		SetTitle(title).
		SetDescription(fmt.Sprintf(
			"La réponse était : **%s**\nTitre : **%s**\nCompositeur : **%s**",
			q.DisplayableAnswer, q.Meta.Title, q.Meta.Composer)).
		SetColor(color).
		Build()
}

func displayName(client bot.Client, userID snowflake.ID) string {
	if u, err := client.Rest.GetUser(userID); err == nil && u != nil {
		return u.Username
	}
	return fmt.Sprintf("<@%d>", userID)
}

func disableAnswerButton(client bot.Client, channelID, messageID snowflake.ID) {
	_, err := client.Rest.UpdateMessage(channelID, messageID, discord.NewMessageUpdateBuilder().
		SetComponents().
		Build())
	if err != nil {
		LogBlindtest("Failed to disable answer button: %v", err)
	}
}

func markAnswerButtonSolved(client bot.Client, channelID, messageID snowflake.ID) {
	_, err := client.Rest.UpdateMessage(channelID, messageID, discord.NewMessageUpdateBuilder().
		SetComponents(discord.NewActionRow(discord.NewSecondaryButton("✅ Répondu", blindtestAnswerButtonID).AsDisabled())).
		Build())
	if err != nil {
		LogBlindtest("Failed to mark answer button solved: %v", err)
	}
}

func recordResult(guildID snowflake.ID, set *Blindtest, ranking []scoreEntry) {
	if set == nil {
		return
	}
	winnerID := ""
	winnerScore := 0
	if len(ranking) > 0 && ranking[0].score > 0 {
		winnerID = ranking[0].userID.String()
		winnerScore = ranking[0].score
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := SaveBlindtestResult(ctx, guildID.String(), set.Theme, len(set.Questions), winnerID, winnerScore); err != nil {
		LogBlindtest("Failed to save result for guild %s: %v", guildID, err)
	}
}
