package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ============================================================================
// Blindtest Generation
// ============================================================================

const (
	ProviderDeepseek = "deepseek"
	ProviderGPT      = "gpt"

	deepseekEndpoint = "https://api.deepseek.com/v1/chat/completions"
	deepseekModel    = "deepseek-chat"
	openaiEndpoint   = "https://api.openai.com/v1/chat/completions"
	openaiModel      = "gpt-4o-mini"

	ErrGeneratorNoKey      = "no API key configured for provider %s"
	ErrGeneratorStatus     = "%s API error: %d %s"
	ErrGeneratorNoContent  = "no content in %s response"
	ErrGeneratorBadPayload = "invalid blindtest payload: %w"
	ErrGeneratorBadJSON    = "invalid JSON response from %s: %w"
)

var generatorHTTPClient = &http.Client{
	Timeout: 120 * time.Second,
}

// QuestionMeta describes the work a question's audio comes from.
type QuestionMeta struct {
	Type     string `json:"type"`
	Source   string `json:"source"`
	Title    string `json:"title"`
	Composer string `json:"composer"`
}

// BlindtestQuestion is one round of a blindtest. URL is filled in by
// enrichment after generation; a question without a URL is resolved
// just-in-time when its round starts.
type BlindtestQuestion struct {
	Meta              QuestionMeta `json:"meta"`
	SearchHint        string       `json:"youtubeSearch"`
	URL               string       `json:"url,omitempty"`
	AcceptableAnswers []string     `json:"acceptable_answers"`
	DisplayableAnswer string       `json:"displayableAnswer"`
}

// Blindtest is a full generated question set. Immutable after preparation
// except for per-question URL enrichment.
type Blindtest struct {
	Theme      string               `json:"theme"`
	AnswerType string               `json:"answerType"`
	Questions  []*BlindtestQuestion `json:"questions"`
}

// BlindtestGenerator produces a validated question set from a theme.
type BlindtestGenerator interface {
	Generate(ctx context.Context, theme string, questionCount int, answerType, difficulty string) (*Blindtest, error)
	Name() string
}

// GeneratorFor returns the generator for a provider value, failing when the
// matching API key is absent.
func GeneratorFor(provider string) (BlindtestGenerator, error) {
	switch provider {
	case ProviderGPT:
		if GlobalConfig.OpenAIAPIKey == "" {
			return nil, fmt.Errorf(ErrGeneratorNoKey, ProviderGPT)
		}
		return &chatCompletionGenerator{
			name:     "GPT-4",
			endpoint: openaiEndpoint,
			model:    openaiModel,
			apiKey:   GlobalConfig.OpenAIAPIKey,
		}, nil
	default:
		if GlobalConfig.DeepseekAPIKey == "" {
			return nil, fmt.Errorf(ErrGeneratorNoKey, ProviderDeepseek)
		}
		return &chatCompletionGenerator{
			name:     "Deepseek",
			endpoint: deepseekEndpoint,
			model:    deepseekModel,
			apiKey:   GlobalConfig.DeepseekAPIKey,
		}, nil
	}
}

// chatCompletionGenerator drives an OpenAI-compatible chat completions API.
type chatCompletionGenerator struct {
	name     string
	endpoint string
	model    string
	apiKey   string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (g *chatCompletionGenerator) Name() string { return g.name }

func (g *chatCompletionGenerator) Generate(ctx context.Context, theme string, questionCount int, answerType, difficulty string) (*Blindtest, error) {
	LogGenerator("Generating blindtest via %s: theme=%q count=%d answerType=%q difficulty=%q", g.name, theme, questionCount, answerType, difficulty)

	userPrompt := fmt.Sprintf(
		"Generate a blindtest with %d questions about %s. The answers should be of type: %s. The difficulty should be: %s.",
		questionCount, theme, answerType, difficulty)

	payload := chatCompletionRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: blindtestSystemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.7,
		MaxTokens:   2000,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := generatorHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		LogGenerator("%s returned %d: %s", g.name, resp.StatusCode, Truncate(string(raw), 300))
		return nil, fmt.Errorf(ErrGeneratorStatus, g.name, resp.StatusCode, resp.Status)
	}

	var completion chatCompletionResponse
	if err := json.Unmarshal(raw, &completion); err != nil {
		return nil, fmt.Errorf(ErrGeneratorBadJSON, g.name, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, fmt.Errorf(ErrGeneratorNoContent, g.name)
	}

	content := stripCodeFences(completion.Choices[0].Message.Content)

	var bt Blindtest
	if err := json.Unmarshal([]byte(content), &bt); err != nil {
		LogGenerator("Content that failed to parse: %s", Truncate(content, 300))
		return nil, fmt.Errorf(ErrGeneratorBadJSON, g.name, err)
	}

	if err := bt.Validate(); err != nil {
		return nil, fmt.Errorf(ErrGeneratorBadPayload, err)
	}

	LogGenerator("Generated %d questions for theme %q", len(bt.Questions), bt.Theme)
	return &bt, nil
}

// stripCodeFences removes markdown ```json fences the models sometimes wrap
// their output in despite instructions.
func stripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json\n", "")
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```\n", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// Validate checks the shape the state machine depends on. A payload failing
// here is a terminal error for the prepare call, not retried.
func (bt *Blindtest) Validate() error {
	if len(bt.Questions) == 0 {
		return errors.New("questions missing or empty")
	}
	for i, q := range bt.Questions {
		if q == nil {
			return fmt.Errorf("question %d is null", i+1)
		}
		if q.Meta.Title == "" || q.Meta.Source == "" {
			return fmt.Errorf("question %d has incomplete metadata", i+1)
		}
		if len(q.AcceptableAnswers) == 0 {
			return fmt.Errorf("question %d has no acceptable answers", i+1)
		}
		if q.DisplayableAnswer == "" {
			return fmt.Errorf("question %d has no displayable answer", i+1)
		}
		if q.SearchHint == "" {
			return fmt.Errorf("question %d has no search hint", i+1)
		}
	}
	return nil
}

const blindtestSystemPrompt = `You are a music expert and blindtest question generator. Your task is to create a JSON object that matches the following schema:

{
  "theme": "string - The main theme of the blindtest (e.g., 'musique pop des années 80', 'rap français', 'musique de jeux vidéo', 'jazz classique')",
  "answerType": "string - The type of answer expected (e.g., 'nom du jeu', 'artiste', 'titre de la musique', 'nom du groupe')",
  "questions": [
    {
      "meta": {
        "type": "string - The type of media (e.g., 'game', 'movie', 'anime', 'album', 'single', 'concert')",
        "source": "string - The source of the media (e.g., 'Final Fantasy VII', 'The Beatles', 'Michael Jackson', 'Daft Punk')",
        "title": "string - The title of the specific piece (e.g., 'Aerith's Theme', 'Billie Jean', 'Get Lucky')",
        "composer": "string - The composer, artist, or band of the piece"
      },
      "youtubeSearch": "string - A precise search query to find the original audio on YouTube. Follow these rules:\n- For traditional music (pop, rap, etc.): use 'artist title audio' (e.g., 'The Beatles Hey Jude audio')\n- For video game/movie/anime music: use 'game/movie/anime title ost' (e.g., 'Final Fantasy VII Aerith's Theme ost')\n- DO NOT include composer names as it may lead to orchestral versions\n- DO NOT include years or album names unless absolutely necessary\n- DO NOT use quotes or special characters\n- DO NOT add 'original' or 'official' as it may limit results",
      "acceptable_answers": ["array of strings - All possible correct answers"],
      "displayableAnswer": "string - The answer to display when the question is solved"
    }
  ]
}

Important rules:
1. DO NOT include any URLs in the response
2. The 'title' field should contain the specific piece title, not the album or artist name
3. The 'source' field should contain the album, artist, game, movie, or other source name
4. The 'displayableAnswer' should be the most common or official name of the piece
5. Include multiple acceptable answers in 'acceptable_answers' to account for variations
6. Make sure the difficulty matches the requested level
7. The answerType should match the requested type
8. Adapt the questions to the requested theme, whether it's video game music, pop, rap, classical, or any other genre
9. For traditional music (pop, rap, etc.), use 'album' or 'single' as the type and the artist/band name as the source
10. For video game music, use 'game' as the type and the game name as the source
11. For movie music, use 'movie' as the type and the movie name as the source
12. ONLY include real, verifiable songs and artists that actually exist
13. NEVER generate fictional or non-existent songs or artists
14. For each song, ensure that the artist mentioned is the actual artist who performed/created that specific song
15. Double-check that the song-artist associations are accurate and real
16. If unsure about the existence or accuracy of a song-artist pair, choose a different, verified song instead

JSON Format Rules:
1. Return ONLY the raw JSON object, without any markdown code blocks (` + "```json or ```" + `)
2. Do not include any explanatory text before or after the JSON
3. Ensure all strings are properly escaped
4. Make sure all arrays and objects are properly closed
5. The JSON must be valid and parseable`
