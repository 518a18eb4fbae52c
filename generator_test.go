package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripCodeFences(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "No fences",
			input: `{"theme":"pop"}`,
			want:  `{"theme":"pop"}`,
		},
		{
			name:  "JSON fence",
			input: "```json\n{\"theme\":\"pop\"}\n```",
			want:  `{"theme":"pop"}`,
		},
		{
			name:  "Plain fence",
			input: "```\n{\"theme\":\"pop\"}\n```",
			want:  `{"theme":"pop"}`,
		},
		{
			name:  "Surrounding whitespace",
			input: "  \n{\"theme\":\"pop\"}\n  ",
			want:  `{"theme":"pop"}`,
		},
		{
			name:  "Fence without trailing newline",
			input: "```json{\"theme\":\"pop\"}```",
			want:  `{"theme":"pop"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFences(tt.input))
		})
	}
}

func validQuestion() *BlindtestQuestion {
	return &BlindtestQuestion{
		Meta: QuestionMeta{
			Type:     "musique",
			Source:   "Undertale",
			Title:    "Megalovania",
			Composer: "Toby Fox",
		},
		SearchHint:        "undertale megalovania ost",
		AcceptableAnswers: []string{"Megalovania"},
		DisplayableAnswer: "Megalovania",
	}
}

func TestBlindtestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(bt *Blindtest)
		wantErr string
	}{
		{
			name:   "Valid payload",
			mutate: func(bt *Blindtest) {},
		},
		{
			name:    "No questions",
			mutate:  func(bt *Blindtest) { bt.Questions = nil },
			wantErr: "questions missing or empty",
		},
		{
			name:    "Null question",
			mutate:  func(bt *Blindtest) { bt.Questions[1] = nil },
			wantErr: "question 2 is null",
		},
		{
			name:    "Missing title",
			mutate:  func(bt *Blindtest) { bt.Questions[0].Meta.Title = "" },
			wantErr: "question 1 has incomplete metadata",
		},
		{
			name:    "Missing source",
			mutate:  func(bt *Blindtest) { bt.Questions[0].Meta.Source = "" },
			wantErr: "question 1 has incomplete metadata",
		},
		{
			name:    "No acceptable answers",
			mutate:  func(bt *Blindtest) { bt.Questions[1].AcceptableAnswers = nil },
			wantErr: "question 2 has no acceptable answers",
		},
		{
			name:    "No displayable answer",
			mutate:  func(bt *Blindtest) { bt.Questions[0].DisplayableAnswer = "" },
			wantErr: "question 1 has no displayable answer",
		},
		{
			name:    "No search hint",
			mutate:  func(bt *Blindtest) { bt.Questions[1].SearchHint = "" },
			wantErr: "question 2 has no search hint",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bt := &Blindtest{
				Theme:      "musique de jeux vidéo",
				AnswerType: "titre de la musique",
				Questions:  []*BlindtestQuestion{validQuestion(), validQuestion()},
			}
			tt.mutate(bt)

			err := bt.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestGeneratorFor(t *testing.T) {
	orig := GlobalConfig
	defer func() { GlobalConfig = orig }()

	t.Run("Deepseek configured", func(t *testing.T) {
		GlobalConfig = &Config{DeepseekAPIKey: "key"}
		g, err := GeneratorFor(ProviderDeepseek)
		require.NoError(t, err)
		assert.Equal(t, "Deepseek", g.Name())
	})

	t.Run("GPT configured", func(t *testing.T) {
		GlobalConfig = &Config{OpenAIAPIKey: "key"}
		g, err := GeneratorFor(ProviderGPT)
		require.NoError(t, err)
		assert.Equal(t, "GPT-4", g.Name())
	})

	t.Run("Deepseek missing key", func(t *testing.T) {
		GlobalConfig = &Config{}
		_, err := GeneratorFor(ProviderDeepseek)
		assert.Error(t, err)
	})

	t.Run("GPT missing key", func(t *testing.T) {
		GlobalConfig = &Config{}
		_, err := GeneratorFor(ProviderGPT)
		assert.Error(t, err)
	})

	t.Run("Unknown provider falls back to Deepseek", func(t *testing.T) {
		GlobalConfig = &Config{DeepseekAPIKey: "key"}
		g, err := GeneratorFor("whatever")
		require.NoError(t, err)
		assert.Equal(t, "Deepseek", g.Name())
	})
}
