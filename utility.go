package main

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"
)

const MsgGenericErrorFR = "❌ Une erreur est survenue. Réessaie plus tard."

// ============================================================================
// Goroutines
// ============================================================================

// safeGo runs f on a new goroutine with panic recovery.
func safeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// ============================================================================
// Math & Logic
// ============================================================================

// Min returns the minimum of two integers.
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Max returns the maximum of two integers.
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Atoi converts a string to an integer, returning 0 on error.
func Atoi(s string) int {
	i, _ := strconv.Atoi(s)
	return i
}

func intPtr(i int) *int {
	return &i
}

// ============================================================================
// String Utilities
// ============================================================================

// Truncate truncates a string to the specified length with ellipsis at the end.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// TruncateCenter truncates a string keeping both the start and end.
func TruncateCenter(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	k := (maxLen - 3) / 2
	return string(r[:k]) + "..." + string(r[len(r)-k:])
}

// TruncateWithPreserve truncates text while preserving a prefix and suffix.
func TruncateWithPreserve(text string, maxLen int, prefix, suffix string) string {
	rp, rs := []rune(prefix), []rune(suffix)
	fixedLen := len(rp) + len(rs)
	if fixedLen >= maxLen-10 {
		return TruncateCenter(prefix+text+suffix, maxLen)
	}
	return prefix + TruncateCenter(text, maxLen-fixedLen) + suffix
}

// ContainsLower checks if a string contains a substring (case-insensitive).
func ContainsLower(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// ============================================================================
// Time Utilities
// ============================================================================

func FormatDuration(d time.Duration) string {
	if d == 0 {
		return "∞"
	}
	h, m, s := int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// ============================================================================
// Interaction Replies
// ============================================================================

func respond(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(content).Build()); err != nil {
		LogError("Failed to respond to interaction: %v", err)
	}
}

func respondEphemeral(event *events.ApplicationCommandInteractionCreate, content string) {
	if err := event.CreateMessage(discord.NewMessageCreateBuilder().SetContent(content).SetEphemeral(true).Build()); err != nil {
		LogError("Failed to respond to interaction: %v", err)
	}
}

func editResponse(client bot.Client, event *events.ApplicationCommandInteractionCreate, content string) {
	editResponseToken(client, event.ApplicationID(), event.Token(), content)
}

func editResponseToken(client bot.Client, appID snowflake.ID, token, content string) {
	_, err := client.Rest.UpdateInteractionResponse(appID, token, discord.NewMessageUpdateBuilder().SetContent(content).Build())
	if err != nil {
		LogError("Failed to edit interaction response: %v", err)
	}
}

func sendText(client bot.Client, channelID snowflake.ID, content string) {
	if _, err := client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().SetContent(content).Build()); err != nil {
		LogError("Failed to send message to %s: %v", channelID, err)
	}
}

func sendEmbed(client bot.Client, channelID snowflake.ID, embed discord.Embed) {
	if _, err := client.Rest.CreateMessage(channelID, discord.NewMessageCreateBuilder().SetEmbeds(embed).Build()); err != nil {
		LogError("Failed to send embed to %s: %v", channelID, err)
	}
}
