package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// ============================================================================
// Audio Resolution
// ============================================================================

const (
	// Search result duration preferences, mirroring the short/medium video
	// duration buckets of the YouTube search API.
	shortDurationMax  = 4 * time.Minute
	mediumDurationMax = 20 * time.Minute

	searchMaxAttempts = 3
	searchBackoffStep = 2 * time.Second

	ErrNoVideoFound     = "no video found for %q"
	ErrSearchExhausted  = "search failed for %q after %d attempts: %w"
	ErrMetadataNotFound = "failed to resolve metadata"
)

var videoIDRe = regexp.MustCompile(`(?:v=|youtu\.be/)([A-Za-z0-9_-]{11})`)

type ytdlpSearchResult struct {
	URL      string
	Title    string
	Uploader string
	Duration time.Duration
}

func extractVideoID(u string) string {
	m := videoIDRe.FindStringSubmatch(u)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func isYouTubeURL(u string) bool {
	return strings.Contains(u, "youtube.com/") || strings.Contains(u, "youtu.be/")
}

// ResolveSearchQuery turns a free-text query into a watchable locator,
// preferring short results and falling back to medium-length ones. Transient
// failures are retried with linear backoff up to searchMaxAttempts.
func ResolveSearchQuery(ctx context.Context, query string) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= searchMaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(searchBackoffStep * time.Duration(attempt-1)):
			}
			LogResolver("Search retry %d/%d for %q", attempt, searchMaxAttempts, query)
		}

		results, err := ytdlpSearch(ctx, query, 5)
		if err != nil {
			lastErr = err
			continue
		}
		if len(results) == 0 {
			return "", fmt.Errorf(ErrNoVideoFound, query)
		}

		if best := pickByDuration(results); best != "" {
			return best, nil
		}
		return results[0].URL, nil
	}
	return "", fmt.Errorf(ErrSearchExhausted, query, searchMaxAttempts, lastErr)
}

// pickByDuration returns the first short result, then the first medium one.
func pickByDuration(results []ytdlpSearchResult) string {
	for _, r := range results {
		if r.Duration > 0 && r.Duration <= shortDurationMax {
			return r.URL
		}
	}
	for _, r := range results {
		if r.Duration > 0 && r.Duration <= mediumDurationMax {
			return r.URL
		}
	}
	return ""
}

// ============================================================================
// yt-dlp
// ============================================================================

var (
	jsOnce       sync.Once
	cachedJSArgs []string
)

// newYtdlp returns a new yt-dlp command with sane defaults.
func newYtdlp() *ytdlp.Command {
	cmd := ytdlp.New().
		Quiet().
		NoWarnings()

	if proxy := os.Getenv("YOUTUBE_PROXY"); proxy != "" {
		cmd.Proxy(proxy)
	}

	return cmd
}

// buildYtdlpArgs returns common args for yt-dlp commands.
func buildYtdlpArgs() []string {
	jsOnce.Do(func() {
		for _, rt := range []string{"node", "deno", "quickjs"} {
			if path, err := exec.LookPath(rt); err == nil {
				cachedJSArgs = append(cachedJSArgs, "--js-runtimes", rt+":"+path)
				break
			}
		}
	})

	args := append([]string(nil), cachedJSArgs...)
	args = append(args,
		"--no-playlist",
		"--no-check-certificates",
		"--no-warnings",
		"--extractor-args", "youtube:player_client=android,web",
		"--prefer-free-formats",
		"--socket-timeout", "30",
		"--retries", "20",
		"--fragment-retries", "20",
	)
	return args
}

func cookiesFile() string {
	if GlobalConfig != nil {
		return GlobalConfig.YoutubeCookiesFile
	}
	return ""
}

func ytdlpSearch(ctx context.Context, q string, m int) ([]ytdlpSearchResult, error) {
	cmd := newYtdlp()

	args := buildYtdlpArgs()
	res, err := cmd.
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(uploader)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", m)).
		NoWarnings().
		IgnoreConfig().
		PreferFreeFormats().
		Run(ctx, append(args, fmt.Sprintf("ytsearch%d:%s", m, q))...)

	if err != nil {
		return nil, err
	}
	ls := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	rs := make([]ytdlpSearchResult, 0, len(ls))
	for _, l := range ls {
		ps := strings.Split(l, "\t")
		if len(ps) < 4 {
			continue
		}
		d, _ := time.ParseDuration(ps[3] + "s")
		u := ps[0]
		if extractVideoID(u) != "" {
			rs = append(rs, ytdlpSearchResult{URL: u, Title: ps[1], Uploader: ps[2], Duration: d})
		}
	}
	return rs, nil
}

func ytdlpResolveMetadata(ctx context.Context, u string) (title, uploader string, d time.Duration, err error) {
	cmd := newYtdlp()

	args := append(buildYtdlpArgs(), "--skip-download")
	res, err := cmd.
		Print("%(title)s\t%(uploader)s\t%(duration)s").
		NoSimulate().
		IgnoreConfig().
		NoWarnings().
		Run(ctx, append(args, u)...)

	if err != nil {
		return "", "", 0, err
	}
	ls := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	for _, l := range ls {
		ps := strings.Split(l, "\t")
		if len(ps) < 3 {
			continue
		}
		d, _ := time.ParseDuration(ps[2] + "s")
		return ps[0], ps[1], d, nil
	}
	return "", "", 0, errors.New(ErrMetadataNotFound)
}

// isPermissionError matches the 403/forbidden family of failures where an
// unauthenticated retry is worth attempting.
func isPermissionError(err error, stderr string) bool {
	msg := strings.ToLower(stderr)
	if err != nil {
		msg += " " + strings.ToLower(err.Error())
	}
	return strings.Contains(msg, "403") || strings.Contains(msg, "forbidden")
}

// audioSink receives the raw audio bytes of a stream download. Seek and
// Truncate are needed to rewind the sink before the unauthenticated fallback
// attempt.
type audioSink interface {
	io.Writer
	io.Seeker
	Truncate(size int64) error
}

// ytdlpStream downloads the best audio of u into out. When a cookies file is
// configured the first attempt is authenticated; a permission failure falls
// back to one unauthenticated attempt, since credentials are a best-effort
// optimization.
func ytdlpStream(ctx context.Context, u string, out audioSink) error {
	cookies := cookiesFile()

	err, stderr := runYtdlpStream(ctx, u, cookies, out)
	if err == nil {
		return nil
	}

	if cookies != "" && isPermissionError(err, stderr) {
		LogResolver("Authenticated download got a permission error for %s, retrying without cookies", u)
		if _, seekErr := out.Seek(0, 0); seekErr != nil {
			return err
		}
		if truncErr := out.Truncate(0); truncErr != nil {
			return err
		}
		err, stderr = runYtdlpStream(ctx, u, "", out)
		if err == nil {
			return nil
		}
	}

	LogResolver("yt-dlp stream failed for %s: %v, stderr: %s", u, err, Truncate(stderr, 300))
	return err
}

func runYtdlpStream(ctx context.Context, u, cookies string, out audioSink) (error, string) {
	u = strings.Replace(u, "music.youtube.com", "www.youtube.com", 1)

	cmd := newYtdlp()
	if cookies != "" {
		cmd.Cookies(cookies)
	}

	proxy := os.Getenv("YOUTUBE_PROXY")

	args := append(buildYtdlpArgs(), "--ignore-config")
	execCmd := cmd.
		Format("bestaudio[ext=webm]/bestaudio[ext=m4a]/bestaudio/best").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckCertificates().
		BuildCommand(ctx, append(args, u)...)

	execCmd.Stdout = out
	execCmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	if proxy != "" {
		execCmd.Env = append(execCmd.Env, "http_proxy="+proxy, "https_proxy="+proxy, "all_proxy="+proxy)
	}
	execCmd.WaitDelay = 0

	var stderr bytes.Buffer
	execCmd.Stderr = &stderr

	if err := execCmd.Start(); err != nil {
		return err, stderr.String()
	}

	if err := execCmd.Wait(); err != nil {
		msg := strings.ToLower(err.Error() + stderr.String())
		if strings.Contains(msg, "broken pipe") || strings.Contains(msg, "signal: killed") {
			return nil, ""
		}
		return err, stderr.String()
	}

	return nil, ""
}
