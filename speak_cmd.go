package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/hookvoice/internal/tts"
	"github.com/dgnsrekt/hookvoice/internal/ttypes"
)

var (
	speakVoice      string
	speakSpeed      float64
	speakFormat     string
	speakModel      string
	speakProvider   string
	speakNoFallback bool
	speakNoPlay     bool
	speakVolume     float64
	speakJSON       bool

	preloadFile string
)

var speakCmd = &cobra.Command{
	Use:   "speak [TEXT]",
	Short: "Speak text out loud",
	Long: paragraph(fmt.Sprintf("\n%s text through the cache and the provider chain, then play it. Text is read from stdin when no argument is given.",
		keyword("Synthesize"))),
	Example: paragraph("hookvoice speak \"Build finished\"\necho \"Tests passed\" | hookvoice speak --voice nova\nhookvoice speak --provider openai --no-fallback \"Deploying\""),
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := speakText(args)
		if err != nil {
			return err
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		opts := speakOptions()
		opts.Play = !speakNoPlay
		res, err := svc.Speak(cmd.Context(), text, opts)
		if err != nil {
			return err
		}

		if speakJSON {
			if err := printJSON(cmd.OutOrStdout(), newResultView(text, res)); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), text, res)
		}
		if !res.Success {
			return fmt.Errorf("speak: %s", ttypes.CodeOf(res.Err))
		}
		return nil
	},
}

var preloadCmd = &cobra.Command{
	Use:   "preload [PHRASE...]",
	Short: "Warm the cache with phrases",
	Long: paragraph(fmt.Sprintf("\n%s phrases into the cache without playing them. Phrases come from the arguments and from --file, one per line.",
		keyword("Synthesize"))),
	Example: paragraph("hookvoice preload \"Task complete\" \"Build failed\"\nhookvoice preload --file phrases.txt"),
	Args:    cobra.ArbitraryArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		phrases := append([]string{}, args...)
		if preloadFile != "" {
			more, err := readPhrases(preloadFile)
			if err != nil {
				return err
			}
			phrases = append(phrases, more...)
		}
		if len(phrases) == 0 {
			return errors.New("no phrases to preload")
		}

		svc, err := newService()
		if err != nil {
			return err
		}
		defer func() { _ = svc.Close() }()

		results, err := svc.PreloadAll(cmd.Context(), phrases, speakOptions())
		if err != nil {
			return err
		}

		failed := 0
		views := make([]resultView, len(results))
		for i, res := range results {
			views[i] = newResultView(phrases[i], res)
			if !res.Success {
				failed++
			}
		}

		if speakJSON {
			if err := printJSON(cmd.OutOrStdout(), views); err != nil {
				return err
			}
		} else {
			for i, res := range results {
				printResult(cmd.OutOrStdout(), phrases[i], res)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d phrases failed", failed, len(phrases))
		}
		return nil
	},
}

// resultView is the JSON shape of a result.
type resultView struct {
	Text          string   `json:"text"`
	Success       bool     `json:"success"`
	Provider      string   `json:"provider,omitempty"`
	FromCache     bool     `json:"from_cache"`
	DurationMs    int64    `json:"duration_ms"`
	Played        bool     `json:"played"`
	CacheKey      string   `json:"cache_key"`
	AudioPath     string   `json:"audio_path,omitempty"`
	CorrelationID string   `json:"correlation_id"`
	CacheDegraded bool     `json:"cache_degraded,omitempty"`
	ErrorCode     string   `json:"error_code,omitempty"`
	Error         string   `json:"error,omitempty"`
	Attempts      []string `json:"attempts,omitempty"`
}

func newResultView(text string, res ttypes.Result) resultView {
	v := resultView{
		Text:          text,
		Success:       res.Success,
		Provider:      res.Provider,
		FromCache:     res.FromCache,
		DurationMs:    res.DurationMs(),
		Played:        res.Played,
		CacheKey:      res.CacheKey,
		AudioPath:     res.AudioPath,
		CorrelationID: res.CorrelationID,
		CacheDegraded: res.CacheDegraded,
	}
	if res.Err != nil {
		v.ErrorCode = string(ttypes.CodeOf(res.Err))
		v.Error = res.Err.Error()
	}
	for _, a := range res.Attempts {
		v.Attempts = append(v.Attempts, a.String())
	}
	return v
}

func speakOptions() tts.SpeakOptions {
	opts := tts.SpeakOptions{
		Voice:    speakVoice,
		Speed:    speakSpeed,
		Format:   speakFormat,
		Model:    speakModel,
		Provider: speakProvider,
		Volume:   speakVolume,
	}
	if speakNoFallback {
		allow := false
		opts.AllowFallback = &allow
	}
	return opts
}

func speakText(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	pipe, err := stdinIsPipe()
	if err != nil {
		return "", err
	}
	if !pipe {
		return "", errors.New("no text given: pass it as an argument or on stdin")
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("unable to read stdin: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

// readPhrases reads one phrase per line. Blank lines and lines starting
// with # are skipped.
func readPhrases(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open phrase file: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return parsePhrases(f)
}

func parsePhrases(r io.Reader) ([]string, error) {
	var phrases []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		phrases = append(phrases, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read phrases: %w", err)
	}
	return phrases, nil
}

func printJSON(w io.Writer, v any) error {
	b, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("unable to encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func printResult(w io.Writer, text string, res ttypes.Result) {
	if !isTerminal() {
		if res.Success {
			fmt.Fprintf(w, "ok\t%s\t%s\t%s\n", source(res), res.Duration.Round(time.Millisecond), text)
		} else {
			fmt.Fprintf(w, "error\t%s\t%v\t%s\n", ttypes.CodeOf(res.Err), res.Err, text)
		}
		return
	}

	quoted := wordwrap.String(fmt.Sprintf("%q", text), 60)
	if !res.Success {
		fmt.Fprintln(w, paragraph(fmt.Sprintf("%s %s\n%s", failure("✗"), quoted, faint(fmt.Sprint(res.Err)))))
		return
	}
	line := fmt.Sprintf("%s %s %s", keyword("✓"), quoted,
		faint(fmt.Sprintf("%s in %s", source(res), res.Duration.Round(time.Millisecond))))
	if res.CacheDegraded {
		line += "\n" + faint("audio was not cached")
	}
	fmt.Fprintln(w, paragraph(line))
}

func source(res ttypes.Result) string {
	if res.FromCache {
		return "cache"
	}
	return res.Provider
}

func init() {
	for _, c := range []*cobra.Command{speakCmd, preloadCmd} {
		c.Flags().StringVar(&speakVoice, "voice", "", "voice to synthesize with (provider specific)")
		c.Flags().Float64Var(&speakSpeed, "speed", 0, "speech speed, 0.25 to 4.0")
		c.Flags().StringVar(&speakFormat, "format", "", "audio format: mp3, wav, opus, aac, flac or pcm")
		c.Flags().StringVar(&speakModel, "model", "", "provider model")
		c.Flags().StringVar(&speakProvider, "provider", "", "try this provider first")
		c.Flags().BoolVar(&speakNoFallback, "no-fallback", false, "do not fall back when --provider fails")
		c.Flags().BoolVar(&speakJSON, "json", false, "print results as JSON")
	}
	speakCmd.Flags().BoolVar(&speakNoPlay, "no-play", false, "synthesize and cache without playing")
	speakCmd.Flags().Float64Var(&speakVolume, "volume", 0, "playback volume, 0 to 1 (default from config)")
	preloadCmd.Flags().StringVarP(&preloadFile, "file", "f", "", "file with one phrase per line")
}
