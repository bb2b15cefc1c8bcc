package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sahilm/fuzzy"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/chime/pkg/sfx"
)

var (
	playWait    bool
	playSpacing time.Duration

	playCmd = &cobra.Command{
		Use:   "play NAME...",
		Short: "Play one or more sounds",
		Long: paragraph(fmt.Sprintf("\n%s the named sounds in order. Each sound starts without waiting for the previous one unless --spacing is set.",
			keyword("Play"))),
		Example: paragraph("chime play AP_Engage\nchime play chime_hi_lo rec_start_voice --spacing 300ms"),
		Args:    cobra.MinimumNArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return completeSoundNames(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: runPlay,
	}
)

func runPlay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	m, err := newManager(ctx)
	if err != nil {
		return err
	}
	defer closeManager(m)

	played := 0
	for i, name := range args {
		if i > 0 && playSpacing > 0 {
			select {
			case <-time.After(playSpacing):
			case <-ctx.Done():
				m.StopAllSounds()
				return nil
			}
		}
		if _, err := m.Play(name); err != nil {
			fmt.Fprintln(os.Stderr, describePlayError(name, err, m.GetAvailableSounds()))
			continue
		}
		played++
	}

	if played == 0 {
		return errors.New("nothing to play")
	}
	if !playWait {
		return nil
	}

	if err := m.Wait(ctx); err != nil {
		report := m.StopAllSounds()
		if errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, faint(fmt.Sprintf("stopped %d sound(s)", report.Stopped+report.Forced)))
			return nil
		}
		return err
	}
	return nil
}

// describePlayError renders a play failure for the terminal, suggesting
// close matches for unknown names.
func describePlayError(name string, err error, available []string) string {
	switch {
	case errors.Is(err, sfx.ErrNotFound):
		msg := fmt.Sprintf("%s: no sound named %q", warning("not found"), name)
		if s := suggest(name, available); len(s) > 0 {
			msg += fmt.Sprintf(", did you mean %s?", keyword(s[0]))
		}
		return msg
	case errors.Is(err, sfx.ErrQueueFull):
		return fmt.Sprintf("%s: %q dropped, too many sounds queued", warning("busy"), name)
	default:
		return fmt.Sprintf("%s: %v", warning("error"), err)
	}
}

// suggest returns up to three known names that fuzzily match name.
func suggest(name string, available []string) []string {
	matches := fuzzy.Find(name, available)
	out := make([]string, 0, 3)
	for _, m := range matches {
		if len(out) == 3 {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// completeSoundNames lists sounds for shell completion without opening
// an audio device.
func completeSoundNames() []string {
	cfg, err := loadConfig()
	if err != nil {
		return nil
	}
	table, _ := cfg.SoundTable()
	names := make([]string, 0, len(table))
	for name := range table {
		names = append(names, name)
	}
	return names
}

func init() {
	playCmd.Flags().BoolVarP(&playWait, "wait", "w", true, "wait for the sounds to finish before exiting")
	playCmd.Flags().DurationVarP(&playSpacing, "spacing", "s", 0, "pause between starting consecutive sounds")
}
