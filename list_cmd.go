package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dgnsrekt/chime/pkg/sfx"
)

var (
	listCmd = &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the available sounds",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := newManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeManager(m)

			styled := term.IsTerminal(int(os.Stdout.Fd())) && !termenv.EnvNoColor()
			width := 0
			if styled {
				width, _, _ = term.GetSize(int(os.Stdout.Fd()))
			}
			writeSoundTable(os.Stdout, m.Sounds(), styled, width)
			if errs := m.PreloadErrors(); len(errs) > 0 {
				fmt.Fprintln(os.Stderr, faint(fmt.Sprintf("%d sound(s) failed to load, see chime info NAME", len(errs))))
			}
			return nil
		},
	}

	infoCmd = &cobra.Command{
		Use:   "info NAME",
		Short: "Show details about a sound",
		Args:  cobra.ExactArgs(1),
		ValidArgsFunction: func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
			return completeSoundNames(), cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager(cmd.Context())
			if err != nil {
				return err
			}
			defer closeManager(m)

			name := args[0]
			if err, ok := m.PreloadErrors()[name]; ok {
				return fmt.Errorf("%s failed to load: %w", name, err)
			}
			info, ok := m.Info(name)
			if !ok {
				return errors.New(describePlayError(name, sfx.ErrNotFound, m.GetAvailableSounds()))
			}
			data, _ := m.GetAudioData(name)
			writeSoundInfo(os.Stdout, info, measure(data.Samples))
			return nil
		},
	}
)

// writeSoundTable prints one row per sound. Without a terminal it
// prints plain tab-separated columns for scripts. A positive width
// truncates the source column to fit.
func writeSoundTable(w io.Writer, sounds []sfx.SoundInfo, styled bool, width int) {
	if !styled {
		for _, s := range sounds {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\n",
				s.Name, s.Duration, s.SampleRate, s.Channels, s.SizeBytes, s.Source)
		}
		return
	}

	nameWidth := len("NAME")
	for _, s := range sounds {
		nameWidth = max(nameWidth, runewidth.StringWidth(s.Name))
	}
	sourceWidth := width - (nameWidth + 2 + 9 + 18 + 10)
	col := lipgloss.NewStyle().Width(nameWidth + 2).Render
	length := lipgloss.NewStyle().Width(9).Render
	format := lipgloss.NewStyle().Width(18).Render
	mem := lipgloss.NewStyle().Width(10).Render

	fmt.Fprintln(w, header(col("NAME")+length("LENGTH")+format("FORMAT")+mem("MEMORY")+"SOURCE"))
	for _, s := range sounds {
		fmt.Fprintln(w,
			keyword(col(s.Name))+
				length(formatDuration(s.Duration.Seconds()))+
				format(formatFormat(s.SampleRate, s.Channels))+
				mem(humanize.Bytes(uint64(s.SizeBytes)))+ //nolint:gosec
				faint(fitSource(s.Source, sourceWidth)))
	}
}

func fitSource(source string, width int) string {
	if width < 8 {
		return source
	}
	return runewidth.Truncate(source, width, "…")
}

func writeSoundInfo(w io.Writer, info sfx.SoundInfo, lv levels) {
	rows := [][2]string{
		{"name", keyword(info.Name)},
		{"source", info.Source},
		{"length", formatDuration(info.Duration.Seconds())},
		{"frames", humanize.Comma(int64(info.Frames))},
		{"format", formatFormat(info.SampleRate, info.Channels)},
		{"memory", humanize.Bytes(uint64(info.SizeBytes))}, //nolint:gosec
		{"peak", formatDB(lv.peak)},
		{"rms", formatDB(lv.rms)},
		{"loaded", humanize.Time(info.LoadedAt)},
	}
	label := lipgloss.NewStyle().Width(8).Render
	for _, r := range rows {
		fmt.Fprintln(w, faint(label(r[0]))+r[1])
	}
}

type levels struct {
	peak float64
	rms  float64
}

// measure returns peak and RMS amplitude of normalized samples.
func measure(samples []float32) levels {
	if len(samples) == 0 {
		return levels{}
	}
	var peak, sum float64
	for _, s := range samples {
		v := math.Abs(float64(s))
		peak = max(peak, v)
		sum += v * v
	}
	return levels{peak: peak, rms: math.Sqrt(sum / float64(len(samples)))}
}

func formatDB(amplitude float64) string {
	if amplitude <= 0 {
		return "-inf dBFS"
	}
	return fmt.Sprintf("%.1f dBFS", 20*math.Log10(amplitude))
}

func formatDuration(seconds float64) string {
	if seconds < 1 {
		return fmt.Sprintf("%dms", int(math.Round(seconds*1000)))
	}
	return strings.TrimSuffix(fmt.Sprintf("%.2f", seconds), "0") + "s"
}

func formatFormat(rate, channels int) string {
	layout := "stereo"
	if channels == 1 {
		layout = "mono"
	} else if channels != 2 {
		layout = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%s %s", humanize.SIWithDigits(float64(rate), 1, "Hz"), layout)
}
