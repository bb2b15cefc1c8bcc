package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/chime/internal/watch"
	"github.com/dgnsrekt/chime/pkg/sfx"
	"github.com/dgnsrekt/chime/ui"
)

var (
	boardWatch bool
	boardMouse bool

	boardCmd = &cobra.Command{
		Use:   "board",
		Short: "Open an interactive soundboard",
		Long: paragraph(fmt.Sprintf("\nBrowse and %s loaded sounds from the terminal. With --watch, files dropped into the sounds dir are loaded as they change.",
			keyword("play"))),
		Example: paragraph("chime board\nchime board --watch -d ~/sounds"),
		Args:    cobra.NoArgs,
		RunE:    runBoard,
	}
)

func runBoard(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	events := make(chan sfx.Event, 64)
	hook := func(ev sfx.Event) {
		select {
		case events <- ev:
		default:
		}
	}

	m, err := newManager(ctx, sfx.WithEventHook(hook))
	if err != nil {
		return err
	}
	defer closeManager(m)

	cfg := ui.Config{
		Events:      events,
		EnableMouse: boardMouse,
	}

	if boardWatch {
		sc, err := loadConfig()
		if err != nil {
			return err
		}
		dir := sc.SoundsDir
		if dir == "" {
			return errors.New("--watch needs a sounds dir (--sounds-dir or sounds_dir in the config)")
		}
		changes := make(chan watch.Change, 16)
		w := watch.New(dir, m, watch.WithNotify(func(c watch.Change) {
			select {
			case changes <- c:
			default:
			}
		}))
		go func() {
			if err := w.Run(ctx); err != nil {
				log.Error("Sound watcher stopped", "error", err)
			}
		}()
		cfg.Changes = changes
		cfg.WatchDir = dir
	}

	_, err = ui.NewProgram(m, cfg).Run()
	return err
}

func init() {
	boardCmd.Flags().BoolVarP(&boardWatch, "watch", "w", false, "reload sounds when files in the sounds dir change")
	boardCmd.Flags().BoolVarP(&boardMouse, "mouse", "m", false, "enable mouse wheel support")
}
