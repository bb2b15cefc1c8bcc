package ui

import (
	"github.com/dgnsrekt/chime/internal/watch"
	"github.com/dgnsrekt/chime/pkg/sfx"
)

// Config contains soundboard configuration.
type Config struct {
	// Events receives playback events from the manager's event hook.
	Events <-chan sfx.Event

	// Changes receives hot reload results when a sounds dir is watched.
	Changes <-chan watch.Change

	// WatchDir is shown in the footer while watching.
	WatchDir string

	EnableMouse bool
}
