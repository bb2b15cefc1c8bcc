package playback

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"pgregory.net/rapid"

	"github.com/dgnsrekt/chime/internal/device"
	"github.com/dgnsrekt/chime/internal/sound"
)

func nopLogger() *log.Logger {
	return log.New(io.Discard)
}

// Every accepted request ends in exactly one terminal state, and
// rejected requests never reach a lane.
func TestProperty_DispatcherAccounting(t *testing.T) {
	src := assetMap{
		"a": newAsset(t, "a", 8000, 1, 64),
		"b": newAsset(t, "b", 22050, 2, 300),
	}

	rapid.Check(t, func(t *rapid.T) {
		cfg := DefaultConfig()
		cfg.QueueSize = rapid.IntRange(1, 4).Draw(t, "queue")
		cfg.Lanes = rapid.IntRange(1, 3).Draw(t, "lanes")
		cfg.BlockSize = rapid.IntRange(16, 256).Draw(t, "block")

		mock := device.NewMock(device.MockConfig{})
		d, err := New(src, mock, cfg, WithLogger(nopLogger()))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer d.Close(context.Background()) //nolint:errcheck

		var accepted, dropped, missing int64
		steps := rapid.SliceOfN(rapid.SampledFrom([]string{"a", "b", "missing", "stop"}), 1, 40).Draw(t, "steps")
		for _, step := range steps {
			if step == "stop" {
				d.StopAll(context.Background())
				continue
			}
			_, err := d.Play(step)
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, sound.ErrQueueFull):
				dropped++
			case errors.Is(err, sound.ErrNotFound):
				missing++
			default:
				t.Fatalf("Unexpected Play error: %v", err)
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := d.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}

		stats := d.Stats()
		if stats.Enqueued != accepted || stats.Dropped != dropped || stats.NotFound != missing {
			t.Fatalf("Counters mismatch: %+v (accepted=%d dropped=%d missing=%d)", stats, accepted, dropped, missing)
		}
		if terminal := stats.Finished + stats.Stopped + stats.Forced + stats.Failed; terminal != accepted {
			t.Fatalf("Expected %d terminal sessions, got %d (%+v)", accepted, terminal, stats)
		}
		if stats.Started > accepted {
			t.Fatalf("Started %d exceeds accepted %d", stats.Started, accepted)
		}
		if stats.Active != 0 {
			t.Fatalf("Expected no active sessions, got %d", stats.Active)
		}
		if stats.PeakQueueDepth > cfg.QueueSize {
			t.Fatalf("Peak depth %d exceeds queue size %d", stats.PeakQueueDepth, cfg.QueueSize)
		}
		if stats.PeakLanes > cfg.laneLimit() {
			t.Fatalf("Peak lanes %d exceed limit %d", stats.PeakLanes, cfg.laneLimit())
		}
	})
}
