package sfx

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

var (
	sharedMu   sync.Mutex
	sharedOnce = new(sync.Once)
	shared     *Manager
	sharedErr  error
)

// newShared builds the shared manager.
var newShared = func() (*Manager, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return New(context.Background(), cfg)
}

// Default returns the process-wide manager, building it from
// ConfigFromEnv on first use. A failed build is remembered until
// Shutdown.
func Default() (*Manager, error) {
	for {
		sharedMu.Lock()
		once := sharedOnce
		sharedMu.Unlock()

		once.Do(func() {
			m, err := newShared()

			sharedMu.Lock()
			if sharedOnce != once {
				// Shutdown ran while building; this manager belongs to
				// nobody.
				sharedMu.Unlock()
				if m != nil {
					closeStale(m)
				}
				return
			}
			shared, sharedErr = m, err
			sharedMu.Unlock()
		})

		sharedMu.Lock()
		if sharedOnce == once {
			m, err := shared, sharedErr
			sharedMu.Unlock()
			return m, err
		}
		sharedMu.Unlock()
	}
}

func closeStale(m *Manager) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Close(ctx); err != nil {
		log.Warn("Discarded sound manager did not shut down cleanly", "error", err)
	}
}

// Shutdown closes the shared manager. A later Default call builds a new
// one.
func Shutdown(ctx context.Context) error {
	sharedMu.Lock()
	m := shared
	shared, sharedErr = nil, nil
	sharedOnce = new(sync.Once)
	sharedMu.Unlock()

	if m == nil {
		return nil
	}
	return m.Close(ctx)
}

// PlaySound plays name on the shared manager.
func PlaySound(name string) bool {
	m, err := Default()
	if err != nil {
		log.Error("Sound manager unavailable", "error", err)
		return false
	}
	return m.PlaySound(name)
}

// GetAudioData returns a copy of name's samples from the shared manager.
func GetAudioData(name string) (AudioData, bool) {
	m, err := Default()
	if err != nil {
		log.Error("Sound manager unavailable", "error", err)
		return AudioData{}, false
	}
	return m.GetAudioData(name)
}

// GetAvailableSounds lists the shared manager's sounds.
func GetAvailableSounds() []string {
	m, err := Default()
	if err != nil {
		log.Error("Sound manager unavailable", "error", err)
		return nil
	}
	return m.GetAvailableSounds()
}

// StopAllSounds stops everything on the shared manager.
func StopAllSounds() StopReport {
	m, err := Default()
	if err != nil {
		return StopReport{}
	}
	return m.StopAllSounds()
}
