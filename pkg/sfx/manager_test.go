package sfx

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/chime/internal/assets"
	"github.com/dgnsrekt/chime/internal/device"
	"github.com/dgnsrekt/chime/internal/sound/soundtest"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Backend = "mock"
	cfg.Warmup = false
	return cfg
}

func newTestManager(t *testing.T, cfg Config, mock *device.Mock) *Manager {
	t.Helper()
	if mock == nil {
		mock = device.NewMock(device.MockConfig{})
	}
	m, err := New(context.Background(), cfg, WithDevice(mock), WithLogger(log.New(io.Discard)))
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func waitIdle(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Wait(ctx))
}

func TestNew_PreloadsDefaultSet(t *testing.T) {
	m := newTestManager(t, testConfig(), nil)

	assert.Equal(t, assets.Names(), m.GetAvailableSounds())
	assert.Empty(t, m.PreloadErrors())

	data, ok := m.GetAudioData("AP_Engage")
	require.True(t, ok)
	assert.Equal(t, 22050, data.SampleRate)
	assert.Equal(t, 2, data.Channels, "mono sources are upmixed by default")
	assert.Positive(t, data.Frames())
}

func TestNew_NoDefaultsKeepsMono(t *testing.T) {
	dir := t.TempDir()
	path := soundtest.WriteWAV(t, dir, "beep.wav", 16000, 1, soundtest.Tone(16000, 1, 880, 1600))

	cfg := testConfig()
	cfg.NoDefaults = true
	cfg.ForceStereo = false
	cfg.Sounds = map[string]string{"beep": path}
	m := newTestManager(t, cfg, nil)

	assert.Equal(t, []string{"beep"}, m.GetAvailableSounds())
	data, ok := m.GetAudioData("beep")
	require.True(t, ok)
	assert.Equal(t, 1, data.Channels)
	assert.Equal(t, 1600, data.Frames())
	assert.Equal(t, 100*time.Millisecond, data.Duration())
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Lanes = 0
	_, err := New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNew_SoundsDir(t *testing.T) {
	dir := t.TempDir()
	soundtest.WriteWAV(t, dir, "door.wav", 8000, 1, soundtest.Tone(8000, 1, 300, 800))
	override := soundtest.WriteWAV(t, dir, "chime_single.wav", 8000, 2, soundtest.Tone(8000, 2, 600, 400))
	soundtest.WriteFile(t, dir, ManifestName, []byte("sounds:\n  door: door.wav\n  ghost: ghost.wav\n"))

	cfg := testConfig()
	cfg.SoundsDir = dir
	m := newTestManager(t, cfg, nil)

	info, ok := m.Info("chime_single")
	require.True(t, ok)
	assert.Equal(t, override, info.Source, "a file in sounds_dir overrides the bundled one")
	assert.Equal(t, 8000, info.SampleRate)

	info, ok = m.Info("AP_Engage")
	require.True(t, ok)
	assert.Equal(t, "AP_Engage.wav", info.Source, "missing bundled files fall back to the embedded copy")

	_, ok = m.Info("door")
	assert.True(t, ok)

	errs := m.PreloadErrors()
	require.Contains(t, errs, "ghost")
	assert.ErrorIs(t, errs["ghost"], ErrIO)
	assert.NotContains(t, m.GetAvailableSounds(), "ghost")
}

func TestNew_BadManifestIsReported(t *testing.T) {
	dir := t.TempDir()
	soundtest.WriteFile(t, dir, ManifestName, []byte("voices: {}\n"))

	cfg := testConfig()
	cfg.SoundsDir = dir
	m := newTestManager(t, cfg, nil)

	assert.Contains(t, m.PreloadErrors(), ManifestName)
	assert.Equal(t, assets.Names(), m.GetAvailableSounds())
}

func TestGetAudioData_CopySafe(t *testing.T) {
	m := newTestManager(t, testConfig(), nil)

	first, ok := m.GetAudioData("chime_hi_lo")
	require.True(t, ok)
	second, ok := m.GetAudioData("chime_hi_lo")
	require.True(t, ok)
	assert.Equal(t, first, second)

	for i := range first.Samples {
		first.Samples[i] = 42
	}
	third, _ := m.GetAudioData("chime_hi_lo")
	assert.Equal(t, second, third, "caller mutation leaked into the registry")

	_, ok = m.GetAudioData("nope")
	assert.False(t, ok)
}

func TestAddSound(t *testing.T) {
	dir := t.TempDir()
	good := soundtest.WriteWAV(t, dir, "good.wav", 22050, 1, soundtest.Tone(22050, 1, 440, 2205))
	corrupt := soundtest.WriteFile(t, dir, "corrupt.wav", []byte("RIFF\x00\x00\x00\x00WAVEnope"))

	m := newTestManager(t, testConfig(), nil)
	ctx := context.Background()

	require.NoError(t, m.AddSound(ctx, "custom", good))
	assert.Contains(t, m.GetAvailableSounds(), "custom")
	assert.True(t, m.PlaySound("custom"))
	before, _ := m.GetAudioData("custom")

	err := m.AddSound(ctx, "custom", corrupt)
	assert.ErrorIs(t, err, ErrDecode)
	after, ok := m.GetAudioData("custom")
	require.True(t, ok)
	assert.Equal(t, before, after, "failed load must keep the previous entry")

	err = m.AddSound(ctx, "other", filepath.Join(dir, "missing.wav"))
	assert.ErrorIs(t, err, ErrIO)
	assert.NotContains(t, m.GetAvailableSounds(), "other")

	err = m.AddSound(ctx, "bad name", good)
	assert.ErrorIs(t, err, ErrInvalidName)

	assert.True(t, m.RemoveSound("custom"))
	assert.False(t, m.RemoveSound("custom"))
	assert.False(t, m.PlaySound("custom"))
}

func TestAddSoundBytes(t *testing.T) {
	m := newTestManager(t, testConfig(), nil)
	data := soundtest.WAVBytes(t, 8000, 1, soundtest.Tone(8000, 1, 500, 80))

	require.NoError(t, m.AddSoundBytes(context.Background(), "blip", "blip.wav", data))
	info, ok := m.Info("blip")
	require.True(t, ok)
	assert.Equal(t, 80, info.Frames)
}

func TestPlaySound(t *testing.T) {
	mock := device.NewMock(device.MockConfig{})
	m := newTestManager(t, testConfig(), mock)

	assert.True(t, m.PlaySound("rec_start_voice"))
	assert.False(t, m.PlaySound("does_not_exist"))
	waitIdle(t, m)

	data, _ := m.GetAudioData("rec_start_voice")
	assert.Equal(t, data.Frames(), mock.FramesWritten())

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Finished)
	assert.Equal(t, int64(1), stats.NotFound)
	assert.Equal(t, len(assets.Names()), stats.Sounds)
	assert.Positive(t, stats.MemoryBytes)
	assert.Equal(t, "mock", stats.Device)
}

func TestEventHook(t *testing.T) {
	events := make(chan Event, 16)
	m, err := New(context.Background(), testConfig(),
		WithDevice(device.NewMock(device.MockConfig{})),
		WithLogger(log.New(io.Discard)),
		WithEventHook(func(ev Event) { events <- ev }))
	require.NoError(t, err)
	defer m.Close(context.Background()) //nolint:errcheck

	m.PlaySound("chime_single")

	var kinds []EventKind
	timeout := time.After(2 * time.Second)
	for len(kinds) < 2 {
		select {
		case ev := <-events:
			assert.Equal(t, "chime_single", ev.Name)
			kinds = append(kinds, ev.Kind)
		case <-timeout:
			t.Fatalf("Timed out waiting for events, got %v", kinds)
		}
	}
	assert.Equal(t, []EventKind{EventStarted, EventFinished}, kinds)
}

func TestStopAllSounds(t *testing.T) {
	mock := device.NewMock(device.MockConfig{Pace: 1})
	cfg := testConfig()
	cfg.BlockSize = 256
	m := newTestManager(t, cfg, mock)

	require.True(t, m.PlaySound("AP_Disengage"))
	require.True(t, m.PlaySound("chime_hi_lo"))
	require.Eventually(t, func() bool { return mock.FramesWritten() > 0 }, time.Second, time.Millisecond)

	report := m.StopAllSounds()
	assert.Equal(t, 2, report.Stopped+report.Forced)
	assert.Empty(t, m.Sessions())

	written := mock.FramesWritten()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, written, mock.FramesWritten())
}

func TestClose(t *testing.T) {
	mock := device.NewMock(device.MockConfig{})
	m, err := New(context.Background(), testConfig(), WithDevice(mock), WithLogger(log.New(io.Discard)))
	require.NoError(t, err)

	require.NoError(t, m.Close(context.Background()))
	require.NoError(t, m.Close(context.Background()))

	assert.False(t, m.PlaySound("chime_single"))
	assert.Empty(t, m.GetAvailableSounds())
	assert.ErrorIs(t, m.AddSound(context.Background(), "x", "x.wav"), ErrClosed)
	_, err = m.Play("chime_single")
	assert.ErrorIs(t, err, ErrClosed)

	_, err = mock.Open(8000, 1)
	assert.ErrorIs(t, err, ErrDevice, "device must be closed")
}

func TestSharedManager(t *testing.T) {
	t.Setenv("CHIME_BACKEND", "mock")
	t.Setenv("CHIME_WARMUP", "false")
	t.Cleanup(func() { _ = Shutdown(context.Background()) })

	first, err := Default()
	require.NoError(t, err)
	again, err := Default()
	require.NoError(t, err)
	assert.Same(t, first, again)

	assert.True(t, PlaySound("chime_single"))
	data, ok := GetAudioData("chime_single")
	assert.True(t, ok)
	assert.Positive(t, data.Frames())
	assert.Contains(t, GetAvailableSounds(), "NoA_Engage")
	StopAllSounds()

	require.NoError(t, Shutdown(context.Background()))
	assert.False(t, first.PlaySound("chime_single"))

	rebuilt, err := Default()
	require.NoError(t, err)
	assert.NotSame(t, first, rebuilt)
}

func TestSharedManager_ShutdownDuringBuild(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})

	var (
		mu    sync.Mutex
		built []*Manager
	)
	prev := newShared
	newShared = func() (*Manager, error) {
		m, err := New(context.Background(), testConfig(), WithDevice(device.NewMock(device.MockConfig{})), WithLogger(log.New(io.Discard)))
		if err != nil {
			return nil, err
		}
		mu.Lock()
		built = append(built, m)
		first := len(built) == 1
		mu.Unlock()
		if first {
			close(started)
			<-release
		}
		return m, nil
	}
	t.Cleanup(func() {
		newShared = prev
		_ = Shutdown(context.Background())
	})

	type result struct {
		m   *Manager
		err error
	}
	done := make(chan result, 1)
	go func() {
		m, err := Default()
		done <- result{m, err}
	}()

	<-started
	if err := Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	close(release)

	res := <-done
	if res.err != nil {
		t.Fatalf("Default failed: %v", res.err)
	}

	mu.Lock()
	if len(built) != 2 {
		mu.Unlock()
		t.Fatalf("Expected 2 builds, got %d", len(built))
	}
	stale := built[0]
	mu.Unlock()

	if res.m == stale {
		t.Fatal("Default returned the manager built before Shutdown")
	}
	if stale.PlaySound("chime_single") {
		t.Error("Manager built across Shutdown must be closed")
	}
	if !res.m.PlaySound("chime_single") {
		t.Error("Current shared manager must play")
	}

	again, err := Default()
	if err != nil || again != res.m {
		t.Errorf("Default() = %p, %v; want %p", again, err, res.m)
	}
}

func TestSoundTableResolvesHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	require.NoError(t, os.MkdirAll(filepath.Join(home, "sfx"), 0o755))
	soundtest.WriteFile(t, filepath.Join(home, "sfx"), ManifestName, []byte("sounds:\n  door: door.wav\n"))

	cfg := testConfig()
	cfg.SoundsDir = "~/sfx"
	cfg.NoDefaults = true
	table, err := cfg.SoundTable()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"door": "door.wav"}, table)
}
