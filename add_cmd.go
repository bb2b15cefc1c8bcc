package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/chime/internal/decode"
	"github.com/dgnsrekt/chime/internal/sound"
	"github.com/dgnsrekt/chime/pkg/sfx"
)

var (
	addSave bool

	addCmd = &cobra.Command{
		Use:   "add NAME PATH",
		Short: "Check that a sound file decodes, optionally saving it",
		Long: paragraph(fmt.Sprintf("\n%s PATH the same way chime loads sounds and reports its format. With --save the file is copied into sounds_dir and registered as NAME in its sounds.yaml.",
			keyword("Decode"))),
		Example: paragraph("chime add door ~/Downloads/door.wav\nchime add door ~/Downloads/door.wav --save --sounds-dir ~/sfx"),
		Args:    cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			name, path := args[0], args[1]
			if err := sound.ValidateName(name); err != nil {
				return err
			}
			path, err := homedir.Expand(path)
			if err != nil {
				return err //nolint:wrapcheck
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			codec := decode.New(cfg.ForceStereo)
			if cfg.MaxSourceBytes > 0 {
				codec.MaxSourceBytes = cfg.MaxSourceBytes
			}
			pcm, err := codec.DecodeFile(path)
			if err != nil {
				return err //nolint:wrapcheck
			}
			asset, err := sound.NewAsset(name, path, pcm)
			if err != nil {
				return err //nolint:wrapcheck
			}
			writeSoundInfo(os.Stdout, sfx.SoundInfo{
				Name:       asset.Name(),
				Source:     asset.Source(),
				SampleRate: asset.SampleRate(),
				Channels:   asset.Channels(),
				Frames:     asset.Frames(),
				Duration:   asset.Duration(),
				SizeBytes:  asset.SizeBytes(),
				LoadedAt:   asset.LoadedAt(),
			}, measure(asset.PCM()))

			if !addSave {
				return nil
			}
			if cfg.SoundsDir == "" {
				return errors.New("--save needs a sounds dir: set sounds_dir in the config or pass --sounds-dir")
			}
			dest, err := saveSound(cfg.SoundsDir, name, path)
			if err != nil {
				return err
			}
			fmt.Printf("\nSaved %s to %s\n", keyword(name), dest)
			return nil
		},
	}
)

// saveSound copies src into dir and maps name to it in dir's manifest.
func saveSound(dir, name, src string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec
		return "", fmt.Errorf("unable to create sounds dir: %w", err)
	}

	file := name + filepath.Ext(src)
	dest := filepath.Join(dir, file)
	if err := copyFile(src, dest); err != nil {
		return "", err
	}

	manifestPath := filepath.Join(dir, sfx.ManifestName)
	manifest, err := sfx.LoadManifest(manifestPath)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}
	if manifest.Sounds == nil {
		manifest.Sounds = make(map[string]string)
	}
	manifest.Sounds[name] = file

	data, err := manifest.Marshal()
	if err != nil {
		return "", fmt.Errorf("unable to encode manifest: %w", err)
	}
	if err := os.WriteFile(manifestPath, data, 0o644); err != nil { //nolint:gosec
		return "", fmt.Errorf("unable to write manifest: %w", err)
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	if abs, err := filepath.Abs(src); err == nil {
		if absDest, err := filepath.Abs(dest); err == nil && abs == absDest {
			return nil
		}
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("unable to open file: %w", err)
	}
	defer in.Close() //nolint:errcheck

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("unable to create file: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("unable to copy file: %w", err)
	}
	return out.Close() //nolint:wrapcheck
}

func init() {
	addCmd.Flags().BoolVar(&addSave, "save", false, "copy the file into sounds_dir and register it in sounds.yaml")
}
