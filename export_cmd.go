package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/dgnsrekt/chime/pkg/sfx"
)

type exportFormat string

const (
	formatRaw exportFormat = "raw"
	formatWAV exportFormat = "wav"
)

var (
	exportOutput     string
	exportFormatFlag string

	exportCmd = &cobra.Command{
		Use:   "export NAME",
		Short: "Write a sound's decoded samples to a file",
		Long: paragraph(fmt.Sprintf("\n%s the decoded samples of a sound. The raw format is interleaved 32-bit float little endian, the format speech and mixing pipelines consume. A .zst suffix compresses the output with zstd.",
			keyword("Export"))),
		Example: paragraph("chime export AP_Engage -o engage.f32\nchime export AP_Engage -o engage.f32.zst\nchime export AP_Engage -o engage.wav"),
		Args:    cobra.ExactArgs(1),
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
			data, ok := m.GetAudioData(name)
			if !ok {
				return errors.New(describePlayError(name, sfx.ErrNotFound, m.GetAvailableSounds()))
			}

			format, compress, err := resolveExportFormat(exportOutput, exportFormatFlag)
			if err != nil {
				return err
			}

			if exportOutput == "-" {
				return writeExport(os.Stdout, data, format, compress)
			}
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("unable to create output file: %w", err)
			}
			if err := writeExport(f, data, format, compress); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("unable to write output file: %w", err)
			}
			fmt.Fprintf(os.Stderr, "Wrote %s (%d Hz, %d ch, %d frames) to %s\n",
				keyword(name), data.SampleRate, data.Channels, data.Frames(), exportOutput)
			return nil
		},
	}
)

// resolveExportFormat picks the format from the flag, or from the file
// extension under an optional .zst suffix.
func resolveExportFormat(output, flag string) (exportFormat, bool, error) {
	compress := strings.EqualFold(filepath.Ext(output), ".zst")
	base := output
	if compress {
		base = strings.TrimSuffix(output, filepath.Ext(output))
	}

	switch exportFormat(strings.ToLower(flag)) {
	case formatRaw:
		return formatRaw, compress, nil
	case formatWAV:
		return formatWAV, compress, nil
	case "":
	default:
		return "", false, fmt.Errorf("unknown export format %q: use raw or wav", flag)
	}

	switch strings.ToLower(filepath.Ext(base)) {
	case ".wav", ".wave":
		return formatWAV, compress, nil
	default:
		return formatRaw, compress, nil
	}
}

func writeExport(w io.Writer, data sfx.AudioData, format exportFormat, compress bool) error {
	if compress {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("unable to create zstd encoder: %w", err)
		}
		if err := writeExport(enc, data, format, false); err != nil {
			_ = enc.Close()
			return err
		}
		if err := enc.Close(); err != nil {
			return fmt.Errorf("unable to finish zstd stream: %w", err)
		}
		return nil
	}

	switch format {
	case formatWAV:
		return writeWAV(w, data)
	default:
		return writeRaw(w, data.Samples)
	}
}

func writeRaw(w io.Writer, samples []float32) error {
	buf := make([]byte, 0, len(samples)*4)
	for _, s := range samples {
		buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(s))
	}
	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("unable to write samples: %w", err)
	}
	return nil
}

// writeWAV encodes 16-bit PCM. The wav encoder needs to seek back to
// patch the header, so it writes to a temporary in-memory file.
func writeWAV(w io.Writer, data sfx.AudioData) error {
	ints := make([]int, len(data.Samples))
	for i, s := range data.Samples {
		ints[i] = int(math.Round(float64(max(-1, min(1, s))) * math.MaxInt16))
	}

	ws := &writeSeeker{}
	enc := wav.NewEncoder(ws, data.SampleRate, 16, data.Channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: data.Channels, SampleRate: data.SampleRate},
		Data:           ints,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("unable to encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("unable to finish wav: %w", err)
	}
	if _, err := io.Copy(w, bytes.NewReader(ws.buf)); err != nil {
		return fmt.Errorf("unable to write wav: %w", err)
	}
	return nil
}

// writeSeeker is an in-memory io.WriteSeeker.
type writeSeeker struct {
	buf []byte
	pos int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if need := ws.pos + len(p); need > len(ws.buf) {
		ws.buf = append(ws.buf, make([]byte, need-len(ws.buf))...)
	}
	n := copy(ws.buf[ws.pos:], p)
	ws.pos += n
	return n, nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(ws.pos) + offset
	case io.SeekEnd:
		abs = int64(len(ws.buf)) + offset
	default:
		return 0, errors.New("invalid whence")
	}
	if abs < 0 {
		return 0, errors.New("negative position")
	}
	ws.pos = int(abs)
	return abs, nil
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "output file, or - for stdout")
	exportCmd.Flags().StringVarP(&exportFormatFlag, "format", "f", "", "raw or wav (default from the file extension)")
	_ = exportCmd.MarkFlagRequired("output")
}
