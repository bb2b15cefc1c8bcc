package device

import (
	"encoding/binary"
	"math"
)

// converter maps interleaved float32 frames from a source format to the
// device format. It keeps resampling state between calls so consecutive
// chunks join without clicks.
type converter struct {
	srcRate, dstRate int
	srcCh, dstCh     int

	step    float64
	pos     float64
	prev    []float32
	hasPrev bool
}

func newConverter(srcRate, srcCh, dstRate, dstCh int) *converter {
	return &converter{
		srcRate: srcRate,
		dstRate: dstRate,
		srcCh:   srcCh,
		dstCh:   dstCh,
		step:    float64(srcRate) / float64(dstRate),
		prev:    make([]float32, dstCh),
	}
}

// passthrough reports whether frames can be written unchanged.
func (c *converter) passthrough() bool {
	return c.srcRate == c.dstRate && c.srcCh == c.dstCh
}

// convert returns frames in the device format.
func (c *converter) convert(in []float32) []float32 {
	if c.passthrough() {
		return in
	}
	mapped := c.mapChannels(in)
	if c.srcRate == c.dstRate {
		return mapped
	}
	return c.resample(mapped)
}

func (c *converter) mapChannels(in []float32) []float32 {
	if c.srcCh == c.dstCh {
		return in
	}
	frames := len(in) / c.srcCh
	out := make([]float32, frames*c.dstCh)
	for f := 0; f < frames; f++ {
		src := in[f*c.srcCh : (f+1)*c.srcCh]
		dst := out[f*c.dstCh : (f+1)*c.dstCh]
		switch {
		case c.srcCh == 1:
			for k := range dst {
				dst[k] = src[0]
			}
		case c.dstCh == 1:
			var sum float32
			for _, v := range src {
				sum += v
			}
			dst[0] = sum / float32(c.srcCh)
		default:
			copy(dst, src)
		}
	}
	return out
}

// resample linearly interpolates between source frames. pos is measured
// in source frames relative to the current chunk; -1 addresses the last
// frame of the previous chunk.
func (c *converter) resample(in []float32) []float32 {
	ch := c.dstCh
	frames := len(in) / ch
	if frames == 0 {
		return nil
	}

	at := func(i, k int) float32 {
		if i < 0 {
			return c.prev[k]
		}
		return in[i*ch+k]
	}

	estimate := int(float64(frames)/c.step) + 1
	out := make([]float32, 0, estimate*ch)
	for {
		i := int(math.Floor(c.pos))
		if i+1 > frames-1 {
			break
		}
		if i < 0 && !c.hasPrev {
			c.pos = 0
			continue
		}
		frac := float32(c.pos - float64(i))
		for k := 0; k < ch; k++ {
			a, b := at(i, k), at(i+1, k)
			out = append(out, a+(b-a)*frac)
		}
		c.pos += c.step
	}

	c.pos -= float64(frames)
	copy(c.prev, in[(frames-1)*ch:])
	c.hasPrev = true
	return out
}

// int16LE encodes normalized samples as signed 16-bit little endian.
func int16LE(dst []byte, in []float32) []byte {
	dst = dst[:0]
	for _, s := range in {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(int16(s*math.MaxInt16)))
	}
	return dst
}
