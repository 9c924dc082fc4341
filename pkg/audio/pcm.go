package audio

import (
	"encoding/binary"
	"math"
)

// bitsPerSample is fixed: every buffer in the pipeline is int16 PCM.
const bitsPerSample = 16

// SamplesToBytes encodes int16 samples as little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// BytesToSamples decodes little-endian PCM into int16 samples. A trailing odd
// byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	out := make([]int16, len(pcm)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return out
}

// RMS returns the root-mean-square amplitude of little-endian int16 PCM.
// Empty input yields 0.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// EncodeWAV wraps raw int16 PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[44:], pcm)
	return buf
}

// Concat joins frames of identical format into one frame carrying the
// timestamp of the first. It returns the zero frame for empty input.
func Concat(frames []AudioFrame) AudioFrame {
	if len(frames) == 0 {
		return AudioFrame{}
	}
	size := 0
	for _, f := range frames {
		size += len(f.Data)
	}
	data := make([]byte, 0, size)
	for _, f := range frames {
		data = append(data, f.Data...)
	}
	return AudioFrame{
		Data:       data,
		SampleRate: frames[0].SampleRate,
		Channels:   frames[0].Channels,
		Timestamp:  frames[0].Timestamp,
	}
}

// Downmix averages interleaved channels into mono, clamping to the int16 range.
func Downmix(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	stride := channels * 2
	frames := len(pcm) / stride
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for c := range channels {
			off := i*stride + c*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(sum/int32(channels))))
	}
	return out
}

// ResampleMono resamples int16 mono PCM from srcRate to dstRate with linear
// interpolation. Equal or invalid rates return pcm unchanged.
func ResampleMono(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	src := BytesToSamples(pcm)
	dstLen := int(int64(len(src)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}
	ratio := float64(srcRate) / float64(dstRate)
	out := make([]byte, dstLen*2)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := pos - float64(idx)
		s0 := src[idx]
		s1 := s0
		if idx+1 < len(src) {
			s1 = src[idx+1]
		}
		v := float64(s0)*(1-frac) + float64(s1)*frac
		binary.LittleEndian.PutUint16(out[i*2:], uint16(clamp16(int32(math.Round(v)))))
	}
	return out
}

// Normalize converts frame to target, which must be mono. Down-mixing happens
// before resampling so only one channel is interpolated. Frames already in
// the target format are returned unchanged.
func Normalize(frame AudioFrame, target Format) AudioFrame {
	if frame.Format() == target {
		return frame
	}
	pcm := frame.Data
	if len(pcm)%2 != 0 {
		pcm = pcm[:len(pcm)-1]
	}
	pcm = Downmix(pcm, frame.Channels)
	pcm = ResampleMono(pcm, frame.SampleRate, target.SampleRate)
	return AudioFrame{
		Data:       pcm,
		SampleRate: target.SampleRate,
		Channels:   1,
		Timestamp:  frame.Timestamp,
	}
}

func clamp16(v int32) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
