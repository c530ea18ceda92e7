package audio

import (
	"math"
	"testing"
)

func sine(rate int, freq float64, n int, phase int) []int16 {
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		t := float64(phase+i) / float64(rate)
		out[i] = int16(12000 * math.Sin(2*math.Pi*freq*t))
	}
	return out
}

func TestResamplerChunkingInvariance(t *testing.T) {
	const nativeRate, targetRate = 48000, 16000
	input := sine(nativeRate, 440, 48000, 0)

	whole := NewResampler(nativeRate, targetRate).Process(input)

	for _, chunkSize := range []int{160, 1024, 2048, 4096, 7001} {
		r := NewResampler(nativeRate, targetRate)
		var chunked []int16
		for off := 0; off < len(input); off += chunkSize {
			end := off + chunkSize
			if end > len(input) {
				end = len(input)
			}
			chunked = append(chunked, r.Process(input[off:end])...)
		}

		if len(chunked) != len(whole) {
			t.Fatalf("chunk size %d: got %d samples, single pass got %d",
				chunkSize, len(chunked), len(whole))
		}
		for i := range whole {
			if chunked[i] != whole[i] {
				t.Fatalf("chunk size %d: sample %d differs: %d vs %d",
					chunkSize, i, chunked[i], whole[i])
			}
		}
	}
}

func TestResamplerOutputLength(t *testing.T) {
	const nativeRate, targetRate = 48000, 16000
	r := NewResampler(nativeRate, targetRate)

	var total int
	for i := 0; i < 100; i++ {
		total += len(r.Process(make([]int16, 4096)))
	}

	want := 100 * 4096 * targetRate / nativeRate
	if total < want-2 || total > want+2 {
		t.Errorf("produced %d samples, expected about %d", total, want)
	}
}

func TestResamplerPreservesTone(t *testing.T) {
	const nativeRate, targetRate = 48000, 16000
	input := sine(nativeRate, 440, 9600, 0)

	out := NewResampler(nativeRate, targetRate).Process(input)

	// A 440 Hz tone survives 48k -> 16k linear interpolation nearly
	// unchanged. Output k reads the input one native sample behind the
	// k*3 grid point, so the reference is offset accordingly.
	var maxDiff int
	for i := 1; i < len(out); i++ {
		t0 := float64(3*i-1) / float64(nativeRate)
		ref := int16(12000 * math.Sin(2*math.Pi*440*t0))
		d := int(out[i]) - int(ref)
		if d < 0 {
			d = -d
		}
		if d > maxDiff {
			maxDiff = d
		}
	}
	if maxDiff > 4 {
		t.Errorf("resampled tone deviates by %d from reference", maxDiff)
	}
}

func TestDecodeS16LE(t *testing.T) {
	data := []byte{0x01, 0x00, 0xFF, 0xFF, 0x00, 0x80, 0xAB}
	got := DecodeS16LE(data)
	want := []int16{1, -1, -32768}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, expected %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %d, expected %d", i, got[i], want[i])
		}
	}
}

func TestDownmixStereo(t *testing.T) {
	in := []int16{100, 200, -50, 50}
	got := Downmix(in, 2)
	if len(got) != 2 || got[0] != 150 || got[1] != 0 {
		t.Errorf("got %v, expected [150 0]", got)
	}
}

func TestRMS(t *testing.T) {
	if RMS(nil) != 0 {
		t.Error("empty window should meter zero")
	}
	if RMS(make([]int16, 100)) != 0 {
		t.Error("silence should meter zero")
	}
	level := RMS(sine(16000, 440, 1600, 0))
	if level < 0.2 || level > 0.4 {
		t.Errorf("tone level = %g, expected around 0.26", level)
	}
}
