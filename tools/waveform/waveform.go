/*
Package waveform reads, writes, resamples and measures mono audio buffers.

 * Copyright 2020 Google LLC
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 *     Unless required by applicable law or agreed to in writing, software
 *     distributed under the License is distributed on an "AS IS" BASIS,
 *     WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *     See the License for the specific language governing permissions and
 *     limitations under the License.
 */
package waveform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"
	"github.com/tphakala/go-audio-resampling"
	"github.com/youpy/go-wav"
)

const (
	// FullScaleSinePower is 0.5 due to power = avg(sum(v^2)) - avg(v)^2.
	FullScaleSinePower Power = 0.5
)

// Hz is cycles per second.
type Hz float64

// Power is the signal power, which is equivalent to the variance ( avg(sum(v^2)) - avg(v)^2 ) of a signal.
type Power float64

// DB returns the power converted to Decibel.
func (p Power) DB() DB {
	return DB(10 * math.Log10(float64(p)))
}

// DB is power expressed on a logarithm scale.
type DB float64

// Power returns the power of this Decibel level.
func (d DB) Power() Power {
	return Power(math.Pow(10, float64(d/10)))
}

// Gain returns the gain of this Decibel level.
func (d DB) Gain() float64 {
	return math.Pow(10, float64(d/20))
}

// Float64Slice represents a sound buffer of floats, nominally between -1 and 1.
type Float64Slice []float64

// FromFloat32 widens float32 samples.
func FromFloat32(samples []float32) Float64Slice {
	result := make(Float64Slice, len(samples))
	for idx, sample := range samples {
		result[idx] = float64(sample)
	}
	return result
}

// ToFloat32 narrows the samples to float32.
func (f Float64Slice) ToFloat32() []float32 {
	result := make([]float32, len(f))
	for idx := range f {
		result[idx] = float32(f[idx])
	}
	return result
}

// EqTol returns whether the other float slice is equal to this one,
// within the given tolerance.
func (f Float64Slice) EqTol(o Float64Slice, tol float64) bool {
	if len(f) != len(o) {
		return false
	}
	for idx := range f {
		if math.Abs(f[idx]-o[idx]) > tol {
			return false
		}
	}
	return true
}

// ReadWAV decodes a WAV file, averaging all channels into one, and returns the
// samples and the sample rate.
func ReadWAV(r io.Reader) (Float64Slice, Hz, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, err
	}
	reader := wav.NewReader(bytes.NewReader(raw))
	format, err := reader.Format()
	if err != nil {
		return nil, 0, err
	}
	if format.NumChannels == 0 {
		return nil, 0, errors.New("WAV file without channels")
	}
	channels := uint(format.NumChannels)
	var buffer Float64Slice
	for {
		samples, err := reader.ReadSamples()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, 0, err
		}
		for _, sample := range samples {
			sum := 0.0
			for channel := uint(0); channel < channels; channel++ {
				sum += reader.FloatValue(sample, channel)
			}
			buffer = append(buffer, sum/float64(channels))
		}
	}
	return buffer, Hz(format.SampleRate), nil
}

// WriteWAV writes the samples as a mono 16 bit WAV file to a writer, declaring a given
// sample rate. Values outside -1.0 and 1.0 are clipped.
func (f Float64Slice) WriteWAV(w io.Writer, rate Hz) error {
	wavSamples := make([]wav.Sample, len(f))
	for idx := range f {
		val := int(math.Max(-1, math.Min(1, f[idx])) * float64(math.MaxInt16))
		wavSamples[idx] = wav.Sample{
			Values: [2]int{val, val},
		}
	}
	buf := &bytes.Buffer{}
	wavWriter := wav.NewWriter(buf, uint32(len(f)), 1, uint32(rate), 16)
	if err := wavWriter.WriteSamples(wavSamples); err != nil {
		return err
	}
	_, err := io.Copy(w, buf)
	return err
}

// Resample converts the samples from one rate to another. The result has
// round(len(f) * to / from) samples.
func (f Float64Slice) Resample(from, to Hz) (Float64Slice, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("can't resample from %v Hz to %v Hz", from, to)
	}
	if from == to {
		return append(Float64Slice(nil), f...), nil
	}
	resampler, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, err
	}
	want := int(math.Round(float64(len(f)) * float64(to) / float64(from)))
	output, err := resampler.Process(f)
	if err != nil {
		return nil, err
	}
	tail, err := resampler.Flush()
	if err != nil {
		return nil, err
	}
	output = append(output, tail...)
	// Samples beyond want at the head are filter delay.
	if delay := min(resampler.GetLatency(), len(output)-want); delay > 0 {
		output = output[delay:]
	}
	if len(output) > want {
		output = output[:want]
	}
	for len(output) < want {
		output = append(output, 0)
	}
	return output, nil
}

// SpectrumGains returns a slice with the gain (the complex absolute value) of the
// first half of the FFT of the slice.
func (f Float64Slice) SpectrumGains() Float64Slice {
	coefficients := fft.FFTReal(f)
	halfCoefficients := len(coefficients) / 2
	invBuffer := 1 / float64(len(f))
	gains := make(Float64Slice, halfCoefficients)
	for bin := range gains {
		gains[bin] = cmplx.Abs(coefficients[bin]) * invBuffer * 2
	}
	return gains
}

// DominantFrequency returns the center frequency of the strongest non DC bin of the spectrum.
func (f Float64Slice) DominantFrequency(rate Hz) Hz {
	gains := f.SpectrumGains()
	maxBin := 0
	for bin := 1; bin < len(gains); bin++ {
		if maxBin == 0 || gains[bin] > gains[maxBin] {
			maxBin = bin
		}
	}
	return Hz(float64(rate) * float64(maxBin) / float64(len(f)))
}

// PowerCalculator calculates power of signals.
type PowerCalculator struct {
	sum          float64
	sumOfSquares float64
	len          float64
}

// Feed feeds the calculator the next sample.
func (p *PowerCalculator) Feed(f float64) {
	p.sum += f
	p.sumOfSquares += f * f
	p.len++
}

// Power returns the power of the signal so far.
func (p *PowerCalculator) Power() Power {
	mean := p.sum / p.len
	return Power(p.sumOfSquares/p.len - mean*mean)
}

// Power returns the signal power of the slice.
func (f Float64Slice) Power() Power {
	pc := &PowerCalculator{}
	for _, val := range f {
		pc.Feed(val)
	}
	return pc.Power()
}

// DBFS returns the level of the slice relative to a full scale sine.
func (f Float64Slice) DBFS() DB {
	return f.Power().DB() - FullScaleSinePower.DB()
}

// AddLevel adds a number of Decibel to the signal.
func (f Float64Slice) AddLevel(d DB) {
	scale := d.Gain()
	for idx := range f {
		f[idx] *= scale
	}
}
