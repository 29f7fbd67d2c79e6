/*
Package tfexamples encodes mixtures as tf.Examples in TFRecord files.

Every record holds one mixture: the mixed chunk, the unmixed chunks of its speakers and
their speaker indices, all as little endian byte strings.

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
package tfexamples

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/ryszard/tfutils/go/tfrecord"
	"google.golang.org/protobuf/proto"

	proto1 "github.com/golang/protobuf/proto"
	tf "github.com/ryszard/tfutils/proto/tensorflow/core/example"

	"github.com/google-research/mixprep/tools/dataset"
)

// Feature names.
const (
	ChunkSizeFeature  = "chunk_size"
	NbSpeakersFeature = "nb_speakers"
	MixFeature        = "mix"
	NonMixFeature     = "non_mix"
	IndFeature        = "ind"
)

// Record is one serialized mixture.
type Record struct {
	// Mix is the mixed chunk.
	Mix []float32
	// NonMix[slotIdx] is the unmixed chunk of the speaker in a slot.
	NonMix [][]float32
	// Ind[slotIdx] is the speaker index of the speaker in a slot.
	Ind []int64
}

// FromMixture converts a mixture to a record, narrowing samples to float32.
func FromMixture(m *dataset.Mixture) *Record {
	r := &Record{
		Mix:    toFloat32(m.Mix),
		NonMix: make([][]float32, len(m.Components)),
		Ind:    make([]int64, len(m.SpeakerIndices)),
	}
	for idx, component := range m.Components {
		r.NonMix[idx] = toFloat32(component)
	}
	for idx, speakerIdx := range m.SpeakerIndices {
		r.Ind[idx] = int64(speakerIdx)
	}
	return r
}

func toFloat32(f []float64) []float32 {
	result := make([]float32, len(f))
	for idx := range f {
		result[idx] = float32(f[idx])
	}
	return result
}

// ChunkSize returns the number of samples in the chunks of the record.
func (r *Record) ChunkSize() int {
	return len(r.Mix)
}

// NbSpeakers returns the number of speakers in the record.
func (r *Record) NbSpeakers() int {
	return len(r.NonMix)
}

func (r *Record) validate() error {
	if len(r.Ind) != len(r.NonMix) {
		return fmt.Errorf("%d speaker indices for %d speakers", len(r.Ind), len(r.NonMix))
	}
	for idx, component := range r.NonMix {
		if len(component) != len(r.Mix) {
			return fmt.Errorf("speaker %d has %d samples, the mix %d", idx, len(component), len(r.Mix))
		}
	}
	return nil
}

// EncodeFloats packs samples as little endian float32.
func EncodeFloats(samples []float32) []byte {
	result := make([]byte, 4*len(samples))
	for idx, sample := range samples {
		binary.LittleEndian.PutUint32(result[4*idx:], math.Float32bits(sample))
	}
	return result
}

// DecodeFloats unpacks little endian float32 samples.
func DecodeFloats(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of float32", len(b))
	}
	result := make([]float32, len(b)/4)
	for idx := range result {
		result[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*idx:]))
	}
	return result, nil
}

// EncodeInts packs values as little endian int64.
func EncodeInts(values []int64) []byte {
	result := make([]byte, 8*len(values))
	for idx, value := range values {
		binary.LittleEndian.PutUint64(result[8*idx:], uint64(value))
	}
	return result
}

// DecodeInts unpacks little endian int64 values.
func DecodeInts(b []byte) ([]int64, error) {
	if len(b)%8 != 0 {
		return nil, fmt.Errorf("%d bytes is not a whole number of int64", len(b))
	}
	result := make([]int64, len(b)/8)
	for idx := range result {
		result[idx] = int64(binary.LittleEndian.Uint64(b[8*idx:]))
	}
	return result, nil
}

func int64Feature(v int64) *tf.Feature {
	return &tf.Feature{Kind: &tf.Feature_Int64List{Int64List: &tf.Int64List{Value: []int64{v}}}}
}

func bytesFeature(b []byte) *tf.Feature {
	return &tf.Feature{Kind: &tf.Feature_BytesList{BytesList: &tf.BytesList{Value: [][]byte{b}}}}
}

// ToTFExample converts the record to a tf.Example.
func (r *Record) ToTFExample() (*tf.Example, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	nonMix := make([]float32, 0, len(r.Mix)*len(r.NonMix))
	for _, component := range r.NonMix {
		nonMix = append(nonMix, component...)
	}
	return &tf.Example{
		Features: &tf.Features{
			Feature: map[string]*tf.Feature{
				ChunkSizeFeature:  int64Feature(int64(len(r.Mix))),
				NbSpeakersFeature: int64Feature(int64(len(r.NonMix))),
				MixFeature:        bytesFeature(EncodeFloats(r.Mix)),
				NonMixFeature:     bytesFeature(EncodeFloats(nonMix)),
				IndFeature:        bytesFeature(EncodeInts(r.Ind)),
			},
		},
	}, nil
}

func getInt64(ex *tf.Example, name string) (int64, error) {
	f, found := ex.GetFeatures().GetFeature()[name]
	if !found {
		return 0, fmt.Errorf("missing feature %q", name)
	}
	values := f.GetInt64List().GetValue()
	if len(values) != 1 {
		return 0, fmt.Errorf("feature %q has %d int64 values, wanted 1", name, len(values))
	}
	return values[0], nil
}

func getBytes(ex *tf.Example, name string) ([]byte, error) {
	f, found := ex.GetFeatures().GetFeature()[name]
	if !found {
		return nil, fmt.Errorf("missing feature %q", name)
	}
	values := f.GetBytesList().GetValue()
	if len(values) != 1 {
		return nil, fmt.Errorf("feature %q has %d byte strings, wanted 1", name, len(values))
	}
	return values[0], nil
}

// FromTFExample decodes a record, checking that every feature is present and sized
// according to chunk_size and nb_speakers.
func FromTFExample(ex *tf.Example) (*Record, error) {
	chunkSize, err := getInt64(ex, ChunkSizeFeature)
	if err != nil {
		return nil, err
	}
	nbSpeakers, err := getInt64(ex, NbSpeakersFeature)
	if err != nil {
		return nil, err
	}
	if chunkSize < 0 || nbSpeakers < 0 {
		return nil, fmt.Errorf("negative shape %d x %d", nbSpeakers, chunkSize)
	}
	r := &Record{}
	b, err := getBytes(ex, MixFeature)
	if err != nil {
		return nil, err
	}
	if r.Mix, err = DecodeFloats(b); err != nil {
		return nil, fmt.Errorf("%v: %w", MixFeature, err)
	}
	if int64(len(r.Mix)) != chunkSize {
		return nil, fmt.Errorf("%v has %d samples, wanted %d", MixFeature, len(r.Mix), chunkSize)
	}
	// Both dimensions are bounded by decoded lengths before they are multiplied.
	if b, err = getBytes(ex, IndFeature); err != nil {
		return nil, err
	}
	if r.Ind, err = DecodeInts(b); err != nil {
		return nil, fmt.Errorf("%v: %w", IndFeature, err)
	}
	if int64(len(r.Ind)) != nbSpeakers {
		return nil, fmt.Errorf("%v has %d values, wanted %d", IndFeature, len(r.Ind), nbSpeakers)
	}
	if b, err = getBytes(ex, NonMixFeature); err != nil {
		return nil, err
	}
	nonMix, err := DecodeFloats(b)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", NonMixFeature, err)
	}
	if int64(len(nonMix)) != chunkSize*nbSpeakers {
		return nil, fmt.Errorf("%v has %d samples, wanted %d", NonMixFeature, len(nonMix), chunkSize*nbSpeakers)
	}
	r.NonMix = make([][]float32, nbSpeakers)
	for idx := range r.NonMix {
		r.NonMix[idx] = nonMix[int64(idx)*chunkSize : int64(idx+1)*chunkSize : int64(idx+1)*chunkSize]
	}
	return r, nil
}

// Marshal returns the protobuf encoding of the record's tf.Example.
func (r *Record) Marshal() ([]byte, error) {
	ex, err := r.ToTFExample()
	if err != nil {
		return nil, err
	}
	return proto.Marshal(proto1.MessageV2(ex))
}

// Unmarshal decodes a protobuf encoded tf.Example into a record.
func Unmarshal(b []byte) (*Record, error) {
	ex := &tf.Example{}
	if err := proto.Unmarshal(b, proto1.MessageV2(ex)); err != nil {
		return nil, err
	}
	return FromTFExample(ex)
}

// Writer writes records as TFRecord frames.
type Writer struct {
	w     io.Writer
	count int
}

// NewWriter returns a writer appending to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write appends one record.
func (w *Writer) Write(r *Record) error {
	encoded, err := r.Marshal()
	if err != nil {
		return err
	}
	if err := tfrecord.Write(w.w, encoded); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	return w.count
}

// Reader reads records from TFRecord frames.
type Reader struct {
	r     *fullReader
	count int
}

// fullReader fills every buffer it is given, since tfrecord.Read reads each part of a frame
// with a single Read call.
type fullReader struct {
	r    io.Reader
	read int64
}

func (f *fullReader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(f.r, p)
	f.read += int64(n)
	return n, err
}

// NewReader returns a reader of the frames in r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: &fullReader{r: r}}
}

// Read returns the next record, or io.EOF after the last one.
func (r *Reader) Read() (*Record, error) {
	start := r.r.read
	b, err := tfrecord.Read(r.r)
	if err != nil && r.r.read == start && (err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF)) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", r.count, err)
	}
	record, err := Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", r.count, err)
	}
	r.count++
	return record, nil
}
