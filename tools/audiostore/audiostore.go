/* Package audiostore contains a BadgerDB backed store of raw speaker audio.
 *
 * Audio is keyed by speaker and file name, and stored as little endian float32
 * samples so that fixed size chunks can be read without decoding whole files.
 *
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
package audiostore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/sirupsen/logrus"

	"github.com/google-research/mixprep/tools/speakers"
)

const (
	sep          = ':'
	audioSpace   = "audio"
	lengthSpace  = "length"
	metaSpace    = "meta"
	indexName    = "index"
	bytesPerSamp = 4
)

var (
	// ErrNotFound is returned when a key doesn't exist in the store.
	ErrNotFound = errors.New("audiostore: not found")
	// ErrOutOfRange is returned when a slice read reaches outside the stored samples.
	ErrOutOfRange = errors.New("audiostore: slice out of range")
)

// Key is a hierarchical key, encoded with ':' between the segments.
type Key []string

func (k Key) encode() []byte {
	return []byte(strings.Join(k, string(sep)))
}

func (k Key) String() string {
	return string(k.encode())
}

func decodeKey(b []byte) Key {
	return Key(strings.Split(string(b), string(sep)))
}

// Entry is a key and its value.
type Entry struct {
	Key   Key
	Value []byte
}

// File describes one stored recording.
type File struct {
	// Name is the file name under the speaker.
	Name string
	// Length is the number of samples in the file.
	Length int
}

// Options configures Open.
type Options struct {
	// Dir is the directory of the database. Required unless InMemory.
	Dir string
	// InMemory runs the database without persistence, useful in tests.
	InMemory bool
	// Logger receives badger warnings and errors. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger
}

// Store is a BadgerDB backed audio store. It is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// Open opens or creates the store. Badger holds a lock on Dir until Close, so only
// one process at a time can have a store open for writing.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("audiostore: Options.Dir is required unless InMemory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).
		WithCompression(options.ZSTD).
		WithLogger(badgerLogger{logger.WithField("component", "badger")})
	if opts.InMemory {
		dbOpts = badger.DefaultOptions("").
			WithInMemory(true).
			WithLogger(badgerLogger{logger.WithField("component", "badger")})
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("opening audio store %q: %w", opts.Dir, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func audioKey(speaker, file string) Key {
	return Key{audioSpace, speaker, file}
}

// EncodeSamples returns the little endian float32 encoding of samples.
func EncodeSamples(samples []float32) []byte {
	b := make([]byte, len(samples)*bytesPerSamp)
	for idx, v := range samples {
		binary.LittleEndian.PutUint32(b[idx*bytesPerSamp:], math.Float32bits(v))
	}
	return b
}

// DecodeSamples decodes little endian float32 samples.
func DecodeSamples(b []byte) ([]float32, error) {
	if len(b)%bytesPerSamp != 0 {
		return nil, fmt.Errorf("audiostore: %d bytes is not a whole number of samples", len(b))
	}
	samples := make([]float32, len(b)/bytesPerSamp)
	for idx := range samples {
		samples[idx] = math.Float32frombits(binary.LittleEndian.Uint32(b[idx*bytesPerSamp:]))
	}
	return samples, nil
}

// PutAudio stores the samples of one file of a speaker, replacing any previous value.
// The sample count is stored in the same transaction so listing never touches audio.
func (s *Store) PutAudio(_ context.Context, speaker, file string, samples []float32) error {
	length := make([]byte, 8)
	binary.LittleEndian.PutUint64(length, uint64(len(samples)))
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(audioKey(speaker, file).encode(), EncodeSamples(samples)); err != nil {
			return err
		}
		return txn.Set(Key{lengthSpace, speaker, file}.encode(), length)
	})
}

// Files returns the files stored for a speaker in lexicographic order.
func (s *Store) Files(_ context.Context, speaker string) ([]File, error) {
	prefix := Key{lengthSpace, speaker, ""}.encode()
	result := []File{}
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), prefix))
			err := item.Value(func(val []byte) error {
				if len(val) != 8 {
					return fmt.Errorf("audiostore: corrupt length for %v/%v", speaker, name)
				}
				result = append(result, File{
					Name:   name,
					Length: int(binary.LittleEndian.Uint64(val)),
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return result, err
}

// Speakers returns the keys of all speakers with stored audio.
func (s *Store) Speakers(ctx context.Context) ([]string, error) {
	prefix := append(Key{lengthSpace}.encode(), sep)
	seen := map[string]bool{}
	result := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		iterOpts := badger.DefaultIteratorOptions
		iterOpts.PrefetchValues = false
		iterOpts.Prefix = prefix
		it := txn.NewIterator(iterOpts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := decodeKey(it.Item().Key())
			if len(key) < 3 || seen[key[1]] {
				continue
			}
			seen[key[1]] = true
			result = append(result, key[1])
		}
		return nil
	})
	return result, err
}

// ReadSlice returns length samples starting at offset from a stored file.
// Only the requested bytes are copied out of the database.
func (s *Store) ReadSlice(_ context.Context, speaker, file string, offset, length int) ([]float32, error) {
	if offset < 0 || length < 0 {
		return nil, fmt.Errorf("%w: offset %d length %d", ErrOutOfRange, offset, length)
	}
	k := audioKey(speaker, file)
	var result []float32
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k.encode())
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			from := offset * bytesPerSamp
			to := (offset + length) * bytesPerSamp
			if to > len(val) {
				return fmt.Errorf("%w: %v has %d samples, wanted [%d, %d)", ErrOutOfRange, k, len(val)/bytesPerSamp, offset, offset+length)
			}
			var derr error
			result, derr = DecodeSamples(val[from:to])
			return derr
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, k)
	}
	return result, err
}

// PutIndex stores the speaker metadata index next to the audio.
func (s *Store) PutIndex(ctx context.Context, idx *speakers.Index) error {
	buf := &bytes.Buffer{}
	if err := idx.Save(buf); err != nil {
		return err
	}
	return s.Set(ctx, Key{metaSpace, indexName}, buf.Bytes())
}

// Index returns the speaker metadata index stored by PutIndex.
func (s *Store) Index(ctx context.Context) (*speakers.Index, error) {
	b, err := s.Get(ctx, Key{metaSpace, indexName})
	if err != nil {
		return nil, err
	}
	return speakers.Decode(bytes.NewReader(b))
}

// Get returns the value of a key, or ErrNotFound.
func (s *Store) Get(_ context.Context, key Key) ([]byte, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key.encode())
		if err != nil {
			return err
		}
		val, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, key)
	}
	return val, err
}

// Set stores a value, replacing any previous value.
func (s *Store) Set(_ context.Context, key Key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key.encode(), value)
	})
}

// BatchSet stores many values using a single badger write batch.
func (s *Store) BatchSet(_ context.Context, entries []Entry) error {
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, e := range entries {
		if err := wb.Set(e.Key.encode(), e.Value); err != nil {
			return err
		}
	}
	return wb.Flush()
}

// List iterates over all entries below prefix in lexicographic key order.
func (s *Store) List(_ context.Context, prefix Key) iter.Seq2[Entry, error] {
	p := append(prefix.encode(), sep)
	return func(yield func(Entry, error) bool) {
		err := s.db.View(func(txn *badger.Txn) error {
			iterOpts := badger.DefaultIteratorOptions
			iterOpts.Prefix = p
			it := txn.NewIterator(iterOpts)
			defer it.Close()
			for it.Seek(p); it.ValidForPrefix(p); it.Next() {
				item := it.Item()
				val, err := item.ValueCopy(nil)
				if err != nil {
					if !yield(Entry{}, err) {
						return nil
					}
					continue
				}
				if !yield(Entry{Key: decodeKey(item.KeyCopy(nil)), Value: val}, nil) {
					return nil
				}
			}
			return nil
		})
		if err != nil {
			yield(Entry{}, err)
		}
	}
}

// badgerLogger routes badger output to logrus, dropping info and debug chatter.
type badgerLogger struct {
	logrus.FieldLogger
}

func (b badgerLogger) Errorf(f string, v ...interface{})   { b.FieldLogger.Errorf(f, v...) }
func (b badgerLogger) Warningf(f string, v ...interface{}) { b.FieldLogger.Warnf(f, v...) }
func (b badgerLogger) Infof(string, ...interface{})        {}
func (b badgerLogger) Debugf(string, ...interface{})       {}
