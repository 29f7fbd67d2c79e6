/* Package speakers contains the metadata index of a LibriSpeech style corpus:
 * which speakers exist, their sex, and which chapters they read.
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
package speakers

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sex is the sex tag of a speaker.
type Sex string

const (
	// Male speakers.
	Male Sex = "M"
	// Female speakers.
	Female Sex = "F"
)

// Valid returns whether s is one of the known tags.
func (s Sex) Valid() bool {
	return s == Male || s == Female
}

// Speaker describes one reader of the corpus.
type Speaker struct {
	// Key is the speaker ID used as the top level key in the audio store.
	Key string `yaml:"key"`
	// Sex is the sex tag of the speaker.
	Sex Sex `yaml:"sex"`
	// Subset is the corpus subset the speaker belongs to, e.g. "dev-clean".
	Subset string `yaml:"subset"`
	// Minutes is the amount of audio the corpus claims for the speaker.
	Minutes float64 `yaml:"minutes"`
	// Name is the name of the reader.
	Name string `yaml:"name"`
	// Chapters are the chapter IDs read by the speaker in the subset.
	Chapters []string `yaml:"chapters"`
}

// Index maps speaker keys to speakers.
type Index struct {
	Speakers []*Speaker `yaml:"speakers"`

	byKey map[string]*Speaker
}

// NewIndex returns an index containing the speakers, sorted by key.
func NewIndex(speakers []*Speaker) *Index {
	idx := &Index{Speakers: append([]*Speaker(nil), speakers...)}
	idx.reindex()
	return idx
}

func (i *Index) reindex() {
	sort.Slice(i.Speakers, func(a, b int) bool {
		return i.Speakers[a].Key < i.Speakers[b].Key
	})
	i.byKey = make(map[string]*Speaker, len(i.Speakers))
	for _, s := range i.Speakers {
		i.byKey[s.Key] = s
	}
}

// Get returns the speaker with the key, or nil.
func (i *Index) Get(key string) *Speaker {
	return i.byKey[key]
}

// Len returns the number of speakers in the index.
func (i *Index) Len() int {
	return len(i.Speakers)
}

// KeysForSex returns the sorted keys of all speakers of a sex.
func (i *Index) KeysForSex(sex Sex) []string {
	keys := []string{}
	for _, s := range i.Speakers {
		if s.Sex == sex {
			keys = append(keys, s.Key)
		}
	}
	return keys
}

// Save writes the index as YAML.
func (i *Index) Save(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(i); err != nil {
		return err
	}
	return enc.Close()
}

// Decode reads an index previously written by Save.
func Decode(r io.Reader) (*Index, error) {
	idx := &Index{}
	if err := yaml.NewDecoder(r).Decode(idx); err != nil {
		return nil, fmt.Errorf("decoding speaker index: %w", err)
	}
	for _, s := range idx.Speakers {
		if !s.Sex.Valid() {
			return nil, fmt.Errorf("speaker %q has invalid sex %q", s.Key, s.Sex)
		}
	}
	idx.reindex()
	return idx, nil
}

// splitRecord splits a '|' separated metadata line into at most n trimmed fields.
func splitRecord(line string, n int) []string {
	parts := strings.SplitN(line, "|", n)
	for idx := range parts {
		parts[idx] = strings.TrimSpace(parts[idx])
	}
	return parts
}

// ParseSpeakers parses a LibriSpeech SPEAKERS.TXT file. Lines starting with ';' are comments.
// Only speakers in subset are returned, unless subset is empty.
func ParseSpeakers(r io.Reader, subset string) ([]*Speaker, error) {
	result := []*Speaker{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		parts := splitRecord(line, 5)
		if len(parts) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 fields, got %d", lineNo, len(parts))
		}
		sex := Sex(parts[1])
		if !sex.Valid() {
			return nil, fmt.Errorf("line %d: invalid sex %q", lineNo, parts[1])
		}
		if subset != "" && parts[2] != subset {
			continue
		}
		minutes, err := strconv.ParseFloat(parts[3], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		speaker := &Speaker{
			Key:     parts[0],
			Sex:     sex,
			Subset:  parts[2],
			Minutes: minutes,
		}
		if len(parts) == 5 {
			speaker.Name = parts[4]
		}
		result = append(result, speaker)
	}
	return result, scanner.Err()
}

// ParseChapters parses a LibriSpeech CHAPTERS.TXT file and returns reader key -> chapter IDs
// for the chapters in subset (or all chapters if subset is empty).
func ParseChapters(r io.Reader, subset string) (map[string][]string, error) {
	result := map[string][]string{}
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") {
			continue
		}
		parts := splitRecord(line, 5)
		if len(parts) < 4 {
			return nil, fmt.Errorf("line %d: expected at least 4 fields, got %d", lineNo, len(parts))
		}
		if subset != "" && parts[3] != subset {
			continue
		}
		result[parts[1]] = append(result[parts[1]], parts[0])
	}
	return result, scanner.Err()
}

// Load reads SPEAKERS.TXT and CHAPTERS.TXT from the corpus root and returns the index of
// speakers in subset, with their chapters attached.
func Load(root, subset string) (*Index, error) {
	speakersFile, err := os.Open(filepath.Join(root, "SPEAKERS.TXT"))
	if err != nil {
		return nil, err
	}
	defer speakersFile.Close()
	speakers, err := ParseSpeakers(speakersFile, subset)
	if err != nil {
		return nil, fmt.Errorf("parsing %v: %w", speakersFile.Name(), err)
	}

	chaptersFile, err := os.Open(filepath.Join(root, "CHAPTERS.TXT"))
	if err != nil {
		return nil, err
	}
	defer chaptersFile.Close()
	chapters, err := ParseChapters(chaptersFile, subset)
	if err != nil {
		return nil, fmt.Errorf("parsing %v: %w", chaptersFile.Name(), err)
	}

	for _, s := range speakers {
		s.Chapters = chapters[s.Key]
		sort.Strings(s.Chapters)
	}
	return NewIndex(speakers), nil
}
