/*
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
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

const speakersTXT = `; Some comment
;ID  |SEX| SUBSET           |MINUTES| NAME
14   | F | train-clean-360  | 25.03 | Kristin LeMoine
16   | F | train-clean-360  | 25.11 | Alys AtteWater
17   | M | train-clean-360  | 25.04 | Gord Mackenzie
84   | F | dev-clean        |  8.02 | Christie Nowak
174  | M | dev-clean        |  8.04 | Peter Dunn | with pipe
`

const chaptersTXT = `;ID    |READER|MINUTES| SUBSET           | PROJ.|BOOK ID| CH. TITLE | PROJECT TITLE
1     | 1116 |  15.61 | train-clean-360  | 5633 | 8086  | Chapter 1 | Book
121123| 84   |  7.01  | dev-clean        | 1    | 2     | x         | y
121550| 84   |  1.01  | dev-clean        | 1    | 2     | x         | y
84280 | 174  |  8.04  | dev-clean        | 1    | 2     | x         | y
`

func TestParseSpeakers(t *testing.T) {
	for _, tc := range []struct {
		desc   string
		subset string
		want   []*Speaker
	}{
		{
			desc:   "Filter on subset",
			subset: "dev-clean",
			want: []*Speaker{
				{Key: "84", Sex: Female, Subset: "dev-clean", Minutes: 8.02, Name: "Christie Nowak"},
				{Key: "174", Sex: Male, Subset: "dev-clean", Minutes: 8.04, Name: "Peter Dunn | with pipe"},
			},
		},
		{
			desc:   "No subset returns everything",
			subset: "",
			want: []*Speaker{
				{Key: "14", Sex: Female, Subset: "train-clean-360", Minutes: 25.03, Name: "Kristin LeMoine"},
				{Key: "16", Sex: Female, Subset: "train-clean-360", Minutes: 25.11, Name: "Alys AtteWater"},
				{Key: "17", Sex: Male, Subset: "train-clean-360", Minutes: 25.04, Name: "Gord Mackenzie"},
				{Key: "84", Sex: Female, Subset: "dev-clean", Minutes: 8.02, Name: "Christie Nowak"},
				{Key: "174", Sex: Male, Subset: "dev-clean", Minutes: 8.04, Name: "Peter Dunn | with pipe"},
			},
		},
	} {
		got, err := ParseSpeakers(strings.NewReader(speakersTXT), tc.subset)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("%v: ParseSpeakers(%q) diff: %v", tc.desc, tc.subset, diff)
		}
	}
}

func TestParseSpeakersRejectsBadSex(t *testing.T) {
	if _, err := ParseSpeakers(strings.NewReader("1 | X | dev-clean | 1.0 | x\n"), ""); err == nil {
		t.Errorf("ParseSpeakers accepted sex X")
	}
}

func TestLoadAttachesChapters(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "SPEAKERS.TXT"), []byte(speakersTXT), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "CHAPTERS.TXT"), []byte(chaptersTXT), 0644); err != nil {
		t.Fatal(err)
	}
	idx, err := Load(dir, "dev-clean")
	if err != nil {
		t.Fatal(err)
	}
	if got := idx.Len(); got != 2 {
		t.Fatalf("Load returned %v speakers, wanted 2", got)
	}
	if diff := cmp.Diff([]string{"121123", "121550"}, idx.Get("84").Chapters); diff != "" {
		t.Errorf("chapters of 84: %v", diff)
	}
	if diff := cmp.Diff([]string{"174"}, idx.KeysForSex(Male)); diff != "" {
		t.Errorf("KeysForSex(M): %v", diff)
	}
	if got := idx.Get("14"); got != nil {
		t.Errorf("speaker 14 is not in dev-clean but Get returned %+v", got)
	}
}

func TestSaveDecode(t *testing.T) {
	idx := NewIndex([]*Speaker{
		{Key: "b", Sex: Male, Chapters: []string{"1"}},
		{Key: "a", Sex: Female, Chapters: []string{"2", "3"}},
	})
	buf := &bytes.Buffer{}
	if err := idx.Save(buf); err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(buf)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(idx, decoded, cmpopts.IgnoreUnexported(Index{})); diff != "" {
		t.Errorf("Decode(Save(idx)) diff: %v", diff)
	}
	if decoded.Get("a") == nil {
		t.Errorf("decoded index has no lookup for a")
	}
}
