//
// Copyright 2024 The Kernel Core Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package bootctx

import (
	"bufio"
	"os"
	"strings"
)

// KVLoader reads one of the persisted, self-describing key-value tables
// the kernel consults but does not own (fstab, passwd, perms, autoload).
// The encoding is provider-defined; the kernel only requires a loader that
// returns rows of fields. Two implementations are provided: a file-backed
// one for production and an in-memory one for tests, mirroring the way the
// teacher splits IOOsFileService from IOMemFileService.
type KVLoader interface {
	// Load returns the table's rows, each split on whitespace into fields.
	// Blank lines and lines starting with '#' are skipped.
	Load(table string) ([][]string, error)
}

// FileKVLoader reads tables from a directory on the host filesystem
// (conventionally /etc).
type FileKVLoader struct {
	Dir string
}

func NewFileKVLoader(dir string) *FileKVLoader {
	return &FileKVLoader{Dir: dir}
}

func (l *FileKVLoader) Load(table string) ([][]string, error) {
	path := l.Dir + "/" + table
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var rows [][]string
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rows = append(rows, strings.Fields(line))
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return rows, nil
}

// MemKVLoader serves tables from an in-memory map, for unit tests that
// should not depend on the host's /etc.
type MemKVLoader struct {
	Tables map[string][][]string
}

func NewMemKVLoader() *MemKVLoader {
	return &MemKVLoader{Tables: make(map[string][][]string)}
}

func (l *MemKVLoader) Load(table string) ([][]string, error) {
	return l.Tables[table], nil
}

// PermEntry is one row of /etc/perms: a path permission map with an
// optional required ring.
type PermEntry struct {
	Path         string
	Mode         uint32
	RequiredRing string
}

// LoadPerms parses /etc/perms rows of the form "<path> <octal-mode>
// [ring]".
func LoadPerms(l KVLoader) ([]PermEntry, error) {
	rows, err := l.Load("perms")
	if err != nil {
		return nil, err
	}

	var entries []PermEntry
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		var mode uint32
		for _, c := range row[1] {
			if c < '0' || c > '7' {
				mode = 0
				break
			}
			mode = mode*8 + uint32(c-'0')
		}
		e := PermEntry{Path: row[0], Mode: mode}
		if len(row) >= 3 {
			e.RequiredRing = row[2]
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// AutoloadEntry is one row of /etc/autoload: a driver image path to load
// at boot, in order.
type AutoloadEntry struct {
	ImagePath string
}

func LoadAutoload(l KVLoader) ([]AutoloadEntry, error) {
	rows, err := l.Load("autoload")
	if err != nil {
		return nil, err
	}
	var entries []AutoloadEntry
	for _, row := range rows {
		if len(row) < 1 {
			continue
		}
		entries = append(entries, AutoloadEntry{ImagePath: row[0]})
	}
	return entries, nil
}
