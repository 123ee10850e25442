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

package ipc

// SectionBody backs ke_create_section / ke_map_section: a named memory
// region shared by every process that maps it. §4.4/§5 are explicit that
// sections carry no implicit locking — callers coordinate access with a
// mutex object of their own choosing — so this is nothing more than a
// byte slice every mapper gets the same reference to.
type SectionBody struct {
	Bytes []byte
}

// NewSection allocates a zeroed section of the given size.
func NewSection(size int) *SectionBody {
	return &SectionBody{Bytes: make([]byte, size)}
}

// Map returns the backing slice directly; every caller shares the same
// underlying array, exactly as mapping the same section into several
// processes would.
func (s *SectionBody) Map() []byte {
	return s.Bytes
}
