// Copyright 2025 achetronic
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runner

import (
	"bufio"
	"fmt"
	"os"

	"github.com/achetronic/cliniq/internal/record"
)

// LoadCorpus reads a JSONL corpus file (one case per line) preserving file
// order. Duplicate ids keep the first occurrence; invalid lines are an error
// because a silently dropped case would skew the statistics.
func LoadCorpus(path string) ([]record.Case, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus %s: %w", path, err)
	}
	defer file.Close()

	var cases []record.Case
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var c record.Case
		if err := c.UnmarshalJSON(line); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", path, lineNo, err)
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("corpus %s line %d: %w", path, lineNo, err)
		}
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true
		cases = append(cases, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read corpus %s: %w", path, err)
	}
	if len(cases) == 0 {
		return nil, fmt.Errorf("corpus %s contains no cases", path)
	}
	return cases, nil
}
