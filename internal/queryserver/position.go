// Copyright 2025 Tom Barlow
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

package queryserver

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// FindClassPosition locates the name in a `class Name` declaration.
func FindClassPosition(file, name string) (Position, error) {
	re := regexp.MustCompile(`\bclass\s+(` + regexp.QuoteMeta(name) + `)\b`)
	pos, found, err := findIdentifier(file, func(text string) []int {
		m := re.FindStringSubmatchIndex(text)
		if m == nil {
			return nil
		}
		return m[2:4]
	})
	if err != nil {
		return Position{}, err
	}
	if !found {
		return Position{}, fmt.Errorf("Class name '%s' not found", name)
	}
	return pos, nil
}

// declModifiers are the annotations that may precede a predicate
// declaration on the same line.
const declModifiers = `(?:(?:private|deprecated|override|cached|final|additional|abstract|external|` +
	`transient|library|query|signature|default|extensible|` +
	`(?:pragma|language|bindingset)\s*\[[^\]]*\])\s+)*`

// formulaKeywords start a formula, so `not isSafe(x)` or `and isSafe(x)`
// is a call, never a declaration.
var formulaKeywords = map[string]bool{
	"not": true, "and": true, "or": true, "implies": true, "if": true,
	"then": true, "else": true, "exists": true, "forall": true, "forex": true,
	"select": true, "where": true, "from": true, "result": true, "this": true,
	"import": true, "module": true, "class": true, "newtype": true, "instanceof": true,
}

// FindPredicatePosition locates the name in a predicate declaration, with
// or without a result type. The declaration must start its line, after
// any annotations.
func FindPredicatePosition(file, name string) (Position, error) {
	re := regexp.MustCompile(`^\s*` + declModifiers +
		`(predicate|[A-Za-z_][A-Za-z0-9_]*(?:::[A-Za-z_][A-Za-z0-9_]*)*)\s+(` +
		regexp.QuoteMeta(name) + `)\s*\(`)
	pos, found, err := findIdentifier(file, func(text string) []int {
		m := re.FindStringSubmatchIndex(text)
		if m == nil || formulaKeywords[text[m[2]:m[3]]] {
			return nil
		}
		return m[4:6]
	})
	if err != nil {
		return Position{}, err
	}
	if !found {
		return Position{}, fmt.Errorf("Predicate name '%s' not found", name)
	}
	return pos, nil
}

// FindSymbolPosition tries a class first, then a predicate.
func FindSymbolPosition(file, name string) (Position, error) {
	if pos, err := FindClassPosition(file, name); err == nil {
		return pos, nil
	} else if os.IsNotExist(err) {
		return Position{}, err
	}
	if pos, err := FindPredicatePosition(file, name); err == nil {
		return pos, nil
	}
	return Position{}, fmt.Errorf("Symbol '%s' not found in %s. Make sure the class or predicate name is correct.", name, file)
}

// findIdentifier returns the first non-comment line where match reports
// the [start, end) byte offsets of the identifier.
func findIdentifier(file string, match func(text string) []int) (Position, bool, error) {
	f, err := os.Open(file)
	if err != nil {
		return Position{}, false, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	inBlock := false
	for scanner.Scan() {
		line++
		text := scanner.Text()
		trimmed := strings.TrimSpace(text)

		if inBlock {
			if strings.Contains(trimmed, "*/") {
				inBlock = false
			}
			continue
		}
		if strings.HasPrefix(trimmed, "/*") {
			inBlock = !strings.Contains(trimmed[2:], "*/")
			continue
		}
		if strings.HasPrefix(trimmed, "//") || strings.HasPrefix(trimmed, "*") {
			continue
		}

		m := match(text)
		if m == nil {
			continue
		}
		start, end := m[0], m[1]
		return Position{
			FileName:  file,
			Line:      line,
			Column:    start + 1,
			EndLine:   line,
			EndColumn: end + 1,
		}, true, nil
	}
	if err := scanner.Err(); err != nil {
		return Position{}, false, err
	}
	return Position{}, false, nil
}
