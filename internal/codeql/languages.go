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

package codeql

import (
	"sort"
	"strings"
)

// queryPackLanguages maps an accepted language name to the language of
// its standard query pack.
var queryPackLanguages = map[string]string{
	"python":     "python",
	"javascript": "javascript",
	"typescript": "javascript",
	"java":       "java",
	"kotlin":     "java",
	"csharp":     "csharp",
	"cpp":        "cpp",
	"c":          "cpp",
	"go":         "go",
	"ruby":       "ruby",
	"swift":      "swift",
	"rust":       "rust",
}

// displayLanguages names packs whose extractor covers several languages.
var displayLanguages = map[string]string{
	"javascript": "javascript-typescript",
	"java":       "java-kotlin",
	"cpp":        "c-cpp",
}

// defaultPacks is reported when installed packs cannot be listed.
var defaultPacks = map[string]string{
	"python":     "codeql/python-queries",
	"javascript": "codeql/javascript-queries",
	"java":       "codeql/java-queries",
	"csharp":     "codeql/csharp-queries",
	"cpp":        "codeql/cpp-queries",
	"go":         "codeql/go-queries",
	"ruby":       "codeql/ruby-queries",
}

// vulnerabilityPatterns groups security queries by keywords found in
// their path or file name.
var vulnerabilityPatterns = map[string][]string{
	"sql_injection":         {"sql", "injection", "sqli", "cwe-089"},
	"xss":                   {"xss", "cross-site", "scripting", "cwe-079"},
	"command_injection":     {"command", "injection", "exec", "cwe-078"},
	"path_traversal":        {"path", "traversal", "directory", "cwe-022"},
	"hardcoded_credentials": {"hardcoded", "credentials", "password", "cwe-798"},
	"csrf":                  {"csrf", "cross-site", "request", "forgery", "cwe-352"},
	"deserialization":       {"deserialization", "pickle", "unmarshal", "cwe-502"},
	"xxe":                   {"xxe", "xml", "external", "entity", "cwe-611"},
	"ldap_injection":        {"ldap", "injection", "cwe-090"},
	"code_injection":        {"code", "injection", "eval", "cwe-094"},
	"buffer_overflow":       {"buffer", "overflow", "bounds", "cwe-119", "cwe-120"},
	"use_after_free":        {"use", "after", "free", "cwe-416"},
	"null_pointer":          {"null", "pointer", "dereference", "cwe-476"},
	"integer_overflow":      {"integer", "overflow", "cwe-190"},
	"weak_crypto":           {"crypto", "cryptography", "weak", "md5", "sha1", "cwe-327"},
	"insecure_random":       {"random", "insecure", "predictable", "cwe-338"},
}

// Suite indexes within PackInfo.Suites.
const (
	SuiteCodeScanning = iota
	SuiteSecurityExtended
	SuiteSecurityAndQuality
)

// QueryPack returns the standard query pack for a language.
func QueryPack(language string) string {
	return "codeql/" + queryPackLanguages[language] + "-queries"
}

// DisplayLanguage returns the key list_query_packs uses for a pack language.
func DisplayLanguage(packLanguage string) string {
	if d, ok := displayLanguages[packLanguage]; ok {
		return d
	}
	return packLanguage
}

// suitesFor returns the three standard suites of a pack.
func suitesFor(pack, packLanguage string) []string {
	return []string{
		pack + ":codeql-suites/" + packLanguage + "-code-scanning.qls",
		pack + ":codeql-suites/" + packLanguage + "-security-extended.qls",
		pack + ":codeql-suites/" + packLanguage + "-security-and-quality.qls",
	}
}

// SupportedLanguages returns the accepted language names, sorted.
func SupportedLanguages() []string {
	return sortedKeys(queryPackLanguages)
}

// VulnerabilityTypes returns the accepted vulnerability types, sorted.
func VulnerabilityTypes() []string {
	return sortedKeys(vulnerabilityPatterns)
}

// matchesVulnerability reports whether any keyword of vulnType occurs in
// the lowercased path or file name.
func matchesVulnerability(vulnType, path, filename string) bool {
	path = strings.ToLower(path)
	filename = strings.ToLower(filename)
	for _, p := range vulnerabilityPatterns[vulnType] {
		if strings.Contains(path, p) || strings.Contains(filename, p) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
