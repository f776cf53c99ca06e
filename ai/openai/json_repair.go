// Copyright 2025 Poiesic Systems
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

package openai

// repairJSON fixes formatting mistakes small models make in JSON mode:
// a key missing its opening quote (`, file_name": ...`) and trailing commas
// before a closing brace or bracket. String contents are left untouched.
func repairJSON(s string) string {
	in := []rune(s)
	out := make([]rune, 0, len(in)+16)
	inString := false

	for i := 0; i < len(in); i++ {
		ch := in[i]

		if inString {
			out = append(out, ch)
			switch ch {
			case '\\':
				if i+1 < len(in) {
					i++
					out = append(out, in[i])
				}
			case '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
			out = append(out, ch)
		case ',':
			j := skipSpace(in, i+1)
			if j < len(in) && (in[j] == '}' || in[j] == ']') {
				// drop trailing comma
				continue
			}
			out = append(out, ch)
			out, i = quoteKey(in, out, i+1)
		case '{':
			out = append(out, ch)
			out, i = quoteKey(in, out, i+1)
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

// quoteKey copies whitespace starting at pos and, when it finds a bare key
// terminated by `":`, emits the missing opening quote. It returns the index
// of the last consumed rune.
func quoteKey(in, out []rune, pos int) ([]rune, int) {
	j := skipSpace(in, pos)
	out = append(out, in[pos:j]...)

	if j >= len(in) || !isLetter(in[j]) {
		return out, j - 1
	}

	k := j
	for k < len(in) && (isLetter(in[k]) || in[k] == '_') {
		k++
	}
	if k+1 < len(in) && in[k] == '"' && in[k+1] == ':' {
		out = append(out, '"')
		out = append(out, in[j:k+1]...)
		return out, k
	}
	out = append(out, in[j:k]...)
	return out, k - 1
}

func skipSpace(in []rune, pos int) int {
	for pos < len(in) && (in[pos] == ' ' || in[pos] == '\n' || in[pos] == '\t' || in[pos] == '\r') {
		pos++
	}
	return pos
}
