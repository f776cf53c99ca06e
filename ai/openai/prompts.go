package openai

import (
	"fmt"
	"strings"
)

const jsonOutputTemplate = `%s

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.`

func buildSystemPrompt(instructions, schema string) string {
	instructions = strings.TrimSpace(instructions)
	if schema == "" {
		return instructions
	}
	return fmt.Sprintf(jsonOutputTemplate, instructions, schema)
}
