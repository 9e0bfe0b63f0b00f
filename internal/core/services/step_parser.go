package services

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/manthysbr/techscout/internal/core/domain"
)

var (
	finalAnswerRe = regexp.MustCompile(`(?ims)^[ \t>*-]*Final[ \t]*Answer[ \t]*:\s*(.*)`)
	thoughtRe     = regexp.MustCompile(`(?is)Thought\s*:\s*(.*?)(?:\n\s*(?:Action|Final\s*Answer)\s*:|$)`)
	actionLineRe  = regexp.MustCompile(`(?im)^[ \t>*-]*Action[ \t]*:[ \t]*(.*)$`)
	actionInputRe = regexp.MustCompile(`(?i)Action\s*Input\s*:\s*`)
	toolNameRe    = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_.\-]*`)
)

// ParseReply turns a raw oracle reply into a typed step.
// A final-answer marker at the start of a line wins over everything else. Otherwise every
// "Action:" block must carry a tool name and a JSON object in "Action Input:".
// On failure the returned ParsedReply still holds any thought that was found.
func ParseReply(reply string) (domain.ParsedReply, error) {
	var parsed domain.ParsedReply
	parsed.Thought = extractThought(reply)

	if m := finalAnswerRe.FindStringSubmatch(reply); len(m) > 1 {
		final := domain.FinalAnswer(strings.TrimSpace(m[1]))
		parsed.Final = &final
		return parsed, nil
	}

	locs := actionLineRe.FindAllStringSubmatchIndex(reply, -1)
	if len(locs) == 0 {
		return parsed, &domain.ParseError{Reason: domain.ParseMissingAction, Reply: reply}
	}

	for i, loc := range locs {
		rawName := strings.TrimSpace(reply[loc[2]:loc[3]])
		name := toolNameRe.FindString(strings.Trim(rawName, "`*\"'"))
		if name == "" {
			return parsed, &domain.ParseError{Reason: domain.ParseBlankTool, Detail: rawName, Reply: reply}
		}

		end := len(reply)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		args, err := extractActionInput(reply[loc[1]:end])
		if err != nil {
			return parsed, &domain.ParseError{Reason: domain.ParseBadArguments, Detail: err.Error(), Reply: reply}
		}
		parsed.Actions = append(parsed.Actions, domain.Action(name, args))
	}
	return parsed, nil
}

func extractThought(reply string) string {
	if m := thoughtRe.FindStringSubmatch(reply); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

type argsError string

func (e argsError) Error() string { return string(e) }

// extractActionInput finds "Action Input:" in block and decodes the JSON object after it,
// using brace-depth counting so nested objects and braces inside strings are handled.
func extractActionInput(block string) (map[string]any, error) {
	loc := actionInputRe.FindStringIndex(block)
	if loc == nil {
		return nil, argsError("missing Action Input")
	}

	rest := block[loc[1]:]
	start := strings.Index(rest, "{")
	if start < 0 {
		return nil, argsError("Action Input is not a JSON object")
	}

	depth := 0
	inStr := false
	escaped := false
	for i := start; i < len(rest); i++ {
		ch := rest[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inStr {
			escaped = true
			continue
		}
		if ch == '"' {
			inStr = !inStr
			continue
		}
		if inStr {
			continue
		}
		switch ch {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				var args map[string]any
				if err := json.Unmarshal([]byte(rest[start:i+1]), &args); err != nil {
					return nil, argsError("Action Input is not valid JSON: " + err.Error())
				}
				if args == nil {
					args = map[string]any{}
				}
				return args, nil
			}
		}
	}
	return nil, argsError("Action Input has unbalanced braces")
}
