package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

const maxPapersListed = 20

// NewSearchAuthorTool looks authors up by name on the papers API.
func NewSearchAuthorTool(api ports.PapersAPI) *domain.Tool {
	return &domain.Tool{
		Name:        "search_author",
		Description: "Searches paper authors by name. Returns a JSON list of {id, full_name}. Use the returned id with get_author_papers.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]domain.ToolProperty{
				"name": {Type: "string", Description: "The name of the author to search for (e.g. 'Yann LeCun')."},
			},
			Required: []string{"name"},
		},
		Execute: func(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
			name, _ := args["name"].(string)
			name = strings.TrimSpace(name)
			if name == "" {
				return domain.ToolResult{}, fmt.Errorf("name must be a non-empty string")
			}

			page, err := api.SearchAuthors(ctx, name)
			if err != nil {
				return domain.ToolResult{}, err
			}
			if len(page.Results) == 0 {
				return domain.ToolResult{Content: fmt.Sprintf("No author matches %q.", name), Structured: page.Results}, nil
			}
			content, err := json.Marshal(page.Results)
			if err != nil {
				return domain.ToolResult{}, err
			}
			return domain.ToolResult{Content: string(content), Structured: page.Results}, nil
		},
	}
}

// paperDigest is the subset of a paper shown to the oracle.
type paperDigest struct {
	Title      string  `json:"title"`
	ArxivID    *string `json:"arxiv_id,omitempty"`
	URLAbs     string  `json:"url_abs,omitempty"`
	Published  string  `json:"published,omitempty"`
	Conference *string `json:"conference,omitempty"`
}

// NewAuthorPapersTool lists the papers of one author, by the author's API id.
func NewAuthorPapersTool(api ports.PapersAPI) *domain.Tool {
	return &domain.Tool{
		Name:        "get_author_papers",
		Description: "Gets the papers of an author by their id, as returned by search_author (e.g. 'yann-lecun'). Returns a JSON list of papers.",
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]domain.ToolProperty{
				"author_id": {Type: "string", Description: "The exact author id returned by search_author."},
			},
			Required: []string{"author_id"},
		},
		Execute: func(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
			id := argString(args["author_id"])
			if id == "" {
				return domain.ToolResult{}, fmt.Errorf("author_id must be a non-empty string")
			}

			page, err := api.AuthorPapers(ctx, id)
			if err != nil {
				return domain.ToolResult{}, err
			}

			digests := make([]paperDigest, 0, min(len(page.Results), maxPapersListed))
			for _, p := range page.Results {
				if len(digests) == maxPapersListed {
					break
				}
				digests = append(digests, paperDigest{
					Title:      p.Title,
					ArxivID:    p.ArxivID,
					URLAbs:     p.URLAbs,
					Published:  p.Published,
					Conference: p.Conference,
				})
			}
			if len(digests) == 0 {
				return domain.ToolResult{Content: fmt.Sprintf("Author %q has no papers listed.", id), Structured: page.Results}, nil
			}
			content, err := json.Marshal(digests)
			if err != nil {
				return domain.ToolResult{}, err
			}
			text := string(content)
			if page.Count > len(digests) {
				text += fmt.Sprintf("\n(%d of %d papers shown)", len(digests), page.Count)
			}
			return domain.ToolResult{Content: text, Structured: page.Results}, nil
		},
	}
}

// argString accepts strings and JSON numbers, since oracles often emit ids as numbers.
func argString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return fmt.Sprintf("%.0f", t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
