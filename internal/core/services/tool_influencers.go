package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/manthysbr/techscout/internal/core/ports"
)

// MaxQueryRows bounds the rows select_from_db hands back to the oracle.
const MaxQueryRows = 50

// InfluencersSchema describes the influencers table to the oracle.
const InfluencersSchema = `Table influencers:
- id: INTEGER
- rank: INTEGER (optional) - rank of the influencer
- name: VARCHAR - name of the influencer
- bio: VARCHAR - short bio
- twitter_username: VARCHAR (optional)
- nb_twitter_followers: BIGINT - follower count, e.g. 1200000
- type: VARCHAR (optional) - audience size: 'Mega', 'Macro', 'Micro' or 'Nano'
- gender: VARCHAR (optional)
- links: VARCHAR[] - links to the influencer's websites`

// NewSelectFromDBTool runs read-only SQL against the AI personalities table.
func NewSelectFromDBTool(store ports.InfluencerStore) *domain.Tool {
	return &domain.Tool{
		Name: "select_from_db",
		Description: "Queries the AI personalities database with a read-only SQL SELECT (DuckDB dialect). " +
			"Returns at most 50 rows as a table.\n" + InfluencersSchema,
		Parameters: domain.ToolParameters{
			Type: "object",
			Properties: map[string]domain.ToolProperty{
				"query": {Type: "string", Description: "The raw SQL SELECT query to execute."},
			},
			Required: []string{"query"},
		},
		Execute: func(ctx context.Context, args map[string]any) (domain.ToolResult, error) {
			query, _ := args["query"].(string)
			if err := CheckReadOnly(query); err != nil {
				return domain.ToolResult{}, err
			}

			res, err := store.SelectInfluencers(ctx, query, MaxQueryRows)
			if err != nil {
				return domain.ToolResult{}, err
			}
			return domain.ToolResult{Content: FormatTable(res), Structured: res.Rows}, nil
		},
	}
}

// CheckReadOnly accepts a single SELECT or WITH statement. String literals,
// quoted identifiers and comments are skipped when looking for keywords and
// statement separators.
func CheckReadOnly(query string) error {
	code := strings.TrimSpace(stripSQLLiterals(query))
	code = strings.TrimSpace(strings.TrimRight(code, "; \n\t"))
	if code == "" {
		return fmt.Errorf("query must be a non-empty string")
	}
	if strings.Contains(code, ";") {
		return fmt.Errorf("%w: multiple statements", domain.ErrReadOnlyQuery)
	}
	first := strings.ToUpper(strings.Fields(code)[0])
	if first != "SELECT" && first != "WITH" {
		return fmt.Errorf("%w: got %s", domain.ErrReadOnlyQuery, first)
	}
	return nil
}

// stripSQLLiterals blanks out quoted text and comments, leaving the code.
func stripSQLLiterals(q string) string {
	var b strings.Builder
	for i := 0; i < len(q); i++ {
		switch {
		case q[i] == '\'' || q[i] == '"':
			quote := q[i]
			for i++; i < len(q); i++ {
				if q[i] == quote {
					if i+1 < len(q) && q[i+1] == quote {
						i++
						continue
					}
					break
				}
			}
			b.WriteByte(' ')
		case strings.HasPrefix(q[i:], "--"):
			end := strings.IndexByte(q[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end
			b.WriteByte(' ')
		case strings.HasPrefix(q[i:], "/*"):
			end := strings.Index(q[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += end + 3
			b.WriteByte(' ')
		default:
			b.WriteByte(q[i])
		}
	}
	return b.String()
}

// FormatTable renders a query result as a pipe-separated table.
func FormatTable(res domain.QueryResult) string {
	if len(res.Rows) == 0 {
		return "(no rows)"
	}
	var b strings.Builder
	b.WriteString(strings.Join(res.Columns, " | "))
	b.WriteString("\n")
	for _, row := range res.Rows {
		cells := make([]string, len(res.Columns))
		for i, col := range res.Columns {
			cells[i] = formatCell(row[col])
		}
		b.WriteString(strings.Join(cells, " | "))
		b.WriteString("\n")
	}
	if res.Truncated {
		fmt.Fprintf(&b, "(truncated to %d rows)\n", len(res.Rows))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatCell(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strings.ReplaceAll(t, "\n", " ")
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = formatCell(p)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("%v", t)
	}
}

// RegisterScoutTools registers the default tool set.
func RegisterScoutTools(reg *domain.ToolRegistry, papers ports.PapersAPI, store ports.InfluencerStore) error {
	var tools []*domain.Tool
	if papers != nil {
		tools = append(tools, NewSearchAuthorTool(papers), NewAuthorPapersTool(papers))
	}
	if store != nil {
		tools = append(tools, NewSelectFromDBTool(store))
	}
	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return fmt.Errorf("register %s: %w", t.Name, err)
		}
	}
	return nil
}
