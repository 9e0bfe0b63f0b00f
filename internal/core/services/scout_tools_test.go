package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/manthysbr/techscout/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPapersAPI struct {
	mock.Mock
}

func (m *mockPapersAPI) SearchAuthors(ctx context.Context, name string) (domain.Page[domain.Author], error) {
	args := m.Called(ctx, name)
	return args.Get(0).(domain.Page[domain.Author]), args.Error(1)
}

func (m *mockPapersAPI) AuthorPapers(ctx context.Context, authorID string) (domain.Page[domain.Paper], error) {
	args := m.Called(ctx, authorID)
	return args.Get(0).(domain.Page[domain.Paper]), args.Error(1)
}

type mockInfluencerStore struct {
	mock.Mock
}

func (m *mockInfluencerStore) SelectInfluencers(ctx context.Context, query string, limit int) (domain.QueryResult, error) {
	args := m.Called(ctx, query, limit)
	return args.Get(0).(domain.QueryResult), args.Error(1)
}

func TestSearchAuthorTool(t *testing.T) {
	api := new(mockPapersAPI)
	api.On("SearchAuthors", mock.Anything, "Yann LeCun").Return(domain.Page[domain.Author]{
		Count:   1,
		Results: []domain.Author{{ID: "yann-lecun", FullName: "Yann LeCun"}},
	}, nil)
	api.On("SearchAuthors", mock.Anything, "Nobody").Return(domain.Page[domain.Author]{}, nil)

	reg := domain.NewToolRegistry()
	require.NoError(t, RegisterScoutTools(reg, api, nil))
	assert.Equal(t, []string{"get_author_papers", "search_author"}, reg.Names())

	res, err := reg.Invoke(context.Background(), "search_author", map[string]any{"name": " Yann LeCun "})
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"yann-lecun","full_name":"Yann LeCun"}]`, res.Content)

	res, err = reg.Invoke(context.Background(), "search_author", map[string]any{"name": "Nobody"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "No author matches")

	_, err = reg.Invoke(context.Background(), "search_author", map[string]any{"name": 42})
	var inv *domain.InvocationError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, domain.InvocationGeneric, inv.Category)
}

func TestAuthorPapersTool(t *testing.T) {
	arxiv := "1706.03762"
	api := new(mockPapersAPI)
	api.On("AuthorPapers", mock.Anything, "ashish-vaswani").Return(domain.Page[domain.Paper]{
		Count: 3,
		Results: []domain.Paper{
			{Title: "Attention Is All You Need", ArxivID: &arxiv, URLAbs: "https://arxiv.org/abs/1706.03762", Published: "2017-06-12"},
		},
	}, nil)
	api.On("AuthorPapers", mock.Anything, "Ashish Vaswani").
		Return(domain.Page[domain.Paper]{}, fmt.Errorf("author %q: %w", "Ashish Vaswani", domain.ErrResourceNotFound))

	tool := NewAuthorPapersTool(api)
	reg := domain.NewToolRegistry()
	require.NoError(t, reg.Register(tool))

	res, err := reg.Invoke(context.Background(), "get_author_papers", map[string]any{"author_id": "ashish-vaswani"})
	require.NoError(t, err)
	assert.Contains(t, res.Content, "Attention Is All You Need")
	assert.Contains(t, res.Content, "(1 of 3 papers shown)")
	assert.NotContains(t, res.Content, "abstract")

	_, err = reg.Invoke(context.Background(), "get_author_papers", map[string]any{"author_id": "Ashish Vaswani"})
	var inv *domain.InvocationError
	require.ErrorAs(t, err, &inv)
	assert.Equal(t, domain.InvocationNotFound, inv.Category)
	assert.ErrorIs(t, err, domain.ErrResourceNotFound)
}

func TestArgString(t *testing.T) {
	assert.Equal(t, "abc", argString(" abc "))
	assert.Equal(t, "1234", argString(float64(1234)))
	assert.Equal(t, "", argString(nil))
}

func TestSelectFromDBTool(t *testing.T) {
	store := new(mockInfluencerStore)
	store.On("SelectInfluencers", mock.Anything, "SELECT name, rank FROM influencers ORDER BY rank", MaxQueryRows).
		Return(domain.QueryResult{
			Columns: []string{"name", "rank"},
			Rows: []map[string]any{
				{"name": "Andrew Ng", "rank": int32(1)},
				{"name": "Fei-Fei Li", "rank": nil},
			},
		}, nil)

	reg := domain.NewToolRegistry()
	require.NoError(t, RegisterScoutTools(reg, nil, store))

	res, err := reg.Invoke(context.Background(), "select_from_db", map[string]any{"query": "SELECT name, rank FROM influencers ORDER BY rank"})
	require.NoError(t, err)
	assert.Equal(t, "name | rank\nAndrew Ng | 1\nFei-Fei Li | NULL", res.Content)

	_, err = reg.Invoke(context.Background(), "select_from_db", map[string]any{"query": "DROP TABLE influencers"})
	assert.ErrorIs(t, err, domain.ErrReadOnlyQuery)
	store.AssertNumberOfCalls(t, "SelectInfluencers", 1)

	tool, ok := reg.GetTool("select_from_db")
	require.True(t, ok)
	assert.Contains(t, tool.Description, "nb_twitter_followers: BIGINT")
}

func TestCheckReadOnly(t *testing.T) {
	tests := []struct {
		query string
		ok    bool
	}{
		{"SELECT * FROM influencers", true},
		{"  select name from influencers;", true},
		{"WITH top AS (SELECT * FROM influencers) SELECT * FROM top", true},
		{"DELETE FROM influencers", false},
		{"SELECT 1; DROP TABLE influencers", false},
		{"SELECT name FROM influencers WHERE bio LIKE '%;%'", true},
		{`SELECT "a;b" FROM influencers`, true},
		{"-- top people\nSELECT * FROM influencers", true},
		{"SELECT 1; -- done", true},
		{"/* SELECT */ DELETE FROM influencers", false},
		{"SELECT ';'; DROP TABLE influencers", false},
		{"SELECT 'it''s; fine'", true},
		{"-- only a comment", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			err := CheckReadOnly(tt.query)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestFormatTable(t *testing.T) {
	assert.Equal(t, "(no rows)", FormatTable(domain.QueryResult{Columns: []string{"a"}}))

	out := FormatTable(domain.QueryResult{
		Columns:   []string{"name", "links"},
		Rows:      []map[string]any{{"name": "a\nb", "links": []any{"x", "y"}}},
		Truncated: true,
	})
	assert.Equal(t, "name | links\na b | [x, y]\n(truncated to 1 rows)", out)
}

func TestRegisterScoutTools_Duplicate(t *testing.T) {
	reg := domain.NewToolRegistry()
	api := new(mockPapersAPI)
	require.NoError(t, RegisterScoutTools(reg, api, nil))
	err := RegisterScoutTools(reg, api, nil)
	assert.True(t, errors.Is(err, domain.ErrDuplicateTool))
}
