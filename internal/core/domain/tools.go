package domain

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrResourceNotFound is wrapped by tools when the upstream entity does not exist.
var ErrResourceNotFound = errors.New("resource not found")

// Tool represents an executable capability available to the agent
type Tool struct {
	Name        string
	Description string
	Parameters  ToolParameters
	Execute     ToolExecutor
}

// ToolParameters defines the schema for tool inputs
type ToolParameters struct {
	Type       string                  `json:"type"` // "object"
	Properties map[string]ToolProperty `json:"properties"`
	Required   []string                `json:"required"`
}

// ToolProperty describes one named argument.
type ToolProperty struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

// ToolResult is what a successful invocation returns.
type ToolResult struct {
	Content    string `json:"content"`
	Structured any    `json:"structured,omitempty"`
}

// ToolExecutor is the function signature for tool execution
type ToolExecutor func(ctx context.Context, args map[string]any) (ToolResult, error)

// ToolRegistry maps unique tool names to tools. Safe for concurrent use.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewToolRegistry creates a new empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]*Tool),
	}
}

// Register adds a tool to the registry
func (r *ToolRegistry) Register(tool *Tool) error {
	if tool == nil || strings.TrimSpace(tool.Name) == "" {
		return ErrEmptyToolName
	}
	if tool.Execute == nil {
		return fmt.Errorf("tool %s: missing executor", tool.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, tool.Name)
	}
	r.tools[tool.Name] = tool
	return nil
}

// Invoke runs the named tool.
// Unknown names fail with ErrToolNotFound; executor failures come back as *InvocationError.
func (r *ToolRegistry) Invoke(ctx context.Context, name string, args map[string]any) (ToolResult, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return ToolResult{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if missing := missingRequired(tool.Parameters.Required, args); len(missing) > 0 {
		return ToolResult{}, &InvocationError{
			Tool:     name,
			Category: InvocationGeneric,
			Cause:    fmt.Errorf("missing required arguments: %s", strings.Join(missing, ", ")),
		}
	}

	res, err := tool.Execute(ctx, args)
	if err != nil {
		return ToolResult{}, &InvocationError{Tool: name, Category: classifyInvocation(err), Cause: err}
	}
	return res, nil
}

func missingRequired(required []string, args map[string]any) []string {
	var missing []string
	for _, key := range required {
		if v, ok := args[key]; !ok || v == nil {
			missing = append(missing, key)
		}
	}
	return missing
}

// classifyInvocation maps an upstream error to the hint category shown to the oracle.
func classifyInvocation(err error) InvocationCategory {
	if errors.Is(err, ErrResourceNotFound) {
		return InvocationNotFound
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "not found") || strings.Contains(msg, "404") {
		return InvocationNotFound
	}
	return InvocationGeneric
}

// Names returns the registered tool names in sorted order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetTool returns a tool by name
func (r *ToolRegistry) GetTool(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// ListTools returns all registered tools sorted by name
func (r *ToolRegistry) ListTools() []*Tool {
	names := r.Names()
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]*Tool, 0, len(names))
	for _, name := range names {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// FormatToolsForPrompt renders one line per tool: name, description, params and required params.
// Output is sorted so identical registries always render identically.
func (r *ToolRegistry) FormatToolsForPrompt() string {
	tools := r.ListTools()
	if len(tools) == 0 {
		return "Available Tools: none. Answer directly.\n"
	}

	var b strings.Builder
	b.WriteString("Available Tools:\n")
	for _, tool := range tools {
		paramsList := ""
		if len(tool.Parameters.Properties) > 0 {
			keys := make([]string, 0, len(tool.Parameters.Properties))
			for k := range tool.Parameters.Properties {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				pType := tool.Parameters.Properties[k].Type
				if pType == "" {
					pType = "any"
				}
				parts = append(parts, k+":"+pType)
			}
			paramsList = " | params: {" + strings.Join(parts, ", ") + "}"
		}
		reqParams := ""
		if len(tool.Parameters.Required) > 0 {
			reqParams = " | required: " + strings.Join(tool.Parameters.Required, ", ")
		}
		fmt.Fprintf(&b, "- %s: %s%s%s\n", tool.Name, tool.Description, paramsList, reqParams)
	}
	return b.String()
}

// FilterByNames returns a new ToolRegistry containing only the tools whose names match the given list.
// The new registry shares Tool pointers with the original (same Execute funcs).
func (r *ToolRegistry) FilterByNames(names []string) *ToolRegistry {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	filtered := NewToolRegistry()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, tool := range r.tools {
		if _, ok := allowed[name]; ok {
			filtered.tools[name] = tool
		}
	}
	return filtered
}

// Suggest returns the registered name closest to a hallucinated one, or "" when nothing is close.
// It uses word-overlap scoring with Levenshtein distance as tiebreaker.
func (r *ToolRegistry) Suggest(input string) string {
	inputWords := splitToolWords(input)

	bestName := ""
	bestScore := 0
	for _, name := range r.Names() {
		score := wordOverlapScore(inputWords, splitToolWords(name))
		if score > bestScore {
			bestScore = score
			bestName = name
		} else if score == bestScore && score > 0 {
			if levenshtein(input, name) < levenshtein(input, bestName) {
				bestName = name
			}
		}
	}
	if bestScore >= 1 {
		return bestName
	}
	return ""
}

func splitToolWords(name string) []string {
	parts := []string{}
	for _, p := range strings.Split(strings.ToLower(name), "_") {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func wordOverlapScore(a, b []string) int {
	set := make(map[string]bool, len(b))
	for _, w := range b {
		set[w] = true
	}
	score := 0
	for _, w := range a {
		if set[w] {
			score++
		}
	}
	return score
}

func levenshtein(a, b string) int {
	la, lb := len(a), len(b)
	if la == 0 {
		return lb
	}
	if lb == 0 {
		return la
	}
	prev := make([]int, lb+1)
	curr := make([]int, lb+1)
	for j := 0; j <= lb; j++ {
		prev[j] = j
	}
	for i := 1; i <= la; i++ {
		curr[0] = i
		for j := 1; j <= lb; j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(curr[j-1]+1, min(prev[j]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[lb]
}
