package mcp

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// ToolCategory groups tools by what they read.
type ToolCategory string

const (
	// CategoryGuides is for recovery guide tools.
	CategoryGuides ToolCategory = "guides"
	// CategoryPatterns is for fix pattern tools.
	CategoryPatterns ToolCategory = "patterns"
	// CategorySearch is for tool discovery.
	CategorySearch ToolCategory = "search"
)

// ToolMetadata describes a registered MCP tool.
type ToolMetadata struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Category    ToolCategory `json:"category"`
	// Keywords are additional searchable terms for this tool.
	Keywords []string `json:"keywords,omitempty"`
}

// ToolRegistry indexes tool metadata for discovery.
type ToolRegistry struct {
	mu    sync.RWMutex
	tools map[string]*ToolMetadata
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]*ToolMetadata)}
}

// Register adds or replaces a tool. Nameless tools are ignored.
func (r *ToolRegistry) Register(tool *ToolMetadata) {
	if tool == nil || tool.Name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
}

// Get returns the metadata for a specific tool.
func (r *ToolRegistry) Get(name string) (*ToolMetadata, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// List returns every tool sorted by name, optionally limited to category.
func (r *ToolRegistry) List(category ToolCategory) []*ToolMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*ToolMetadata, 0, len(r.tools))
	for _, tool := range r.tools {
		if category == "" || tool.Category == category {
			result = append(result, tool)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Count returns the total number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// SearchResult is a tool match.
type SearchResult struct {
	Tool *ToolMetadata `json:"tool"`

	// Score indicates match quality:
	// 3 = exact name match
	// 2 = name match
	// 1 = description or keyword match
	Score int `json:"score"`

	MatchReason string `json:"match_reason"`
}

// Search finds tools whose name, description or keywords match query,
// case-insensitively. A query that compiles as a regexp is also matched as
// one. Results are ordered by score, then name.
func (r *ToolRegistry) Search(query string, category ToolCategory) []*SearchResult {
	if query == "" {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(query)
	re, err := regexp.Compile("(?i)" + query)
	if err != nil {
		re = nil
	}
	matches := func(s string) bool {
		return strings.Contains(strings.ToLower(s), q) || (re != nil && re.MatchString(s))
	}

	var results []*SearchResult
	for _, tool := range r.tools {
		if category != "" && tool.Category != category {
			continue
		}
		var score int
		var reason string
		switch {
		case strings.ToLower(tool.Name) == q:
			score, reason = 3, "exact name match"
		case matches(tool.Name):
			score, reason = 2, "name match"
		case matches(tool.Description):
			score, reason = 1, "description match"
		default:
			for _, kw := range tool.Keywords {
				if matches(kw) {
					score, reason = 1, "keyword match"
					break
				}
			}
		}
		if score > 0 {
			results = append(results, &SearchResult{Tool: tool, Score: score, MatchReason: reason})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Tool.Name < results[j].Tool.Name
	})
	return results
}
