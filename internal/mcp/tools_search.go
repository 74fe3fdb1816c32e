package mcp

import (
	"context"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type toolSearchInput struct {
	Query    string `json:"query" jsonschema:"Substring or regular expression matched against tool names, descriptions and keywords"`
	Category string `json:"category,omitempty" jsonschema:"Only tools in this category (guides, patterns, search)"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum results to return (default: 5)"`
}

type toolView struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	Keywords    []string `json:"keywords,omitempty"`
	Score       int      `json:"score,omitempty"`
	MatchReason string   `json:"match_reason,omitempty"`
}

type toolSearchOutput struct {
	Query      string     `json:"query"`
	Results    []toolView `json:"results"`
	Count      int        `json:"count"`
	TotalTools int        `json:"total_tools"`
}

type toolListInput struct {
	Category string `json:"category,omitempty" jsonschema:"Only tools in this category"`
}

type toolListOutput struct {
	Tools []toolView `json:"tools"`
	Count int        `json:"count"`
}

func viewOf(t *ToolMetadata) toolView {
	return toolView{
		Name:        t.Name,
		Description: t.Description,
		Category:    string(t.Category),
		Keywords:    t.Keywords,
	}
}

func (s *Server) registerSearchTools() {
	addTool(s, &ToolMetadata{
		Name:        "tool_search",
		Description: "Search the available tools by name, description or keyword.",
		Category:    CategorySearch,
	}, func(_ context.Context, _ *mcp.CallToolRequest, args toolSearchInput) (*mcp.CallToolResult, toolSearchOutput, error) {
		if args.Query == "" {
			return nil, toolSearchOutput{}, errors.New("query is required")
		}
		limit := args.Limit
		if limit <= 0 {
			limit = 5
		}

		found := s.toolRegistry.Search(args.Query, ToolCategory(args.Category))
		if len(found) > limit {
			found = found[:limit]
		}
		out := toolSearchOutput{
			Query:      args.Query,
			Results:    make([]toolView, 0, len(found)),
			TotalTools: s.toolRegistry.Count(),
		}
		names := make([]string, 0, len(found))
		for _, r := range found {
			v := viewOf(r.Tool)
			v.Score = r.Score
			v.MatchReason = r.MatchReason
			out.Results = append(out.Results, v)
			names = append(names, r.Tool.Name)
		}
		out.Count = len(out.Results)

		if out.Count == 0 {
			return s.text("No tools found matching: %s", args.Query), out, nil
		}
		return s.text("Found %d tool(s) for query '%s': %s", out.Count, args.Query, strings.Join(names, ", ")), out, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "tool_list",
		Description: "List the available tools with their metadata.",
		Category:    CategorySearch,
	}, func(_ context.Context, _ *mcp.CallToolRequest, args toolListInput) (*mcp.CallToolResult, toolListOutput, error) {
		tools := s.toolRegistry.List(ToolCategory(args.Category))
		out := toolListOutput{Tools: make([]toolView, 0, len(tools))}
		for _, t := range tools {
			out.Tools = append(out.Tools, viewOf(t))
		}
		out.Count = len(out.Tools)
		return s.text("Found %d tools", out.Count), out, nil
	})
}
