package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
)

// addTool registers a tool with the MCP server and the tool registry, and
// records invocation metrics around its handler.
func addTool[In, Out any](s *Server, meta *ToolMetadata, h mcp.ToolHandlerFor[In, Out]) {
	s.toolRegistry.Register(meta)
	name := meta.Name
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        name,
		Description: meta.Description,
	}, func(ctx context.Context, req *mcp.CallToolRequest, in In) (*mcp.CallToolResult, Out, error) {
		start := time.Now()
		s.metrics.IncrementActive(ctx, name)
		res, out, err := h(ctx, req, in)
		s.metrics.DecrementActive(ctx, name)
		s.metrics.RecordInvocation(ctx, name, time.Since(start), err)
		return res, out, err
	})
}

func (s *Server) text(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: s.scrubber.String(fmt.Sprintf(format, args...))}},
	}
}

// ===== GUIDE TOOLS =====

type chainInput struct {
	ChainID string `json:"chain_id" jsonschema:"Recovery chain identifier"`
}

type guideGetInput struct {
	ChainID   string `json:"chain_id" jsonschema:"Recovery chain identifier"`
	Iteration int    `json:"iteration" jsonschema:"Zero-based iteration of the guide"`
}

type chainsListInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"Maximum chains to return (default: 20)"`
}

type failureView struct {
	JobName      string `json:"job_name"`
	Framework    string `json:"framework"`
	TestName     string `json:"test_name"`
	ErrorMessage string `json:"error_message"`
}

type patternView struct {
	ID             string `json:"id"`
	Signature      string `json:"signature,omitempty"`
	MatchPredicate string `json:"match_predicate,omitempty"`
	Strategy       string `json:"strategy"`
	SuccessCount   int    `json:"success_count"`
	FailureCount   int    `json:"failure_count"`
	Score          int    `json:"score"`
}

type suggestionView struct {
	FailureIndex int           `json:"failure_index"`
	Signature    string        `json:"signature"`
	Exact        bool          `json:"exact"`
	Patterns     []patternView `json:"patterns"`
}

type guideView struct {
	ChainID     string           `json:"chain_id"`
	Iteration   int              `json:"iteration"`
	Summary     string           `json:"summary"`
	GeneratedAt string           `json:"generated_at"`
	Failures    []failureView    `json:"failures"`
	Suggestions []suggestionView `json:"suggestions"`
}

type guideListOutput struct {
	ChainID string      `json:"chain_id"`
	Guides  []guideView `json:"guides"`
	Count   int         `json:"count"`
}

type chainView struct {
	ChainID       string `json:"chain_id"`
	Guides        int    `json:"guides"`
	LastIteration int    `json:"last_iteration"`
	LastGenerated string `json:"last_generated"`
}

type chainsListOutput struct {
	Chains []chainView `json:"chains"`
	Count  int         `json:"count"`
}

func toPatternView(p remediation.Pattern) patternView {
	return patternView{
		ID:             p.ID,
		Signature:      p.Signature,
		MatchPredicate: p.MatchPredicate,
		Strategy:       p.Strategy,
		SuccessCount:   p.SuccessCount,
		FailureCount:   p.FailureCount,
		Score:          p.Score(),
	}
}

func toGuideView(g *remediation.Guide) guideView {
	v := guideView{
		ChainID:     g.ChainID,
		Iteration:   g.Iteration,
		Summary:     g.Summary(),
		GeneratedAt: g.GeneratedAt.UTC().Format(time.RFC3339),
		Failures:    make([]failureView, 0, len(g.Failures)),
		Suggestions: make([]suggestionView, 0, len(g.SuggestedPatterns)),
	}
	for _, f := range g.Failures {
		v.Failures = append(v.Failures, failureView{
			JobName:      f.JobName,
			Framework:    f.Framework,
			TestName:     f.TestName,
			ErrorMessage: f.ErrorMessage,
		})
	}
	for _, sug := range g.SuggestedPatterns {
		sv := suggestionView{
			FailureIndex: sug.FailureIndex,
			Signature:    sug.Signature,
			Exact:        sug.Exact,
			Patterns:     make([]patternView, 0, len(sug.Patterns)),
		}
		for _, p := range sug.Patterns {
			sv.Patterns = append(sv.Patterns, toPatternView(p))
		}
		v.Suggestions = append(v.Suggestions, sv)
	}
	return v
}

func (s *Server) registerGuideTools() {
	addTool(s, &ToolMetadata{
		Name:        "recovery_guide_latest",
		Description: "Return the most recent recovery guide of a chain: the classified CI failures and the fix patterns suggested for each.",
		Category:    CategoryGuides,
		Keywords:    []string{"ci", "failure", "remediation"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args chainInput) (*mcp.CallToolResult, guideView, error) {
		if args.ChainID == "" {
			return nil, guideView{}, errors.New("chain_id is required")
		}
		g, err := s.knowledge.LatestGuide(ctx, args.ChainID)
		if err != nil {
			return nil, guideView{}, fmt.Errorf("latest guide for %s: %w", args.ChainID, err)
		}
		v := toGuideView(g)
		return s.text("Guide %d of %s: %s", v.Iteration, v.ChainID, v.Summary), v, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "recovery_guide_get",
		Description: "Return one iteration's recovery guide of a chain.",
		Category:    CategoryGuides,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args guideGetInput) (*mcp.CallToolResult, guideView, error) {
		if args.ChainID == "" {
			return nil, guideView{}, errors.New("chain_id is required")
		}
		if args.Iteration < 0 {
			return nil, guideView{}, errors.New("iteration must not be negative")
		}
		g, err := s.knowledge.Guide(ctx, args.ChainID, args.Iteration)
		if err != nil {
			return nil, guideView{}, fmt.Errorf("guide %d for %s: %w", args.Iteration, args.ChainID, err)
		}
		v := toGuideView(g)
		return s.text("Guide %d of %s: %s", v.Iteration, v.ChainID, v.Summary), v, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "recovery_guide_list",
		Description: "List every recovery guide of a chain in iteration order.",
		Category:    CategoryGuides,
		Keywords:    []string{"history"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args chainInput) (*mcp.CallToolResult, guideListOutput, error) {
		if args.ChainID == "" {
			return nil, guideListOutput{}, errors.New("chain_id is required")
		}
		guides, err := s.knowledge.ListGuides(ctx, args.ChainID)
		if err != nil {
			return nil, guideListOutput{}, fmt.Errorf("listing guides for %s: %w", args.ChainID, err)
		}
		out := guideListOutput{ChainID: args.ChainID, Guides: make([]guideView, 0, len(guides))}
		for i := range guides {
			out.Guides = append(out.Guides, toGuideView(&guides[i]))
		}
		out.Count = len(out.Guides)
		return s.text("Found %d guides for %s", out.Count, args.ChainID), out, nil
	})

	addTool(s, &ToolMetadata{
		Name:        "recovery_chains_list",
		Description: "List recovery chains that produced guides, most recent first.",
		Category:    CategoryGuides,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args chainsListInput) (*mcp.CallToolResult, chainsListOutput, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = 20
		}
		chains, err := s.knowledge.ListChains(ctx)
		if err != nil {
			return nil, chainsListOutput{}, fmt.Errorf("listing chains: %w", err)
		}
		if len(chains) > limit {
			chains = chains[:limit]
		}
		out := chainsListOutput{Chains: make([]chainView, 0, len(chains))}
		for _, c := range chains {
			out.Chains = append(out.Chains, chainView{
				ChainID:       c.ChainID,
				Guides:        c.Guides,
				LastIteration: c.LastIteration,
				LastGenerated: c.LastGenerated.UTC().Format(time.RFC3339),
			})
		}
		out.Count = len(out.Chains)
		return s.text("Found %d chains", out.Count), out, nil
	})
}

// ===== PATTERN TOOLS =====

type patternListInput struct {
	Strategy string `json:"strategy,omitempty" jsonschema:"Only patterns for this fix strategy"`
	Limit    int    `json:"limit,omitempty" jsonschema:"Maximum patterns to return (default: 50)"`
}

type patternListOutput struct {
	Patterns []patternView `json:"patterns"`
	Count    int           `json:"count"`
}

func (s *Server) registerPatternTools() {
	addTool(s, &ToolMetadata{
		Name:        "pattern_list",
		Description: "List learned and seeded fix patterns ranked by score (successes minus failures).",
		Category:    CategoryPatterns,
		Keywords:    []string{"strategy", "score", "learning"},
	}, func(ctx context.Context, _ *mcp.CallToolRequest, args patternListInput) (*mcp.CallToolResult, patternListOutput, error) {
		limit := args.Limit
		if limit <= 0 {
			limit = 50
		}
		patterns, err := s.knowledge.ListPatterns(ctx)
		if err != nil {
			return nil, patternListOutput{}, fmt.Errorf("listing patterns: %w", err)
		}
		out := patternListOutput{Patterns: make([]patternView, 0, len(patterns))}
		for _, p := range patterns {
			if args.Strategy != "" && p.Strategy != args.Strategy {
				continue
			}
			out.Patterns = append(out.Patterns, toPatternView(p))
		}
		sort.SliceStable(out.Patterns, func(i, j int) bool {
			return out.Patterns[i].Score > out.Patterns[j].Score
		})
		if len(out.Patterns) > limit {
			out.Patterns = out.Patterns[:limit]
		}
		out.Count = len(out.Patterns)
		return s.text("Found %d patterns", out.Count), out, nil
	})
}
