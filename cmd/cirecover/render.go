package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/fyrsmithlabs/cirecover/internal/remediation"
	"github.com/fyrsmithlabs/cirecover/internal/workflows"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	escalatedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)
)

const timeLayout = "2006-01-02 15:04:05Z07:00"

// renderOutcome prints the final state of a chain.
func renderOutcome(w io.Writer, o *workflows.ChainOutcome) {
	state := successStyle.Render("✓ " + o.State)
	if o.Escalated {
		state = escalatedStyle.Render("✗ " + o.State)
	}
	fmt.Fprintf(w, "%s %s\n", titleStyle.Render("chain "+o.ChainID), state)
	field(w, "iterations", strconv.Itoa(o.Iterations))
	if o.Reason != "" {
		field(w, "reason", o.Reason)
	}
	if o.LastClassification != "" {
		field(w, "last classification", o.LastClassification)
	}
	if o.RunURL != "" {
		field(w, "run", o.RunURL)
	}
}

// renderChains prints one row per chain.
func renderChains(w io.Writer, chains []remediation.ChainSummary) {
	if len(chains) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no recovery chains recorded"))
		return
	}
	rows := make([][]string, 0, len(chains))
	for _, c := range chains {
		rows = append(rows, []string{
			c.ChainID,
			strconv.Itoa(c.Guides),
			strconv.Itoa(c.LastIteration),
			c.LastGenerated.UTC().Format(timeLayout),
		})
	}
	fmt.Fprintln(w, newTable("CHAIN", "GUIDES", "LAST ITERATION", "LAST GENERATED").Rows(rows...).String())
}

// renderGuides prints one row per guide of a chain.
func renderGuides(w io.Writer, guides []remediation.Guide) {
	if len(guides) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no guides recorded"))
		return
	}
	rows := make([][]string, 0, len(guides))
	for i := range guides {
		g := &guides[i]
		rows = append(rows, []string{
			strconv.Itoa(g.Iteration),
			g.GeneratedAt.UTC().Format(timeLayout),
			g.Summary(),
			joinOrDash(g.Strategies()),
		})
	}
	fmt.Fprintln(w, newTable("ITERATION", "GENERATED", "FAILURES", "STRATEGIES").Rows(rows...).String())
}

// renderGuide prints a guide with its failures and suggested patterns.
func renderGuide(w io.Writer, g *remediation.Guide) {
	fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("chain %s, iteration %d", g.ChainID, g.Iteration)))
	field(w, "generated", g.GeneratedAt.UTC().Format(time.RFC3339))
	field(w, "failures", g.Summary())
	field(w, "strategies", joinOrDash(g.Strategies()))

	for i, f := range g.Failures {
		fmt.Fprintf(w, "\n%s %s\n", labelStyle.Render(fmt.Sprintf("[%d] %s", i, f.Framework)), f.TestName)
		if f.ErrorMessage != "" {
			fmt.Fprintln(w, "    "+f.ErrorMessage)
		}
		for _, s := range g.SuggestedPatterns {
			if s.FailureIndex != i {
				continue
			}
			for _, p := range s.Patterns {
				match := "predicate"
				if s.Exact {
					match = "exact"
				}
				fmt.Fprintf(w, "    %s %s (%s, score %d)\n",
					dimStyle.Render("→"), p.Strategy, match, p.Score())
			}
		}
	}
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render(label+":"), value)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
