package http

import "github.com/fyrsmithlabs/cirecover/internal/remediation"

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ChainsResponse is the response body for GET /api/v1/chains.
type ChainsResponse struct {
	Chains []remediation.ChainSummary `json:"chains"`
}

// GuidesResponse is the response body for GET /api/v1/chains/:chain/guides.
type GuidesResponse struct {
	ChainID string              `json:"chain_id"`
	Guides  []remediation.Guide `json:"guides"`
}

// ScrubRequest is the request body for POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}
