// Package router classifies incoming queries and selects the model
// tier, reasoning budget, and iteration cap for each turn.
package router

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Complexity categorizes query difficulty.
type Complexity int

const (
	ComplexitySimple  Complexity = iota // Lookup, status, list
	ComplexityComplex                   // Analysis, drafting, multi-step
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Tier names a model class.
type Tier string

const (
	TierFast    Tier = "fast"
	TierQuality Tier = "quality"
)

// QueryConfig is the execution configuration derived for one incoming
// message. It is computed fresh per message and never persisted.
type QueryConfig struct {
	Complexity        Complexity `json:"complexity"`
	ModelTier         Tier       `json:"model_tier"`
	Model             string     `json:"model"`
	ReasoningEnabled  bool       `json:"reasoning_enabled"`
	ReasoningBudget   int        `json:"reasoning_budget,omitempty"`
	Temperature       float64    `json:"temperature"`
	MaxToolIterations int        `json:"max_tool_iterations"`

	// Matched is the indicator that decided the classification, empty
	// when the default applied.
	Matched string `json:"matched,omitempty"`
}

// Config holds classifier configuration.
type Config struct {
	FastModel            string
	QualityModel         string
	ReasoningBudget      int
	SimpleMaxIterations  int
	ComplexMaxIterations int
	MaxAuditLog          int // How many decisions to keep in memory

	// AgentIndicators adds complex indicators per agent id.
	AgentIndicators map[string][]string
}

const (
	simpleTemperature  = 0.3
	complexTemperature = 1.0
)

// Complex indicators are checked before simple ones.
var complexWords = []string{
	"audit", "analy", "compare", "write", "draft", "justify", "review",
	"evaluate", "assess", "verify", "explain", "calculate", "reconcile",
	"eligib", "rewrite", "improve",
}

var simpleWords = []string{
	"status", "look up", "lookup", "list", "show me", "find", "get ",
	"which", "how many", "what is the", "who is",
}

// multiStep matches conjunctions that chain two actions, e.g. "check
// the deal and then verify the invoice".
var multiStep = regexp.MustCompile(`\b(and then|then|after that|followed by|as well as)\b|\band (check|verify|compare|write|draft|update|review)\b`)

// Classifier maps (text, agent) to a QueryConfig. It has no side
// effects and performs no I/O.
type Classifier struct {
	config Config
}

// DefaultReasoningBudget is the thinking budget for complex queries
// when none is configured. It must stay below the output token limit.
const DefaultReasoningBudget = 10000

// NewClassifier creates a classifier, filling zero-valued limits with
// defaults.
func NewClassifier(config Config) *Classifier {
	if config.SimpleMaxIterations <= 0 {
		config.SimpleMaxIterations = 8
	}
	if config.ComplexMaxIterations <= 0 {
		config.ComplexMaxIterations = 20
	}
	if config.ReasoningBudget <= 0 {
		config.ReasoningBudget = DefaultReasoningBudget
	}
	return &Classifier{config: config}
}

// Classify decides the configuration for text sent to agentID. Any
// complex indicator wins; otherwise any simple indicator; otherwise
// the query is treated as complex.
func (c *Classifier) Classify(text, agentID string) QueryConfig {
	complexity, matched := c.complexity(text, agentID)
	if complexity == ComplexitySimple {
		return QueryConfig{
			Complexity:        ComplexitySimple,
			ModelTier:         TierFast,
			Model:             c.config.FastModel,
			Temperature:       simpleTemperature,
			MaxToolIterations: c.config.SimpleMaxIterations,
			Matched:           matched,
		}
	}
	return QueryConfig{
		Complexity:        ComplexityComplex,
		ModelTier:         TierQuality,
		Model:             c.config.QualityModel,
		ReasoningEnabled:  true,
		ReasoningBudget:   c.config.ReasoningBudget,
		Temperature:       complexTemperature,
		MaxToolIterations: c.config.ComplexMaxIterations,
		Matched:           matched,
	}
}

func (c *Classifier) complexity(text, agentID string) (Complexity, string) {
	q := strings.ToLower(text)

	for _, w := range complexWords {
		if strings.Contains(q, w) {
			return ComplexityComplex, w
		}
	}
	for _, w := range c.config.AgentIndicators[agentID] {
		if strings.Contains(q, strings.ToLower(w)) {
			return ComplexityComplex, w
		}
	}
	if m := multiStep.FindString(q); m != "" {
		return ComplexityComplex, m
	}

	for _, w := range simpleWords {
		if strings.Contains(q, w) {
			return ComplexitySimple, strings.TrimSpace(w)
		}
	}

	return ComplexityComplex, ""
}

// Decision records why a configuration was selected.
type Decision struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`

	AgentID     string      `json:"agent_id"`
	QueryLength int         `json:"query_length"`
	Config      QueryConfig `json:"config"`
	Reasoning   string      `json:"reasoning"`

	// Post-execution (filled in later)
	LatencyMs  int64 `json:"latency_ms,omitempty"`
	TokensUsed int   `json:"tokens_used,omitempty"`
	Iterations int   `json:"iterations,omitempty"`
	Success    *bool `json:"success,omitempty"`
}

// Stats tracks routing statistics.
type Stats struct {
	TotalRequests    int64            `json:"total_requests"`
	ModelCounts      map[string]int64 `json:"model_counts"`
	AvgLatencyMs     map[string]int64 `json:"avg_latency_ms"`
	ComplexityCounts map[string]int64 `json:"complexity_counts"`
	AgentCounts      map[string]int64 `json:"agent_counts"`
	Failures         int64            `json:"failures"`
}

// Router wraps the classifier with an in-memory audit log and stats.
type Router struct {
	logger     *slog.Logger
	classifier *Classifier
	maxAudit   int

	mu       sync.RWMutex
	auditLog []Decision
	stats    Stats
}

// NewRouter creates a router with the given configuration.
func NewRouter(logger *slog.Logger, config Config) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxAuditLog <= 0 {
		config.MaxAuditLog = 1000
	}
	return &Router{
		logger:     logger,
		classifier: NewClassifier(config),
		maxAudit:   config.MaxAuditLog,
		auditLog:   make([]Decision, 0, config.MaxAuditLog),
		stats: Stats{
			ModelCounts:      make(map[string]int64),
			AvgLatencyMs:     make(map[string]int64),
			ComplexityCounts: make(map[string]int64),
			AgentCounts:      make(map[string]int64),
		},
	}
}

// Classifier returns the router's pure classifier.
func (r *Router) Classifier() *Classifier {
	return r.classifier
}

// Route classifies the query and records the decision.
func (r *Router) Route(ctx context.Context, query, agentID string) (QueryConfig, *Decision) {
	cfg := r.classifier.Classify(query, agentID)

	decision := &Decision{
		RequestID:   generateRequestID(),
		Timestamp:   time.Now(),
		AgentID:     agentID,
		QueryLength: len(query),
		Config:      cfg,
		Reasoning:   reasoning(cfg),
	}

	r.recordDecision(*decision)

	r.logger.InfoContext(ctx, "query routed",
		"request_id", decision.RequestID,
		"agent", agentID,
		"model", cfg.Model,
		"complexity", cfg.Complexity.String(),
		"reasoning", decision.Reasoning,
	)

	return cfg, decision
}

func reasoning(cfg QueryConfig) string {
	var sb strings.Builder
	sb.WriteString("Selected " + string(cfg.ModelTier) + " tier for " + cfg.Complexity.String() + " query")
	if cfg.Matched != "" {
		sb.WriteString(" (matched \"" + cfg.Matched + "\")")
	} else {
		sb.WriteString(" (no indicator, default)")
	}
	sb.WriteString(".")
	return sb.String()
}

// RecordOutcome updates a decision with execution results.
func (r *Router) RecordOutcome(requestID string, latencyMs int64, tokensUsed, iterations int, success bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			r.auditLog[i].LatencyMs = latencyMs
			r.auditLog[i].TokensUsed = tokensUsed
			r.auditLog[i].Iterations = iterations
			r.auditLog[i].Success = &success

			model := r.auditLog[i].Config.Model
			if prev := r.stats.AvgLatencyMs[model]; prev == 0 {
				r.stats.AvgLatencyMs[model] = latencyMs
			} else {
				r.stats.AvgLatencyMs[model] = (prev + latencyMs) / 2
			}
			if !success {
				r.stats.Failures++
			}
			break
		}
	}
}

// recordDecision adds a decision to the audit log.
func (r *Router) recordDecision(d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.auditLog) >= r.maxAudit {
		r.auditLog = r.auditLog[1:]
	}
	r.auditLog = append(r.auditLog, d)

	r.stats.TotalRequests++
	r.stats.ModelCounts[d.Config.Model]++
	r.stats.ComplexityCounts[d.Config.Complexity.String()]++
	r.stats.AgentCounts[d.AgentID]++
}

// GetAuditLog returns recent routing decisions, oldest first.
func (r *Router) GetAuditLog(limit int) []Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > len(r.auditLog) {
		limit = len(r.auditLog)
	}

	start := len(r.auditLog) - limit
	result := make([]Decision, limit)
	copy(result, r.auditLog[start:])
	return result
}

// GetStats returns a copy of the routing statistics.
func (r *Router) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := r.stats
	s.ModelCounts = cloneCounts(r.stats.ModelCounts)
	s.AvgLatencyMs = cloneCounts(r.stats.AvgLatencyMs)
	s.ComplexityCounts = cloneCounts(r.stats.ComplexityCounts)
	s.AgentCounts = cloneCounts(r.stats.AgentCounts)
	return s
}

// Explain returns the recorded decision for requestID, or nil.
func (r *Router) Explain(requestID string) *Decision {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for i := len(r.auditLog) - 1; i >= 0; i-- {
		if r.auditLog[i].RequestID == requestID {
			d := r.auditLog[i]
			return &d
		}
	}
	return nil
}

func cloneCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func generateRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return time.Now().Format("20060102-150405.000000")
	}
	return id.String()
}
