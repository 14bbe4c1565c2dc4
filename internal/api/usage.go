package api

import (
	"net/http"
	"time"

	"github.com/nugget/grantdesk/internal/usage"
)

// handleUsage reports token usage and cost. With conversationId it
// lists that conversation's records; otherwise it summarizes the last
// days (default 7) overall, by model, and by agent.
func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "usage tracking not configured")
		return
	}
	ctx := r.Context()

	if id := r.URL.Query().Get("conversationId"); id != "" {
		records, err := s.usage.ForConversation(ctx, id)
		if err != nil {
			s.logger.Error("failed to read usage", "conversation_id", id, "error", err)
			s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
			return
		}
		var total usage.Summary
		for _, rec := range records {
			total.TotalRecords++
			total.TotalInputTokens += int64(rec.InputTokens)
			total.TotalOutputTokens += int64(rec.OutputTokens)
			total.TotalCostUSD += rec.CostUSD
		}
		w.Header().Set("Content-Type", "application/json")
		writeJSON(w, map[string]any{
			"conversationId": id,
			"total":          total,
			"records":        records,
		}, s.logger)
		return
	}

	days := queryInt(r, "days", 7)
	// Records are stored at second resolution; include the current second.
	end := time.Now().UTC().Truncate(time.Second).Add(time.Second)
	start := end.AddDate(0, 0, -days)

	total, err := s.usage.Summary(ctx, start, end)
	if err != nil {
		s.logger.Error("failed to summarize usage", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	byModel, err := s.usage.SummaryByModel(ctx, start, end)
	if err != nil {
		s.logger.Error("failed to summarize usage by model", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
		return
	}
	byAgent, err := s.usage.SummaryByAgent(ctx, start, end)
	if err != nil {
		s.logger.Error("failed to summarize usage by agent", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "failed to read usage")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"days":    days,
		"start":   start,
		"end":     end,
		"total":   total,
		"byModel": byModel,
		"byAgent": byAgent,
	}, s.logger)
}
