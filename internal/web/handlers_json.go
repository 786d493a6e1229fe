package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.service.Ledger().Snapshot()
	s.writeJSON(w, map[string]interface{}{
		"total":  snap.Total,
		"locked": snap.Locked,
		"free":   snap.Free,
		"peak":   snap.Peak,
		"at":     snap.At,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	positions := s.service.ActivePositions()

	type positionView struct {
		Mint       string  `json:"mint"`
		Strategy   string  `json:"strategy"`
		Status     string  `json:"status"`
		EntryPrice float64 `json:"entry_price"`
		Price      float64 `json:"price"`
		Peak       float64 `json:"peak"`
		Multiplier float64 `json:"multiplier"`
		Invested   string  `json:"invested"`
		Reserved   string  `json:"reserved"`
		OpenedAt   string  `json:"opened_at"`
	}

	views := make([]positionView, 0, len(positions))
	for _, p := range positions {
		views = append(views, positionView{
			Mint:       p.Mint,
			Strategy:   p.StrategyID,
			Status:     string(p.Status),
			EntryPrice: p.EntryPrice,
			Price:      p.CurrentPrice,
			Peak:       p.PeakPrice,
			Multiplier: p.Multiplier(),
			Invested:   p.Invested.String(),
			Reserved:   p.Reserved.String(),
			OpenedAt:   p.EntryTime.Format("2006-01-02 15:04:05"),
		})
	}
	s.writeJSON(w, views)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.tradeRepo.ListPositionHistory(r.Context(), limitParam(r, 50))
	if err != nil {
		s.logger.Error("Failed to list position history", zap.Error(err))
		http.Error(w, "Failed to list history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, history)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.tradeRepo.ListEvents(r.Context(), limitParam(r, 100))
	if err != nil {
		s.logger.Error("Failed to list events", zap.Error(err))
		http.Error(w, "Failed to list events", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, events)
}
