package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jgivc/raidnode/internal/common"
	"github.com/jgivc/raidnode/internal/entity"
)

type PolicyService interface {
	Policies() []*entity.Policy
}

type RecoverService interface {
	RecoverFile(ctx context.Context, path string, corruptOffset int64) (string, error)
}

type StatsService interface {
	Snapshot() entity.StatisticsSnapshot
}

type recoverRequest struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
}

type recoverResponse struct {
	Recovered string `json:"recovered"`
}

func NewPoliciesHandler(srv PolicyService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "PoliciesHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(srv.Policies()); err != nil {
			log.Error("Cannot encode policies", slog.Any("error", err))
		}
	}
}

func NewRecoverHandler(srv RecoverService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "RecoverHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		var req recoverRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" || req.Offset < 0 {
			http.Error(w, "Bad request", http.StatusBadRequest)

			return
		}

		recovered, err := srv.RecoverFile(r.Context(), req.Path, req.Offset)
		if err != nil {
			log.Error("Cannot recover file", slog.String("path", req.Path),
				slog.Int64("offset", req.Offset), slog.Any("error", err))

			switch {
			case errors.Is(err, common.ErrNotSupported):
				http.Error(w, "Recovery not supported", http.StatusNotImplemented)
			case errors.Is(err, common.ErrNoParityFile):
				http.Error(w, "No parity available", http.StatusNotFound)
			default:
				http.Error(w, "Cannot recover file", http.StatusInternalServerError)
			}

			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(recoverResponse{Recovered: recovered}); err != nil {
			log.Error("Cannot encode response", slog.Any("error", err))
		}
	}
}

func NewStatsHandler(srv StatsService, log *slog.Logger) http.HandlerFunc {
	log = log.With(slog.String("handler", "StatsHandler"))

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(srv.Snapshot()); err != nil {
			log.Error("Cannot encode statistics", slog.Any("error", err))
		}
	}
}
