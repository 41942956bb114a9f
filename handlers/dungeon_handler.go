package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ironpathAPI/middleware"
	"ironpathAPI/services"
)

type DungeonHandler struct {
	dungeonService *services.DungeonService
}

func NewDungeonHandler(dungeonService *services.DungeonService) *DungeonHandler {
	return &DungeonHandler{
		dungeonService: dungeonService,
	}
}

func (h *DungeonHandler) GetDungeons(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if _, ok := middleware.GetUserID(ctx); !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	defs, err := h.dungeonService.ListDefinitions(ctx)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, defs)
}

func (h *DungeonHandler) GetActiveRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	run, err := h.dungeonService.ActiveRun(ctx, userID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{"run": run})
}

func (h *DungeonHandler) EnterDungeon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	definitionID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid dungeon ID")
		return
	}

	run, err := h.dungeonService.Enter(ctx, userID, definitionID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, run)
}

func (h *DungeonHandler) SubmitObjective(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	vars := mux.Vars(r)
	runID, err := uuid.Parse(vars["runId"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}
	objectiveIndex, err := strconv.Atoi(vars["index"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid objective index")
		return
	}

	var body struct {
		Value float64 `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	run, event, err := h.dungeonService.SubmitObjective(ctx, userID, runID, objectiveIndex, body.Value)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"run":      run,
		"xp_event": event,
	})
}

func (h *DungeonHandler) AbandonRun(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	userID, ok := middleware.GetUserID(ctx)
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "User not authenticated")
		return
	}

	runID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}

	run, err := h.dungeonService.Abandon(ctx, userID, runID)
	if err != nil {
		respondWithServiceError(w, err)
		return
	}

	respondWithJSON(w, http.StatusOK, run)
}
