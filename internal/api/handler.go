package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"reach-engine/internal/cache"
	"reach-engine/internal/content"
	"reach-engine/internal/engine"
	"reach-engine/internal/markup"
	"reach-engine/internal/presenter"
)

const maxPayloadBytes = 1 << 20

// Handler exposes the engine over HTTP. Every engine call goes through
// the loop.
type Handler struct {
	Loop  *engine.Loop
	Eng   *engine.Engine
	Inbox *presenter.Inbox
}

func NewHandler(loop *engine.Loop, eng *engine.Engine, inbox *presenter.Inbox) *Handler {
	return &Handler{Loop: loop, Eng: eng, Inbox: inbox}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, markup.ErrMalformed):
		status = http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, content.ErrUnsupported), errors.Is(err, content.ErrInvalidAnswer):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrLoopStopped), errors.Is(err, cache.ErrDurability):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// durable drops cache write failures: the operation itself succeeded
// and memory state stays authoritative.
func durable(r *http.Request, err error) error {
	if err != nil && errors.Is(err, cache.ErrDurability) {
		log.Warn().Err(err).Str("path", r.URL.Path).Msg("content cache not written")
		return nil
	}
	return err
}

// Ingest is the IngestFunc for payload sources other than HTTP.
func (h *Handler) Ingest(ctx context.Context, payload []byte) error {
	var err error
	if doErr := h.Loop.Do(ctx, func() { _, err = h.Eng.Ingest(ctx, payload, false) }); doErr != nil {
		return doErr
	}
	if errors.Is(err, cache.ErrDurability) {
		log.Warn().Err(err).Msg("content cache not written")
		return nil
	}
	return err
}

func (h *Handler) Payloads(w http.ResponseWriter, r *http.Request) {
	native, _ := strconv.ParseBool(r.URL.Query().Get("native"))
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": err.Error()})
		return
	}

	ctx := r.Context()
	var res engine.IngestResult
	if doErr := h.Loop.Do(ctx, func() { res, err = h.Eng.Ingest(ctx, payload, native) }); doErr != nil {
		writeError(w, r, doErr)
		return
	}
	if err := durable(r, err); err != nil {
		writeError(w, r, err)
		return
	}
	if res.Stored == nil {
		res.Stored = []uint64{}
	}
	writeJSON(w, http.StatusAccepted, res)
}

type activityRequest struct {
	Activity *string `json:"activity"`
}

func (h *Handler) Activity(w http.ResponseWriter, r *http.Request) {
	var req activityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid activity body"})
		return
	}
	activity := ""
	if req.Activity != nil {
		activity = *req.Activity
	}

	ctx := r.Context()
	var err error
	if doErr := h.Loop.Do(ctx, func() { err = h.Eng.SetActivity(ctx, activity) }); doErr != nil {
		writeError(w, r, doErr)
		return
	}
	if err := durable(r, err); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Eng.Status())
}

func (h *Handler) Presentation(w http.ResponseWriter, _ *http.Request) {
	shown := h.Inbox.Current()
	if len(shown) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, shown)
}

type actionRequest struct {
	Answers map[string]string `json:"answers"`
}

func (h *Handler) ContentAction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid content id"})
		return
	}
	var req actionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid action body"})
			return
		}
	}

	ctx := r.Context()
	var op func() error
	switch action := chi.URLParam(r, "action"); action {
	case "action-notification":
		op = func() error { return h.Eng.ActionNotification(ctx, id) }
	case "exit-notification":
		op = func() error { return h.Eng.ExitNotification(ctx, id) }
	case "display-content":
		op = func() error { return h.Eng.DisplayContent(ctx, id) }
	case "action-content":
		op = func() error { return h.Eng.ActionContent(ctx, id, req.Answers) }
	case "exit-content":
		op = func() error { return h.Eng.ExitContent(ctx, id) }
	case "drop":
		op = func() error { return h.Eng.Drop(ctx, id) }
	case "processed":
		op = func() error { return h.Eng.MarkContentProcessed(ctx, id) }
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": fmt.Sprintf("unknown action %q", action)})
		return
	}

	if doErr := h.Loop.Do(ctx, func() { err = op() }); doErr != nil {
		writeError(w, r, doErr)
		return
	}
	if err := durable(r, err); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ClearContents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	if doErr := h.Loop.Do(ctx, func() { err = h.Eng.Clear(ctx) }); doErr != nil {
		writeError(w, r, doErr)
		return
	}
	if err := durable(r, err); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sync writes the cache durably and reports a failure to the caller.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var err error
	if doErr := h.Loop.Do(ctx, func() { err = h.Eng.Synchronize(ctx) }); doErr != nil {
		writeError(w, r, doErr)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
