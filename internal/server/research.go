package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/quester-ai/quester/internal/engine"
	"github.com/quester-ai/quester/internal/store"
)

// ResearchHandler serves research runs as server-sent events and archived
// run lookups.
type ResearchHandler struct {
	Engine     *engine.Engine
	Archive    store.Archive
	MaxRunTime time.Duration
	Logger     *log.Logger
}

func (h *ResearchHandler) Register(g *echo.Group) {
	g.POST("/research", h.research)
	g.GET("/research/runs/:id", h.getRun)
}

type researchRequest struct {
	Query string        `json:"query"`
	Turns []engine.Turn `json:"turns,omitempty"`
}

// research runs one query and streams every engine event as an SSE frame.
// The stream always ends with a final_result or error event.
func (h *ResearchHandler) research(c echo.Context) error {
	var req researchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query is required")
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.WriteHeader(http.StatusOK)
	resp.Flush()

	ctx := c.Request().Context()
	if h.MaxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.MaxRunTime)
		defer cancel()
	}

	runID := uuid.NewString()
	start := time.Now()
	var final *engine.Result
	var runErr string

	h.Engine.Run(ctx, req.Query, req.Turns, func(ev engine.Event) {
		switch ev.Type {
		case engine.EventResult:
			final = ev.Result
			runErr = ""
		case engine.EventError:
			runErr = ev.Error
		}
		b, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if _, err := resp.Write([]byte("data: ")); err != nil {
			return
		}
		resp.Write(b)
		resp.Write([]byte("\n\n"))
		resp.Flush()
	})

	h.archiveRun(runID, req.Query, final, runErr, time.Since(start))
	return nil
}

// archiveRun persists the terminal outcome. Archive failures are logged,
// never surfaced to the client: the stream already delivered the result.
func (h *ResearchHandler) archiveRun(runID, query string, final *engine.Result, runErr string, duration time.Duration) {
	rec := store.RunRecord{
		ID:       runID,
		Query:    query,
		Success:  final != nil,
		Error:    runErr,
		Duration: duration,
	}
	if final != nil {
		rec.Answer = final.Answer
		if b, err := json.Marshal(final.Sources); err == nil {
			rec.Sources = b
		}
		if b, err := json.Marshal(final.FollowUps); err == nil {
			rec.FollowUps = b
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.Archive.SaveRun(ctx, rec); err != nil {
		h.Logger.Printf("archive run %s failed: %v", runID, err)
	}
}

func (h *ResearchHandler) getRun(c echo.Context) error {
	rec, err := h.Archive.GetRun(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	return c.JSON(http.StatusOK, rec)
}
