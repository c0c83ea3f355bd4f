package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"datachat/internal/dataset"
	"datachat/internal/models"
	"datachat/internal/service/assistant"
	"datachat/internal/session"
	"datachat/internal/view"
)

type columnInfo struct {
	Name  string `json:"name"`
	Dtype string `json:"dtype"`
}

func (h *Handler) loadTable(c *gin.Context) (*dataset.Table, bool) {
	table, err := h.assistant.Table(c.Request.Context())
	if err != nil {
		h.logger.Error("load dataset failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgDatasetFailed})
		return nil, false
	}
	return table, true
}

func (h *Handler) getDataset(c *gin.Context) {
	table, ok := h.loadTable(c)
	if !ok {
		return
	}
	cols := make([]columnInfo, table.NumCols())
	for i, col := range table.Columns {
		cols[i] = columnInfo{Name: col.Name, Dtype: string(col.Kind)}
	}
	c.JSON(http.StatusOK, gin.H{
		"name":         table.Name,
		"rows":         table.NumRows(),
		"columns":      cols,
		"dataset_line": fmt.Sprintf("Dataset loaded: %d rows, %d columns", table.NumRows(), table.NumCols()),
	})
}

func (h *Handler) getSummary(c *gin.Context) {
	table, ok := h.loadTable(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dataset.Describe(table))
}

func (h *Handler) getCorrelations(c *gin.Context) {
	table, ok := h.loadTable(c)
	if !ok {
		return
	}
	m := dataset.Correlate(table)
	if m == nil {
		c.JSON(http.StatusOK, gin.H{"columns": []string{}, "values": [][]string{}, "message": view.NoNumericColumns})
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": m.Columns, "values": m.Formatted()})
}

func (h *Handler) getTranscript(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	st, err := h.sessions.Load(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("load session failed", "session", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_id":        st.ID,
		"entries":           st.Transcript.All(),
		"show_summary":      st.ShowSummary,
		"show_correlations": st.ShowCorrelations,
	})
}

type inputRequest struct {
	Question string `json:"question"`
}

// captureInput answers one question over server-sent events: ack carries the
// stored user entry, stream the answer so far, done both final entries and
// error a generic failure message.
func (h *Handler) captureInput(c *gin.Context) {
	id, ok := h.sessionID(c)
	if !ok {
		return
	}
	var req inputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "question is required"})
		return
	}
	if _, ok := h.loadTable(c); !ok {
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendEvent := func(event string, payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	ev := assistant.Chat{Question: req.Question, APIKey: h.auth.APIKey(c)}
	hooks := assistant.StreamHooks{
		OnQuestion: func(e models.Entry) error {
			return sendEvent("ack", gin.H{"message": e})
		},
		OnDelta: func(partial string) error {
			return sendEvent("stream", gin.H{"content": partial})
		},
	}
	st, err := h.sessions.Update(c.Request.Context(), id, func(ctx context.Context, st *session.State) (*session.State, error) {
		next, _, err := h.assistant.RenderStream(ctx, st, ev, hooks)
		return next, err
	})
	if err != nil {
		h.logger.Error("chat stream failed", "session", id, "error", err)
		_ = sendEvent("error", gin.H{"message": msgAnalysisFailed})
		return
	}
	entries := st.Transcript.All()
	if len(entries) < 2 {
		_ = sendEvent("error", gin.H{"message": msgInternal})
		return
	}
	_ = sendEvent("done", gin.H{
		"user_message": entries[len(entries)-2],
		"ai_message":   entries[len(entries)-1],
	})
}
