package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/EternisAI/mailbroker/internal/api/http/dto"
	"github.com/EternisAI/mailbroker/internal/dispatch"
	"github.com/gin-gonic/gin"
)

type EventDispatcher interface {
	Handle(ctx context.Context, ev dispatch.Event) dispatch.Result
}

type EventsHandler struct {
	dispatcher EventDispatcher
}

func NewEventsHandler(dispatcher EventDispatcher) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher}
}

// Handle always answers 200 so chat webhooks are never redelivered; the
// outcome is carried in the body's kind.
func (h *EventsHandler) Handle(ctx *gin.Context) {
	var req dto.EventRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		slog.Debug("Malformed event", "error", err)
		ctx.JSON(http.StatusOK, dto.EventResponse{
			Kind:    string(dispatch.KindValidation),
			Message: "Malformed event: " + err.Error(),
		})
		return
	}

	ev := dispatch.Event{RequesterID: req.RequesterID}
	if req.Command != "" {
		ev.Command = dispatch.ParseCommand(req.Command)
		ev.Args = req.Args
	} else {
		ev.Command, ev.Args = dispatch.ParseText(req.Text)
	}

	res := h.dispatcher.Handle(ctx.Request.Context(), ev)
	ctx.JSON(http.StatusOK, dto.EventResponse{
		Kind:    string(res.Kind),
		Message: res.Message,
		Data:    res.Data,
	})
}
