package api

import (
	"encoding/json"
	"net/http"

	"github.com/kalambet/bazar/internal/dialogue"
)

// EventRequest is one chat event posted to /v1/events. ChatID defaults to
// UserID.
type EventRequest struct {
	UserID       int64  `json:"user_id" validate:"required"`
	ChatID       int64  `json:"chat_id"`
	Username     string `json:"username"`
	Text         string `json:"text" validate:"required_without=CallbackData"`
	CallbackData string `json:"callback_data"`
	MessageID    int64  `json:"message_id"`
}

// EventResponse lists the messages the dialogue produced for the event.
type EventResponse struct {
	Messages []dialogue.Sent `json:"messages"`
}

func handleEvent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Dispatcher == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "dialogue is not available")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if err := validate.Struct(req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid event: %v", err)
			return
		}
		if req.ChatID == 0 {
			req.ChatID = req.UserID
		}

		// Earlier messages are not known to a fresh recorder, so button
		// replies are delivered as new messages.
		chat := &dialogue.Recorder{}
		err := deps.Dispatcher.Handle(r.Context(), chat, dialogue.Inbound{
			UserID:       req.UserID,
			ChatID:       req.ChatID,
			Username:     req.Username,
			Text:         req.Text,
			CallbackData: req.CallbackData,
			MessageID:    dialogue.MessageID(req.MessageID),
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "handling event: %v", err)
			return
		}
		msgs := chat.Messages()
		if msgs == nil {
			msgs = []dialogue.Sent{}
		}
		writeJSON(w, http.StatusOK, EventResponse{Messages: msgs})
	}
}
