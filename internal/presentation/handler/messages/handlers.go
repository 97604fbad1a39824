package messages

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/json"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
)

type Handler struct {
	roomRepository    domain.RoomRepository
	messageRepository domain.MessageRepository
	logger            logging.Logger
}

func NewHandler(
	roomRepository domain.RoomRepository,
	messageRepository domain.MessageRepository,
	logger logging.Logger,
) *Handler {
	return &Handler{
		roomRepository:    roomRepository,
		messageRepository: messageRepository,
		logger:            logger,
	}
}

// ListMessagesHandler returns the retained history of a room, oldest first.
func (h *Handler) ListMessagesHandler(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomRepository.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) || errors.Is(err, domain.ErrInvalidInput) {
			json.WriteError(w, http.StatusNotFound, "Room not found")
			return
		}
		json.WriteInternalError(w)
		return
	}

	msgs, err := h.messageRepository.GetByRoomCode(r.Context(), room.Code)
	if err != nil {
		h.logger.Error(logging.RequestResponse, logging.ExternalService, "failed to load messages", map[logging.ExtraKey]any{
			logging.RoomCode:     room.Code,
			logging.ErrorMessage: err.Error(),
		})
		json.WriteInternalError(w)
		return
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		kind := string(m.Kind)
		if kind == "" {
			kind = string(domain.KindChat)
		}
		resp = append(resp, messageResponse{
			Type:      kind,
			Username:  m.Username,
			Text:      m.Text,
			Timestamp: m.Timestamp,
		})
	}
	json.Write(w, http.StatusOK, resp)
}
