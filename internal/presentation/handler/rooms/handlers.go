package rooms

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/json"
	"github.com/tshare/publicroom/internal/infrastructure/logging"
	"github.com/tshare/publicroom/internal/infrastructure/ws"
)

type Handler struct {
	roomRepository domain.RoomRepository
	core           *ws.Core
	logger         logging.Logger
}

func NewHandler(roomRepository domain.RoomRepository, core *ws.Core, logger logging.Logger) *Handler {
	return &Handler{
		roomRepository: roomRepository,
		core:           core,
		logger:         logger,
	}
}

// ValidateRoomHandler answers whether a code names an active room.
func (h *Handler) ValidateRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := domain.NormalizeCode(chi.URLParam(r, "code"))
	if err := domain.ValidateCode(code); err != nil {
		json.WriteResult(w, http.StatusBadRequest, false, ws.ReasonInvalidRoomCode)
		return
	}

	room, err := h.roomRepository.GetByCode(r.Context(), code)
	if err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			json.WriteResult(w, http.StatusNotFound, false, ws.ReasonRoomNotFound)
			return
		}
		h.internalError(w, "failed to validate room", err)
		return
	}

	if !room.Active {
		json.WriteResult(w, http.StatusForbidden, false, ws.ReasonRoomInactive)
		return
	}

	json.WriteResult(w, http.StatusOK, true, "")
}

func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	var (
		room *domain.Room
		err  error
	)
	if req.Code != "" {
		room, err = domain.NewRoomWithCode(req.Code, req.Name)
	} else {
		room, err = domain.NewRoom(req.Name)
	}
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRoomCode) {
			json.WriteError(w, http.StatusBadRequest, ws.ReasonInvalidRoomCode)
			return
		}
		h.internalError(w, "failed to create room", err)
		return
	}

	if err := h.roomRepository.Create(r.Context(), room); err != nil {
		if errors.Is(err, domain.ErrRoomAlreadyExists) {
			json.WriteError(w, http.StatusConflict, "Room already exists")
			return
		}
		if errors.Is(err, domain.ErrRoomStoreFull) {
			json.WriteError(w, http.StatusServiceUnavailable, "No room available, try again later")
			return
		}
		h.internalError(w, "failed to store room", err)
		return
	}

	h.logger.Info(logging.Room, logging.Startup, "room created", map[logging.ExtraKey]any{
		logging.RoomCode: room.Code,
	})
	json.Write(w, http.StatusCreated, toRoomResponse(room))
}

func (h *Handler) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	room, err := h.roomRepository.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.lookupError(w, err)
		return
	}
	json.Write(w, http.StatusOK, toRoomResponse(room))
}

func (h *Handler) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	rooms, err := h.roomRepository.List(r.Context())
	if err != nil {
		h.internalError(w, "failed to list rooms", err)
		return
	}

	resp := make([]roomResponse, 0, len(rooms))
	for i := range rooms {
		resp = append(resp, toRoomResponse(&rooms[i]))
	}
	json.Write(w, http.StatusOK, resp)
}

// SetActiveHandler turns a room on or off. Participants already in a
// deactivated room stay, but new joins are refused.
func (h *Handler) SetActiveHandler(w http.ResponseWriter, r *http.Request) {
	var req setActiveRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}
	if req.Active == nil {
		json.WriteValidationError(w, errors.New("active is required"))
		return
	}

	room, err := h.roomRepository.GetByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.lookupError(w, err)
		return
	}

	room.Active = *req.Active
	if err := h.roomRepository.Update(r.Context(), room); err != nil {
		h.lookupError(w, err)
		return
	}

	json.Write(w, http.StatusOK, toRoomResponse(room))
}

func (h *Handler) SocketHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.core.Serve(w, r); err != nil {
		h.logger.Warn(logging.Transport, logging.Dial, "websocket upgrade failed", map[logging.ExtraKey]any{
			logging.ClientIp:     r.RemoteAddr,
			logging.ErrorMessage: err.Error(),
		})
	}
}

func (h *Handler) lookupError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound):
		json.WriteError(w, http.StatusNotFound, ws.ReasonRoomNotFound)
	case errors.Is(err, domain.ErrInvalidInput):
		json.WriteError(w, http.StatusBadRequest, ws.ReasonInvalidRoomCode)
	default:
		h.internalError(w, "room lookup failed", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(logging.RequestResponse, logging.ExternalService, msg, map[logging.ExtraKey]any{
		logging.ErrorMessage: err.Error(),
	})
	json.WriteInternalError(w)
}
