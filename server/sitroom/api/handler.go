package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	commonauth "sitroom_server/server/common/auth"
	"sitroom_server/server/common/middleware"
	"sitroom_server/server/sitroom/domain"
	"sitroom_server/server/sitroom/service"
)

type Handler struct {
	rooms *service.RoomService
	auth  *commonauth.Service
}

func NewHandler(rooms *service.RoomService, jwtSecret string, jwtTTLMinutes int) *Handler {
	auth := commonauth.NewService(jwtSecret, jwtTTLMinutes)
	return &Handler{rooms: rooms, auth: auth}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, NewHealthResponse("ok")) })

	api := r.Group("/api/v1")
	api.Use(middleware.AuthRequired(h.auth))
	{
		api.GET("/token", h.getSessionToken)
		api.POST("/rooms", h.createRoom)
		api.GET("/rooms", h.listRooms)
		api.GET("/rooms/:id", h.getRoomContext)
		api.DELETE("/rooms/:id", h.deleteRoom)
		api.POST("/rooms/:id/resolve", h.resolveRoom)
		api.POST("/rooms/:id/invite", h.inviteUsers)
		api.POST("/rooms/:id/join", h.acceptInvitation)
		api.DELETE("/rooms/:id/members/:userId", h.removeParticipant)
		api.POST("/posts", h.postMessage)
		api.GET("/unread", h.getUnreadCounts)
	}
}

func (h *Handler) getSessionToken(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	token, err := h.rooms.GetSessionToken(c.Request.Context(), tenantID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, token)
}

func (h *Handler) createRoom(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req struct {
		Name          string   `json:"name" binding:"required"`
		Purpose       string   `json:"purpose" binding:"required"`
		Header        string   `json:"header"`
		RoomType      string   `json:"room_type"`
		SituationType string   `json:"situation_type" binding:"required"`
		EntityType    string   `json:"entity_type" binding:"required"`
		EntityIDs     []string `json:"entity_ids" binding:"required"`
		Participants  []string `json:"participants" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	if req.RoomType == "" {
		req.RoomType = "P"
	}
	body, err := h.rooms.CreateRoom(c.Request.Context(), tenantID, userID, service.CreateRoomInput{
		Name:          req.Name,
		Purpose:       req.Purpose,
		Header:        req.Header,
		RoomType:      req.RoomType,
		SituationType: req.SituationType,
		EntityType:    req.EntityType,
		EntityIDs:     req.EntityIDs,
		Participants:  req.Participants,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) listRooms(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	items, err := h.rooms.GetChannels(c.Request.Context(), tenantID, userID, c.Query("by"), c.Query("type"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) getRoomContext(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	item, err := h.rooms.GetChannelContext(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) deleteRoom(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	body, err := h.rooms.DeleteRoom(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) resolveRoom(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req struct {
		Resolution []string `json:"resolution" binding:"required"`
		Remark     string   `json:"resolution_remark"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	item, err := h.rooms.ResolveRoom(c.Request.Context(), tenantID, userID, c.Param("id"), service.ResolveInput{
		Types:  req.Resolution,
		Remark: req.Remark,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, item)
}

func (h *Handler) inviteUsers(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var req struct {
		Users []string `json:"users" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	body, err := h.rooms.InviteUsers(c.Request.Context(), tenantID, userID, c.Param("id"), req.Users)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) acceptInvitation(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	body, err := h.rooms.AcceptInvitation(c.Request.Context(), tenantID, userID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) removeParticipant(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	body, err := h.rooms.RemoveParticipant(c.Request.Context(), tenantID, userID, c.Param("id"), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) postMessage(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	var payload map[string]any
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	body, err := h.rooms.PostMessage(c.Request.Context(), tenantID, userID, payload)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, body)
}

func (h *Handler) getUnreadCounts(c *gin.Context) {
	tenantID, userID, ok := h.identity(c)
	if !ok {
		return
	}
	items, err := h.rooms.GetUnreadCounts(c.Request.Context(), tenantID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

func (h *Handler) identity(c *gin.Context) (tenantID, userID string, ok bool) {
	tenantID, err := tenantFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return "", "", false
	}
	userID, err = actorFromContext(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(err.Error()))
		return "", "", false
	}
	return tenantID, userID, true
}

func actorFromContext(c *gin.Context) (string, error) {
	rawID, ok := c.Get("auth_user_id")
	if !ok {
		return "", fmt.Errorf(ErrUnauthorized)
	}
	userID, ok := rawID.(string)
	if !ok {
		return "", fmt.Errorf(ErrUnauthorized)
	}
	return userID, nil
}

func tenantFromContext(c *gin.Context) (string, error) {
	rawTenantID, ok := c.Get("auth_tenant_id")
	if !ok {
		return "", fmt.Errorf(ErrUnauthorized)
	}
	tenantID, ok := rawTenantID.(string)
	if !ok {
		return "", fmt.Errorf(ErrUnauthorized)
	}
	return tenantID, nil
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusForError(err), NewErrorResponse(err.Error()))
}

func statusForError(err error) int {
	switch domain.CodeOf(err) {
	case domain.CodeValidation:
		return http.StatusBadRequest
	case domain.CodeRoomNotFound, domain.CodeInvalidRoom, domain.CodeChannelGone, domain.CodeNotMember:
		return http.StatusNotFound
	case domain.CodeUnauthorized:
		return http.StatusForbidden
	case domain.CodeConflict:
		return http.StatusConflict
	case domain.CodeRemoteFailed, domain.CodeProvisioning:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
