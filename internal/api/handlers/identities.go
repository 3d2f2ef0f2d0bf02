package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/fdclock/internal/session"
	"github.com/your-org/fdclock/pkg/dto"
)

// maxPhotoBytes caps enrollment uploads.
const maxPhotoBytes = 10 << 20

type IdentityHandler struct {
	svc *session.Service
}

func NewIdentityHandler(svc *session.Service) *IdentityHandler {
	return &IdentityHandler{svc: svc}
}

// Create enrolls an identity from a supplied embedding.
func (h *IdentityHandler) Create(c *gin.Context) {
	var req dto.EnrollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	identity, err := h.svc.Enroll(c.Request.Context(), req.ExternalID, req.DisplayName, req.Embedding)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, IdentityResponse(session.IdentityView{Identity: identity}))
}

// CreateFromPhoto accepts a multipart image upload, extracts the embedding
// of the most confident face and enrolls it.
func (h *IdentityHandler) CreateFromPhoto(c *gin.Context) {
	externalID := c.PostForm("external_id")
	displayName := c.PostForm("display_name")
	if externalID == "" || displayName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id and display_name required"})
		return
	}

	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return
	}
	defer file.Close()

	photo, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return
	}

	identity, err := h.svc.EnrollPhoto(c.Request.Context(), externalID, displayName, photo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, IdentityResponse(session.IdentityView{Identity: identity}))
}

func (h *IdentityHandler) List(c *gin.Context) {
	views := h.svc.ListIdentities()
	resp := make([]dto.IdentityResponse, 0, len(views))
	for _, v := range views {
		resp = append(resp, IdentityResponse(v))
	}
	c.JSON(http.StatusOK, dto.IdentityListResponse{Identities: resp, Total: len(resp)})
}

func (h *IdentityHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	v, err := h.svc.GetIdentity(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, IdentityResponse(v))
}

func (h *IdentityHandler) Rename(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req dto.RenameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	v, err := h.svc.RenameIdentity(c.Request.Context(), id, req.DisplayName)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, IdentityResponse(v))
}

func (h *IdentityHandler) Delete(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.svc.DeleteIdentity(c.Request.Context(), id); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Events lists one identity's attendance, newest first.
func (h *IdentityHandler) Events(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if _, err := h.svc.GetIdentity(id); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, EventListResponse(h.svc.EventsForIdentity(id)))
}

// Search ranks enrolled identities against a supplied embedding.
func (h *IdentityHandler) Search(c *gin.Context) {
	var req dto.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Limit <= 0 || req.Limit > 100 {
		req.Limit = 10
	}

	results, err := h.svc.Search(req.Embedding, req.Limit)
	if err != nil {
		writeError(c, err)
		return
	}

	threshold := h.svc.Threshold()
	resp := make([]dto.SearchResult, 0, len(results))
	for _, r := range results {
		resp = append(resp, dto.SearchResult{
			IdentityID:  r.Identity.ID,
			ExternalID:  r.Identity.ExternalID,
			DisplayName: r.Identity.DisplayName,
			Score:       r.Similarity,
			Qualifies:   r.Similarity >= threshold,
		})
	}
	c.JSON(http.StatusOK, gin.H{"results": resp})
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid identity id"})
		return uuid.Nil, false
	}
	return id, true
}
