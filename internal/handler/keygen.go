package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/amrrdev/keygen/internal/service"
	"github.com/gin-gonic/gin"
)

// maxBodyBytes bounds POST /keygen bodies; anything larger is treated like a
// malformed body and falls back to defaults.
const maxBodyBytes = 4 << 10

type KeygenHandler struct {
	keygenService *service.Keygen
}

func NewKeygenHandler(keygenService *service.Keygen) *KeygenHandler {
	return &KeygenHandler{
		keygenService: keygenService,
	}
}

func (h *KeygenHandler) Submit(c *gin.Context) {
	var body []byte
	if c.Request.Body != nil {
		data, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
		if err == nil && len(data) <= maxBodyBytes {
			body = data
		}
	}

	resp, err := h.keygenService.Submit(c.Request.Context(), body)
	if err != nil {
		message := "Internal server error"
		if errors.Is(err, service.ErrQueueUnavailable) {
			message = service.ErrQueueUnavailable.Error()
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": message,
		})
		return
	}

	c.JSON(http.StatusAccepted, resp)
}

func (h *KeygenHandler) Result(c *gin.Context) {
	res := h.keygenService.Status(c.Request.Context(), c.Param("request_id"))
	c.JSON(res.Code, res.Body)
}

func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
