package http

import (
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/ice"
	"github.com/dkeye/proximity/internal/relay"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

type NickRequest struct {
	Name string `json:"name"`
}

type MeResponse struct {
	ClientToken string `json:"client_token"`
	Nickname    string `json:"nickname"`
	Color       string `json:"color"`
}

func handleICE(servers []ice.Server) gin.HandlerFunc {
	usable := ice.Filter(servers)
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, usable)
	}
}

func handleRooms(hub *relay.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, hub.List())
	}
}

// handleNickname remembers the display name in the cookie session so the
// page can prefill it on the next visit.
func handleNickname(c *gin.Context) {
	var req NickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid name"})
		return
	}
	name := strings.TrimSpace(req.Name)
	if utf8.RuneCountInString(name) > domain.MaxNicknameLen {
		c.JSON(http.StatusBadRequest, gin.H{"error": domain.ErrNicknameTooLong.Error()})
		return
	}
	sess := sessions.Default(c)
	sess.Set("nickname", name)
	if err := sess.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session save failed"})
		return
	}
	c.JSON(http.StatusOK, me(c))
}

// handleMe returns the browser's stored identity, assigning a color on the
// first visit.
func handleMe(c *gin.Context) {
	sess := sessions.Default(c)
	if _, ok := sess.Get("color").(string); !ok {
		sess.Set("color", domain.RandomColor(100))
		_ = sess.Save()
	}
	c.JSON(http.StatusOK, me(c))
}

func me(c *gin.Context) MeResponse {
	sess := sessions.Default(c)
	nick, _ := sess.Get("nickname").(string)
	color, _ := sess.Get("color").(string)
	return MeResponse{ClientToken: c.GetString("client_token"), Nickname: nick, Color: color}
}
