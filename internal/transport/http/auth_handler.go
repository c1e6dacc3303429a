package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Username string `json:"username" binding:"required,min=3,max=50"`
	Password string `json:"password" binding:"required,min=4,max=72"`
}

func (s *Server) register(c *gin.Context) {
	var req credentialsRequest
	if !bind(c, &req) {
		return
	}
	user, err := s.auth.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusCreated, user)
}

func (s *Server) login(c *gin.Context) {
	var req credentialsRequest
	if !bind(c, &req) {
		return
	}
	token, err := s.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	maxAge := int(time.Until(token.ExpiresAt).Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, token.Token, maxAge, "/", "", s.secure, true)
	success(c, http.StatusOK, token)
}

func (s *Server) logout(c *gin.Context) {
	if err := s.auth.Logout(c.Request.Context(), c.GetString(ctxToken)); err != nil {
		s.fail(c, err)
		return
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(sessionCookie, "", -1, "/", "", s.secure, true)
	success(c, http.StatusOK, gin.H{"loggedOut": true})
}

func (s *Server) currentUser(c *gin.Context) {
	user, err := s.auth.User(c.Request.Context(), callerFrom(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, http.StatusOK, user)
}
