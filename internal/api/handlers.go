package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sweeney/asterisk-ledger/internal/store"
)

type phoneQuery struct {
	PhoneNumber string `form:"phoneNumber" binding:"required"`
}

type callIDQuery struct {
	CallID int64 `form:"callId" binding:"required,gt=0"`
}

type pairQuery struct {
	CallerNumber string `form:"callerNumber" binding:"required"`
	CalledNumber string `form:"calledNumber" binding:"required"`
}

type uniqueIDQuery struct {
	UniqueID string `form:"uniqueId" binding:"required"`
}

type addContactRequest struct {
	Number   string `json:"number" binding:"required"`
	Name     string `json:"name"`
	City     string `json:"city"`
	Internal *int   `json:"internal" binding:"omitempty,oneof=0 1"`
}

type updateLocationRequest struct {
	CallID   int64  `json:"callId" binding:"required,gt=0"`
	Location string `json:"location" binding:"required"`
}

func (s *Server) healthz(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	body := gin.H{"status": "ok"}
	if s.activeCalls != nil {
		body["active_calls"] = s.activeCalls()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) testConnection(c *gin.Context) {
	status, message := "ok", "database reachable"
	code := http.StatusOK
	if err := s.store.Ping(c.Request.Context()); err != nil {
		status, message = "error", err.Error()
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) getAllCalls(c *gin.Context) {
	calls, err := s.store.ListCalls(c.Request.Context())
	if err != nil {
		s.fail(c, "listing calls", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(calls))
}

func (s *Server) findContact(c *gin.Context) {
	var q phoneQuery
	if !s.bindQuery(c, &q) {
		return
	}
	contact, err := s.store.FindContact(c.Request.Context(), q.PhoneNumber)
	if err != nil {
		s.fail(c, "finding contact", err)
		return
	}
	if contact == nil {
		c.JSON(http.StatusNotFound, gin.H{"message": "contact not found", "phoneNumber": q.PhoneNumber})
		return
	}
	c.JSON(http.StatusOK, contact)
}

func (s *Server) allContacts(c *gin.Context) {
	contacts, err := s.store.ListContacts(c.Request.Context())
	if err != nil {
		s.fail(c, "listing contacts", err)
		return
	}
	if len(contacts) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"message": "no contacts"})
		return
	}
	c.JSON(http.StatusOK, contacts)
}

func (s *Server) addContact(c *gin.Context) {
	var req addContactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	contact := store.Contact{
		Number:   strings.TrimSpace(req.Number),
		Name:     strings.TrimSpace(req.Name),
		City:     strings.TrimSpace(req.City),
		Internal: req.Internal,
	}
	if err := s.store.UpsertContact(c.Request.Context(), contact); err != nil {
		s.fail(c, "saving contact", err)
		return
	}
	s.log(c).Info("contact saved", "number", contact.Number)
	c.JSON(http.StatusOK, contact)
}

func (s *Server) findCall(c *gin.Context) {
	var q callIDQuery
	if !s.bindQuery(c, &q) {
		return
	}
	call, err := s.store.CallByID(c.Request.Context(), q.CallID)
	if err != nil {
		s.fail(c, "finding call", err)
		return
	}
	c.JSON(http.StatusOK, call)
}

func (s *Server) updateCallLocation(c *gin.Context) {
	var req updateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.badRequest(c, err)
		return
	}
	if err := s.store.UpdateCallExtra(c.Request.Context(), req.CallID, req.Location); err != nil {
		s.fail(c, "updating call location", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "location updated", "callId": req.CallID})
}

func (s *Server) getCallsByNumber(c *gin.Context) {
	var q phoneQuery
	if !s.bindQuery(c, &q) {
		return
	}
	calls, err := s.store.CallsByNumber(c.Request.Context(), q.PhoneNumber)
	if err != nil {
		s.fail(c, "listing calls by number", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(calls))
}

func (s *Server) getIncompleteContacts(c *gin.Context) {
	contacts, err := s.store.IncompleteContacts(c.Request.Context())
	if err != nil {
		s.fail(c, "listing incomplete contacts", err)
		return
	}
	c.JSON(http.StatusOK, nonNil(contacts))
}

func (s *Server) deleteContact(c *gin.Context) {
	var q phoneQuery
	if !s.bindQuery(c, &q) {
		return
	}
	if err := s.store.DeleteContact(c.Request.Context(), q.PhoneNumber); err != nil {
		s.fail(c, "deleting contact", err)
		return
	}
	s.log(c).Info("contact deleted", "number", q.PhoneNumber)
	c.JSON(http.StatusOK, gin.H{"message": "contact deleted", "phoneNumber": q.PhoneNumber})
}

// deleteCall removes the most recent call between a caller and a callee.
func (s *Server) deleteCall(c *gin.Context) {
	var q pairQuery
	if !s.bindQuery(c, &q) {
		return
	}
	ctx := c.Request.Context()
	call, err := s.store.LatestCallBetween(ctx, q.CallerNumber, q.CalledNumber)
	if err != nil {
		s.fail(c, "finding call", err)
		return
	}
	if err := s.store.DeleteCallByKey(ctx, call.CorrelationKey); err != nil {
		s.fail(c, "deleting call", err)
		return
	}
	s.log(c).Info("call deleted", "key", call.CorrelationKey)
	c.JSON(http.StatusOK, gin.H{"message": "call deleted", "uniqueId": call.CorrelationKey})
}

func (s *Server) deleteCallByID(c *gin.Context) {
	var q uniqueIDQuery
	if !s.bindQuery(c, &q) {
		return
	}
	key := strings.TrimSpace(q.UniqueID)
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request", "error": "uniqueId is blank"})
		return
	}
	if err := s.store.DeleteCallByKey(c.Request.Context(), key); err != nil {
		s.fail(c, "deleting call", err)
		return
	}
	s.log(c).Info("call deleted", "key", key)
	c.JSON(http.StatusOK, gin.H{"message": "call deleted", "uniqueId": key})
}

func (s *Server) bindQuery(c *gin.Context, dst any) bool {
	if err := c.ShouldBindQuery(dst); err != nil {
		s.badRequest(c, err)
		return false
	}
	return true
}

func (s *Server) badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request", "error": err.Error()})
}

// fail maps store errors to a response: ErrNotFound is 404, anything else 500.
func (s *Server) fail(c *gin.Context, action string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"message": action + ": not found", "error": err.Error()})
		return
	}
	s.log(c).Error(action+" failed", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"message": action + " failed", "error": err.Error()})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
