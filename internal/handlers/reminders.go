package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/revisit-backend/internal/data/primary"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/reminders"
)

const dateLayout = "2006-01-02"

type ReminderHandler struct {
	svc       *reminders.Service
	store     primary.Store
	daysAhead int
}

func NewReminderHandler(svc *reminders.Service, store primary.Store, daysAhead int) *ReminderHandler {
	return &ReminderHandler{svc: svc, store: store, daysAhead: daysAhead}
}

// List returns reminders in a date window, pending first. Defaults cover
// today through the configured lookahead.
func (rh *ReminderHandler) List(c *gin.Context) {
	code := c.Param("code")

	now := time.Now()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	to := from.AddDate(0, 0, rh.daysAhead)
	var err error
	if raw := c.Query("from"); raw != "" {
		if from, err = time.Parse(dateLayout, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from date"})
			return
		}
	}
	if raw := c.Query("to"); raw != "" {
		if to, err = time.Parse(dateLayout, raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to date"})
			return
		}
	}

	var status reminders.Status
	if raw := c.Query("status"); raw != "" {
		if status, err = reminders.ParseStatus(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown reminder status"})
			return
		}
	}

	list, err := rh.svc.List(c.Request.Context(), code, from, to, status)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_code": code, "reminders": list})
}

// Derive generates pending reminders for customers with upcoming birthdays.
func (rh *ReminderHandler) Derive(c *gin.Context) {
	code := c.Param("code")
	daysAhead := rh.daysAhead
	if raw := c.Query("days_ahead"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days_ahead"})
			return
		}
		daysAhead = n
	}

	created, err := rh.svc.DeriveBirthdayReminders(c.Request.Context(), code, daysAhead)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tenant_code": code, "created": created})
}

// SetStatus advances one reminder through its lifecycle.
func (rh *ReminderHandler) SetStatus(c *gin.Context) {
	code := c.Param("code")

	var req struct {
		CustomerCode string `json:"customer_code"`
		ReminderDate string `json:"reminder_date"`
		Status       string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reminderDate, err := time.Parse(dateLayout, req.ReminderDate)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid reminder_date"})
		return
	}
	next, err := reminders.ParseStatus(req.Status)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown reminder status"})
		return
	}

	updated, err := rh.svc.SetStatus(c.Request.Context(), code, req.CustomerCode, reminderDate, next)
	if err != nil {
		c.JSON(reminderStatusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// Birthdays lists active customers with a birthday inside the lookahead
// window, soonest first.
func (rh *ReminderHandler) Birthdays(c *gin.Context) {
	code := c.Param("code")
	daysAhead := rh.daysAhead
	if raw := c.Query("days_ahead"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid days_ahead"})
			return
		}
		daysAhead = n
	}

	customers, err := rh.store.UpcomingBirthdays(c.Request.Context(), code, daysAhead)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_code": code,
		"days_ahead":  daysAhead,
		"customers":   customers,
	})
}

func reminderStatusFor(err error) int {
	var transErr *reminders.TransitionError
	if errors.As(err, &transErr) {
		return http.StatusConflict
	}
	var refErr *syncerr.ReferenceResolutionError
	if errors.As(err, &refErr) {
		return http.StatusNotFound
	}
	if errors.Is(err, syncerr.ErrInvalidArgument) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
