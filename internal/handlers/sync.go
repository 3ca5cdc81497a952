package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/revisit-backend/internal/domain"
	"github.com/yungbote/revisit-backend/internal/pkg/syncerr"
	"github.com/yungbote/revisit-backend/internal/syncx"
)

type SyncHandler struct {
	dispatcher *syncx.Dispatcher
}

func NewSyncHandler(dispatcher *syncx.Dispatcher) *SyncHandler {
	return &SyncHandler{dispatcher: dispatcher}
}

// SyncOne upserts a single record of the URL's kind across every store.
// The response reports the authoritative ID plus per-store outcomes;
// secondary failures do not change the status code.
func (sh *SyncHandler) SyncOne(c *gin.Context) {
	kind := domain.Kind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity kind"})
		return
	}

	rec := domain.NewRecord(kind)
	if err := c.ShouldBindJSON(rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	result, err := sh.dispatcher.Sync(c.Request.Context(), rec)
	if err != nil {
		c.JSON(syncStatusFor(err), gin.H{"error": err.Error()})
		return
	}

	outcomes := make([]gin.H, 0, len(result.Outcomes))
	for _, o := range result.Outcomes {
		out := gin.H{"store": o.Store, "ok": o.OK()}
		if o.Err != nil {
			out["error"] = o.Err.Error()
		}
		outcomes = append(outcomes, out)
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       result.Receipt.PrimaryID,
		"kind":     string(kind),
		"outcomes": outcomes,
	})
}

func syncStatusFor(err error) int {
	var refErr *syncerr.ReferenceResolutionError
	if errors.As(err, &refErr) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, syncerr.ErrConflict) {
		return http.StatusConflict
	}
	if errors.Is(err, syncerr.ErrInvalidArgument) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
