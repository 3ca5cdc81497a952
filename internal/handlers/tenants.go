package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/revisit-backend/internal/data/tenant"
	"github.com/yungbote/revisit-backend/internal/health"
)

type TenantHandler struct {
	provisioner tenant.Provisioner
	reporter    *health.Reporter
}

func NewTenantHandler(provisioner tenant.Provisioner, reporter *health.Reporter) *TenantHandler {
	return &TenantHandler{provisioner: provisioner, reporter: reporter}
}

// Provision creates the tenant's table set if it does not exist yet. The
// call is idempotent; an already provisioned tenant returns the same shape.
func (th *TenantHandler) Provision(c *gin.Context) {
	code := c.Param("code")
	tables, err := th.provisioner.Ensure(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tenant_code": tables.TenantCode,
		"tables": []string{
			tables.Customers,
			tables.ProjectBindings,
			tables.ProductBindings,
			tables.DoctorBindings,
			tables.ConsumptionRecords,
			tables.BirthdayReminders,
			tables.ReminderHistory,
			tables.Personalities,
			tables.Nicknames,
		},
	})
}

// Drift reconciles primary row counts against every registered secondary
// counter for one tenant.
func (th *TenantHandler) Drift(c *gin.Context) {
	report, err := th.reporter.Reconcile(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Repair replays the tenant's full primary dataset through the dispatcher
// to backfill missing secondary rows.
func (th *TenantHandler) Repair(c *gin.Context) {
	stats, err := th.reporter.Repair(c.Request.Context(), c.Param("code"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total":              stats.Total,
		"succeeded":          stats.Succeeded,
		"failed":             stats.Failed,
		"secondary_failures": stats.SecondaryFailures,
	})
}

// Orphans lists (and with ?drop=true removes) secondary-store structures
// that no longer belong to any known tenant or collection.
func (th *TenantHandler) Orphans(c *gin.Context) {
	drop, _ := strconv.ParseBool(c.Query("drop"))
	report, err := th.reporter.ScanOrphans(c.Request.Context(), drop)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orphans": report, "dropped": drop})
}
