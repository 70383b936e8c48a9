package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	archivaldomain "github.com/smallbiznis/billarchive/internal/archival/domain"
	"github.com/smallbiznis/billarchive/internal/observability/logger"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/smallbiznis/billarchive/pkg/db/pagination"
	"go.uber.org/zap"
)

const RecordTierHeader = "X-Record-Tier"

// GetRecord returns the record body from whichever tier holds it.
func (s *Server) GetRecord(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	customerID := strings.TrimSpace(c.Query("customer_id"))

	record, tier, err := s.retriever.Locate(c.Request.Context(), id, customerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("tier", string(tier))
	c.Header(RecordTierHeader, string(tier))
	c.JSON(http.StatusOK, record)
}

func (s *Server) PutRecord(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil || len(body) == 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	record, err := recorddomain.ParseRecord(body)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.catalog.PutRecord(c.Request.Context(), record); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("tier", string(archivaldomain.TierHot))
	c.JSON(http.StatusOK, gin.H{"data": record})
}

// ArchiveRecord migrates one record on demand. The retention policy applies
// unless force=true.
func (s *Server) ArchiveRecord(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		AbortWithError(c, archivaldomain.ErrInvalidID)
		return
	}
	force, err := parseOptionalBool(c.Query("force"))
	if err != nil {
		AbortWithError(c, newValidationError("force", "invalid_force", "invalid force"))
		return
	}

	ctx := c.Request.Context()
	record, tier, err := s.retriever.Locate(ctx, id, strings.TrimSpace(c.Query("customer_id")))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if tier == archivaldomain.TierCold {
		AbortWithError(c, fmt.Errorf("%w: %s", archivaldomain.ErrAlreadyMigrated, id))
		return
	}
	if (force == nil || !*force) && !s.policy.Policy().ShouldArchive(record, s.clock.Now()) {
		AbortWithError(c, ErrNotEligible)
		return
	}

	md, err := s.migrator.Migrate(ctx, record)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("tier", string(archivaldomain.TierCold))
	c.JSON(http.StatusOK, gin.H{"data": md})
}

type processChangesRequest struct {
	Records []json.RawMessage `json:"records"`
}

// ProcessChanges is the push trigger for a batch of the hot store change
// feed. Per-record failures are reported in the summary; the feed redelivers.
func (s *Server) ProcessChanges(c *gin.Context) {
	var req processChangesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	records := make([]recorddomain.Record, 0, len(req.Records))
	for i, raw := range req.Records {
		record, err := recorddomain.ParseRecord(raw)
		if err != nil {
			field := "records[" + strconv.Itoa(i) + "]"
			AbortWithError(c, newValidationError(field, "invalid_record", err.Error()))
			return
		}
		records = append(records, record)
	}

	ctx := c.Request.Context()
	summary, err := s.migrator.ProcessChanges(ctx, records, s.clock.Now())
	if err != nil {
		logger.WithContext(ctx, s.log).Warn("change batch finished with failures",
			zap.Int("failed", summary.Failed),
			zap.Int("archived", summary.Archived),
			zap.Error(err),
		)
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) ListArchived(c *gin.Context) {
	var query struct {
		pagination.Pagination
		CustomerID string `form:"customer_id"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.catalog.ListArchived(c.Request.Context(), archivaldomain.ListArchivedRequest{
		CustomerID: strings.TrimSpace(query.CustomerID),
		PageToken:  query.PageToken,
		PageSize:   int32(query.PageSize),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}
