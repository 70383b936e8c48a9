package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/billarchive/internal/archival/domain"
	hotstoredomain "github.com/smallbiznis/billarchive/internal/hotstore/domain"
	recorddomain "github.com/smallbiznis/billarchive/internal/record/domain"
	"github.com/smallbiznis/billarchive/pkg/db/pagination"
)

// ListArchived pages through the archival metadata of one customer in
// record_id order.
func (s *Service) ListArchived(ctx context.Context, req domain.ListArchivedRequest) (domain.ListArchivedResponse, error) {
	customerID := strings.TrimSpace(req.CustomerID)
	if customerID == "" {
		return domain.ListArchivedResponse{}, fmt.Errorf("%w: customer_id is required", domain.ErrInvalidID)
	}
	pageSize := pagination.ClampPageSize(req.PageSize)

	filter := hotstoredomain.Filter{
		Type:         recorddomain.TypeMetadata,
		PartitionKey: customerID,
		Limit:        int(pageSize) + 1,
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListArchivedResponse{}, fmt.Errorf("%w: %v", domain.ErrInvalidID, err)
		}
		filter.RecordIDAfter = cursor.ID
	}

	docs, err := s.hot.Query(ctx, filter)
	if err != nil {
		return domain.ListArchivedResponse{}, err
	}

	items := make([]*recorddomain.ArchivalMetadata, 0, len(docs))
	for _, doc := range docs {
		md, err := doc.Metadata()
		if err != nil {
			return domain.ListArchivedResponse{}, err
		}
		items = append(items, &md)
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, func(md *recorddomain.ArchivalMetadata) string {
		token, err := pagination.EncodeCursor(pagination.Cursor{
			ID:        md.RecordID,
			CreatedAt: md.CreatedAt,
		})
		if err != nil {
			return ""
		}
		return token
	})
	if len(items) > int(pageSize) {
		items = items[:pageSize]
	}

	out := make([]recorddomain.ArchivalMetadata, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListArchivedResponse{Items: out, PageInfo: *pageInfo}, nil
}
