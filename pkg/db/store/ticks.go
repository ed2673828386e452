package store

import "context"

// MarkerTicks returns sort indices of images of layerID carrying markers.
func (s *SQLiteStore) MarkerTicks(ctx context.Context, layerID uint) ([]int, error) {
	return s.ticks(ctx, "marker", layerID)
}

// MaskTicks returns sort indices of images of layerID carrying a mask.
func (s *SQLiteStore) MaskTicks(ctx context.Context, layerID uint) ([]int, error) {
	return s.ticks(ctx, "mask", layerID)
}

// AnnotationTicks returns sort indices of annotated images of layerID.
func (s *SQLiteStore) AnnotationTicks(ctx context.Context, layerID uint) ([]int, error) {
	return s.ticks(ctx, "annotation", layerID)
}

func (s *SQLiteStore) ticks(ctx context.Context, table string, layerID uint) ([]int, error) {
	var indices []int
	err := s.db.WithContext(ctx).Raw(`SELECT DISTINCT i.sort_index FROM "image" i
		JOIN "`+table+`" t ON t.image_id = i.id WHERE i.layer_id = ? ORDER BY i.sort_index`, layerID).Scan(&indices).Error
	return indices, err
}

// Stats counts the rows of each project table.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]int64, error) {
	tables := []string{"path", "layer", "image", "markertype", "marker", "track", "masktype", "mask", "annotation", "tag"}
	stats := make(map[string]int64, len(tables))
	for _, table := range tables {
		var n int64
		if err := s.db.WithContext(ctx).Table(table).Count(&n).Error; err != nil {
			return nil, err
		}
		stats[table] = n
	}
	return stats, nil
}
