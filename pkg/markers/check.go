package markers

import (
	"context"
	"errors"
	"fmt"

	"github.com/mwantia/clickpoints/pkg/db/models"
)

// Report lists the repairs made by Check.
type Report struct {
	Unpaired        []uint
	DuplicatePoints []uint
	EmptyTracks     int
}

func (r Report) Empty() bool {
	return len(r.Unpaired) == 0 && len(r.DuplicatePoints) == 0 && r.EmptyTracks == 0
}

// Check verifies partner symmetry, one point per track and frame, and that
// no track is empty. In debug mode the first violation is returned as
// ErrInvariant; otherwise offending rows are repaired: broken partner links
// are cleared, duplicate track points and empty tracks are deleted.
func (m *Model) Check(ctx context.Context) (Report, error) {
	var report Report
	debug := m.config().Debug

	all, err := m.st.ListMarkers(ctx)
	if err != nil {
		return report, err
	}
	byID := make(map[uint]*models.Marker, len(all))
	for i := range all {
		byID[all[i].ID] = &all[i]
	}

	var violations []error
	for _, mk := range all {
		if mk.PartnerID == nil {
			continue
		}
		p, ok := byID[*mk.PartnerID]
		var reason string
		switch {
		case !ok:
			reason = "missing partner"
		case p.PartnerID == nil || *p.PartnerID != mk.ID:
			reason = "partner does not reference back"
		case p.ImageID != mk.ImageID:
			reason = "partner on another frame"
		case p.TypeID != mk.TypeID:
			reason = "partner of another type"
		case !mk.Type.Mode.Paired():
			reason = "partner on unpaired type"
		default:
			continue
		}
		violations = append(violations, fmt.Errorf("%w: marker %d: %s", ErrInvariant, mk.ID, reason))
		report.Unpaired = append(report.Unpaired, mk.ID)
	}

	dups, err := m.st.DuplicateTrackPoints(ctx)
	if err != nil {
		return report, err
	}
	for _, id := range dups {
		violations = append(violations, fmt.Errorf("%w: marker %d: second point of track on one frame", ErrInvariant, id))
	}
	report.DuplicatePoints = dups

	if debug && len(violations) > 0 {
		return report, errors.Join(violations...)
	}

	for _, id := range report.Unpaired {
		if err := m.st.SetPartners(ctx, id, 0); err != nil {
			return report, err
		}
	}
	if err := m.st.DeleteMarkersByID(ctx, dups); err != nil {
		return report, err
	}
	if report.EmptyTracks, err = m.st.DeleteEmptyTracks(ctx); err != nil {
		return report, err
	}
	if !report.Empty() {
		m.log.Warn("Repaired markers: %d unpaired, %d duplicate track points, %d empty tracks",
			len(report.Unpaired), len(report.DuplicatePoints), report.EmptyTracks)
	}
	return report, nil
}
