package markers

import (
	"context"
	"fmt"

	"github.com/mwantia/clickpoints/pkg/db/models"
)

// DeletePolicy decides what happens to the markers of a deleted type.
type DeletePolicy struct {
	cascade    bool
	reassignTo uint
}

// Cascade deletes the markers and tracks of the type with it.
func Cascade() DeletePolicy {
	return DeletePolicy{cascade: true}
}

// ReassignTo moves the markers and tracks of the type to typeID.
func ReassignTo(typeID uint) DeletePolicy {
	return DeletePolicy{reassignTo: typeID}
}

// DeleteType removes a marker type. Types still referenced by markers need
// an explicit policy; the zero policy only deletes unused types.
func (m *Model) DeleteType(ctx context.Context, id uint, policy DeletePolicy) error {
	count, err := m.st.CountMarkersOfType(ctx, id)
	if err != nil {
		return err
	}

	var reassign *uint
	switch {
	case policy.reassignTo != 0:
		target, err := m.st.GetMarkerType(ctx, policy.reassignTo)
		if err != nil {
			return fmt.Errorf("marker type %d: %w", policy.reassignTo, err)
		}
		reassign = &target.ID
	case policy.cascade:
	case count > 0:
		return fmt.Errorf("%w: type %d has %d markers", ErrPolicyRequired, id, count)
	}

	if err := m.st.DeleteMarkerType(ctx, id, reassign); err != nil {
		return fmt.Errorf("failed to delete marker type %d: %w", id, err)
	}
	m.log.Info("Deleted marker type %d (%d markers affected)", id, count)

	if active := m.ActiveType(); active != nil && active.ID == id {
		m.SetActiveType(nil)
	}
	if _, err := m.currentImage(); err == nil {
		return m.refresh(ctx)
	}
	return nil
}

// EnsureType returns the type called name, creating it with the given mode
// and colour when missing.
func (m *Model) EnsureType(ctx context.Context, name string, mode models.MarkerMode, color string) (*models.MarkerType, error) {
	t, err := m.st.GetMarkerTypeByName(ctx, name)
	if err == nil {
		return t, nil
	}
	t = &models.MarkerType{Name: name, Mode: mode, Color: color}
	if err := m.st.SaveMarkerType(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}
