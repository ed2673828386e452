package export

import (
	"fmt"
	"time"

	"github.com/mwantia/clickpoints/pkg/pipeline"
	"github.com/ncruces/go-strftime"
)

// captionText formats the time caption of the n-th exported frame. Elapsed
// time counts from the first frame with a timestamp, or from n and the
// export rate for frames without one.
func captionText(cfg Config, frame *pipeline.Frame, n int, first **time.Time) string {
	var ts *time.Time
	if frame.Image != nil {
		ts = frame.Image.Timestamp
	}

	if cfg.TimeMode == TimeWallclock {
		if ts == nil {
			return ""
		}
		layout := cfg.TimeFormat
		if layout == "" {
			layout = "%Y-%m-%d %H:%M:%S"
		}
		return strftime.Format(layout, *ts)
	}

	var elapsed time.Duration
	switch {
	case ts != nil && *first == nil:
		*first = ts
	case ts != nil:
		elapsed = ts.Sub(**first)
	default:
		elapsed = time.Duration(float64(n) / cfg.FPS * float64(time.Second))
	}
	return formatElapsed(elapsed)
}

func formatElapsed(d time.Duration) string {
	sign := ""
	if d < 0 {
		sign, d = "-", -d
	}
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%s%02d:%02d:%04.1f", sign, h, m, s)
}
