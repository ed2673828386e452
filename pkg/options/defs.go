package options

// Kind is the value type of an option.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
	KindIntList
	KindStringList
	KindFloatMap
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindIntList:
		return "int-list"
	case KindStringList:
		return "string-list"
	case KindFloatMap:
		return "float-map"
	default:
		return "unknown"
	}
}

// Def declares one option.
type Def struct {
	Key      string
	Category string
	Kind     Kind
	Default  any
	Min      *float64
	Max      *float64
	Choices  []string
	Help     string
}

func bound(v float64) *float64 {
	return &v
}

// Option keys used across packages.
const (
	KeyFPS               = "fps"
	KeySkip              = "skip"
	KeyPlayStart         = "play_start"
	KeyPlayEnd           = "play_end"
	KeyBufferMode        = "buffer_mode"
	KeyBufferSize        = "buffer_size"
	KeyBufferMemory      = "buffer_memory"
	KeyRotation          = "rotation"
	KeyTimestampFormats  = "timestamp_formats"
	KeyTimestampFormats2 = "timestamp_formats2"
	KeyDisplayTimeFormat = "display_timeformat"
	KeyAutoContrast      = "auto_contrast"
	KeyContrast          = "contrast"
	KeyConnectNearest    = "tracking_connect_nearest"
	KeyTrailing          = "tracking_show_trailing"
	KeyLeading           = "tracking_show_leading"
	KeyMaskOpacity       = "mask_opacity"
	KeyMaskBrushSize     = "mask_brush_size"
	KeyAutoMaskUpdate    = "auto_mask_update"
	KeyMaxImageSize      = "max_image_size"
	KeyExportVideo       = "export_video_filename"
	KeyExportImage       = "export_image_filename"
	KeyExportType        = "export_type"
	KeyExportFPS         = "export_video_fps"
	KeyExportQuality     = "export_video_quality"
	KeyExportTimestamp   = "export_timestamp"
	KeyExportTimeMode    = "export_timestamp_mode"
	KeyExportTimeSize    = "export_timestamp_size"
	KeyExportTimeColor   = "export_timestamp_color"
	KeyExportMarkers     = "export_markers"
	KeyDebug             = "debug"
)

// Defaults returns the built-in option declarations in display order.
func Defaults() []Def {
	return []Def{
		{Key: KeyFPS, Category: "Timeline", Kind: KindFloat, Default: 25.0, Min: bound(0.1), Max: bound(1000), Help: "target frames per second while playing"},
		{Key: KeySkip, Category: "Timeline", Kind: KindInt, Default: 1, Min: bound(1), Help: "frames advanced per step"},
		{Key: KeyPlayStart, Category: "Timeline", Kind: KindFloat, Default: 0.0, Min: bound(0), Help: "first frame, fractions below 1 are relative"},
		{Key: KeyPlayEnd, Category: "Timeline", Kind: KindFloat, Default: 1.0, Min: bound(0), Help: "last frame, fractions up to 1 are relative"},
		{Key: KeyDisplayTimeFormat, Category: "Timeline", Kind: KindString, Default: "%Y-%m-%d %H:%M:%S"},
		{Key: KeyTimestampFormats, Category: "Timeline", Kind: KindStringList, Default: []string{
			`^(?P<timestamp>%Y%m%d-%H%M%S)_`,
			`^(?P<timestamp>%Y%m%d-%H%M%S)`,
			`^(?P<timestamp>%Y%m%d_%H%M%S)`,
			`^(?P<timestamp>%Y-%m-%d_%H-%M-%S)`,
			`(?P<timestamp>%Y%m%d-%H%M%S)`,
		}, Help: "filename patterns for single-shot timestamps"},
		{Key: KeyTimestampFormats2, Category: "Timeline", Kind: KindStringList, Default: []string{
			`^(?P<timestamp>%Y%m%d-%H%M%S)_(?P<timestamp2>%Y%m%d-%H%M%S)`,
			`^(?P<timestamp>%Y%m%d_%H%M%S)_(?P<timestamp2>%Y%m%d_%H%M%S)`,
		}, Help: "filename patterns for start/end timestamp ranges"},

		{Key: KeyBufferMode, Category: "Buffer", Kind: KindString, Default: "count", Choices: []string{"off", "count", "memory"}},
		{Key: KeyBufferSize, Category: "Buffer", Kind: KindInt, Default: 30, Min: bound(1), Max: bound(100000)},
		{Key: KeyBufferMemory, Category: "Buffer", Kind: KindString, Default: "512 MB", Help: "memory cap, e.g. 512 MB or 2 GiB"},

		{Key: KeyRotation, Category: "Display", Kind: KindInt, Default: 0, Choices: []string{"0", "90", "180", "270"}},
		{Key: KeyAutoContrast, Category: "Display", Kind: KindBool, Default: false},
		{Key: KeyContrast, Category: "Display", Kind: KindFloatMap, Default: map[string][]float64{}, Help: "layer id to gamma, max, min, pmax, pmin"},

		{Key: KeyConnectNearest, Category: "Tracking", Kind: KindBool, Default: false},
		{Key: KeyTrailing, Category: "Tracking", Kind: KindInt, Default: 20, Min: bound(0)},
		{Key: KeyLeading, Category: "Tracking", Kind: KindInt, Default: 0, Min: bound(0)},

		{Key: KeyMaskOpacity, Category: "Mask", Kind: KindFloat, Default: 0.5, Min: bound(0), Max: bound(1)},
		{Key: KeyMaskBrushSize, Category: "Mask", Kind: KindInt, Default: 10, Min: bound(1)},
		{Key: KeyAutoMaskUpdate, Category: "Mask", Kind: KindBool, Default: true},
		{Key: KeyMaxImageSize, Category: "Mask", Kind: KindInt, Default: 4096, Min: bound(16)},

		{Key: KeyExportType, Category: "Export", Kind: KindString, Default: "video", Choices: []string{"video", "gif", "images"}},
		{Key: KeyExportVideo, Category: "Export", Kind: KindString, Default: "export/export.avi"},
		{Key: KeyExportImage, Category: "Export", Kind: KindString, Default: "export/images%d.jpg"},
		{Key: KeyExportFPS, Category: "Export", Kind: KindFloat, Default: 25.0, Min: bound(0.1), Max: bound(1000)},
		{Key: KeyExportQuality, Category: "Export", Kind: KindInt, Default: 75, Min: bound(1), Max: bound(100)},
		{Key: KeyExportTimestamp, Category: "Export", Kind: KindBool, Default: false},
		{Key: KeyExportTimeMode, Category: "Export", Kind: KindString, Default: "elapsed", Choices: []string{"elapsed", "wallclock"}},
		{Key: KeyExportTimeSize, Category: "Export", Kind: KindInt, Default: 50, Min: bound(4), Max: bound(1000)},
		{Key: KeyExportTimeColor, Category: "Export", Kind: KindString, Default: "#FFFFFF"},
		{Key: KeyExportMarkers, Category: "Export", Kind: KindBool, Default: true},

		{Key: KeyDebug, Category: "Other", Kind: KindBool, Default: false, Help: "fail on invariant violations instead of repairing"},
	}
}
