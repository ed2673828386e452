package media

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

var directives = map[byte]string{
	'Y': `\d{4}`,
	'y': `\d{2}`,
	'm': `\d{2}`,
	'd': `\d{2}`,
	'H': `\d{2}`,
	'M': `\d{2}`,
	'S': `\d{2}`,
	'f': `\d{1,6}`,
	'j': `\d{3}`,
}

type timestampPattern struct {
	re *regexp.Regexp
}

// compilePattern turns a regular expression with strftime directives into a
// regular expression capturing every directive as "<group>_<directive>".
func compilePattern(pattern string) (*timestampPattern, error) {
	var (
		out   strings.Builder
		stack []string
		used  = map[string]int{}
	)
	current := func() string {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i] != "" {
				return stack[i]
			}
		}
		return "timestamp"
	}

	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch {
		case c == '\\' && i+1 < len(pattern):
			out.WriteByte(c)
			out.WriteByte(pattern[i+1])
			i++
		case c == '(':
			name := ""
			if strings.HasPrefix(pattern[i:], "(?P<") {
				if end := strings.IndexByte(pattern[i:], '>'); end > 0 {
					name = pattern[i+4 : i+end]
				}
			}
			stack = append(stack, name)
			out.WriteByte(c)
		case c == ')':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
			out.WriteByte(c)
		case c == '%' && i+1 < len(pattern):
			d := pattern[i+1]
			i++
			if d == '%' {
				out.WriteByte('%')
				continue
			}
			expr, ok := directives[d]
			if !ok {
				return nil, fmt.Errorf("unknown directive %%%c in '%s'", d, pattern)
			}
			group := current() + "_" + string(d)
			used[group]++
			if used[group] > 1 {
				out.WriteString("(?:" + expr + ")")
				continue
			}
			out.WriteString("(?P<" + group + ">" + expr + ")")
		default:
			out.WriteByte(c)
		}
	}

	re, err := regexp.Compile(out.String())
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp pattern '%s': %w", pattern, err)
	}
	return &timestampPattern{re: re}, nil
}

// match extracts the named timestamp groups of name.
func (p *timestampPattern) match(name string) map[string]time.Time {
	m := p.re.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	parts := map[string]map[byte]string{}
	for i, sub := range p.re.SubexpNames() {
		cut := strings.LastIndexByte(sub, '_')
		if cut < 0 || len(sub)-cut != 2 || m[i] == "" {
			continue
		}
		group, d := sub[:cut], sub[cut+1:]
		if parts[group] == nil {
			parts[group] = map[byte]string{}
		}
		parts[group][d[0]] = m[i]
	}

	out := map[string]time.Time{}
	for group, values := range parts {
		if t, ok := assemble(values); ok {
			out[group] = t
		}
	}
	return out
}

func assemble(v map[byte]string) (time.Time, bool) {
	num := func(d byte, def int) int {
		s, ok := v[d]
		if !ok {
			return def
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return def
		}
		return n
	}

	year := num('Y', -1)
	if year < 0 {
		if y := num('y', -1); y >= 0 {
			year = 2000 + y
			if y >= 69 {
				year = 1900 + y
			}
		}
	}
	if year < 0 {
		return time.Time{}, false
	}

	micro := 0
	if f, ok := v['f']; ok {
		micro, _ = strconv.Atoi((f + "000000")[:6])
	}
	t := time.Date(year, time.Month(num('m', 1)), num('d', 1), num('H', 0), num('M', 0), num('S', 0), micro*1000, time.Local)
	if j := num('j', 0); j > 0 {
		t = t.AddDate(0, 0, j-1)
	}
	return t, true
}

// TimestampParser extracts frame timestamps from file names, TIFF page
// descriptions and EXIF metadata.
type TimestampParser struct {
	single []*timestampPattern
	ranges []*timestampPattern
}

func NewTimestampParser(single, ranges []string) (*TimestampParser, error) {
	p := &TimestampParser{}
	for _, s := range single {
		tp, err := compilePattern(s)
		if err != nil {
			return nil, err
		}
		p.single = append(p.single, tp)
	}
	for _, s := range ranges {
		tp, err := compilePattern(s)
		if err != nil {
			return nil, err
		}
		p.ranges = append(p.ranges, tp)
	}
	return p, nil
}

// ParseName returns the start timestamp of a file name and, for range
// patterns, its end timestamp.
func (p *TimestampParser) ParseName(name string) (start time.Time, end *time.Time, ok bool) {
	base := filepath.Base(name)
	for _, tp := range p.ranges {
		groups := tp.match(base)
		t1, ok1 := groups["timestamp"]
		t2, ok2 := groups["timestamp2"]
		if ok1 && ok2 {
			return t1, &t2, true
		}
	}
	for _, tp := range p.single {
		if t, ok := tp.match(base)["timestamp"]; ok {
			return t, nil, true
		}
	}
	return time.Time{}, nil, false
}

// FrameTimestamp determines the timestamp of frame within path. r may be nil.
func (p *TimestampParser) FrameTimestamp(path string, r Reader, frame int) *time.Time {
	if start, end, ok := p.ParseName(path); ok {
		t := start
		switch {
		case end != nil && r != nil && r.Len() > 1:
			step := end.Sub(start) / time.Duration(r.Len()-1)
			t = start.Add(step * time.Duration(frame))
		case r != nil && frame > 0:
			if fr, ok := r.(FrameRater); ok && fr.FPS() > 0 {
				t = start.Add(time.Duration(float64(frame) / fr.FPS() * float64(time.Second)))
			}
		}
		return &t
	}

	if d, ok := r.(Describer); ok {
		if t, ok := descriptionTimestamp(d.Description(frame)); ok {
			return &t
		}
	}

	if t, ok := exifTimestamp(path); ok {
		return &t
	}
	return nil
}

var descriptionLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"20060102-150405",
	"2006:01:02 15:04:05",
}

// descriptionTimestamp reads {"timestamp": ...} from a TIFF page description.
func descriptionTimestamp(desc string) (time.Time, bool) {
	desc = strings.TrimSpace(desc)
	if !strings.HasPrefix(desc, "{") {
		return time.Time{}, false
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(desc), &meta); err != nil {
		return time.Time{}, false
	}
	switch v := meta["timestamp"].(type) {
	case string:
		for _, layout := range descriptionLayouts {
			if t, err := time.ParseInLocation(layout, v, time.Local); err == nil {
				return t, true
			}
		}
	case float64:
		sec := int64(v)
		return time.Unix(sec, int64((v-float64(sec))*1e9)), true
	}
	return time.Time{}, false
}

func exifTimestamp(path string) (time.Time, bool) {
	f, err := os.Open(path)
	if err != nil {
		return time.Time{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return time.Time{}, false
	}
	t, err := x.DateTime()
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
