package options

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mwantia/clickpoints/pkg/log"
)

var (
	ErrUnknownOption = errors.New("unknown option")
	ErrInvalidValue  = errors.New("invalid option value")
)

// Backend persists JSON encoded option values.
type Backend interface {
	GetOption(ctx context.Context, key string) ([]byte, bool, error)
	SetOption(ctx context.Context, key string, value []byte) error
}

// Subscriber is notified after an option value was committed.
type Subscriber func(key string)

// Options is a typed key/value bag backed by the project database.
type Options struct {
	mu      sync.RWMutex
	defs    map[string]Def
	order   []string
	values  map[string]any
	backend Backend
	subs    []Subscriber
	log     log.LoggerService
}

func New(backend Backend, logger log.LoggerService) *Options {
	if logger == nil {
		logger = log.Discard()
	}
	o := &Options{
		defs:    map[string]Def{},
		values:  map[string]any{},
		backend: backend,
		log:     logger,
	}
	for _, def := range Defaults() {
		o.Register(def)
	}
	return o
}

// Register adds a declaration; values of an existing key are kept.
func (o *Options) Register(def Def) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, exists := o.defs[def.Key]; !exists {
		o.order = append(o.order, def.Key)
	}
	o.defs[def.Key] = def
}

// Defs returns all declarations in registration order.
func (o *Options) Defs() []Def {
	o.mu.RLock()
	defer o.mu.RUnlock()
	defs := make([]Def, 0, len(o.order))
	for _, key := range o.order {
		defs = append(defs, o.defs[key])
	}
	return defs
}

// Subscribe registers fn for change notifications.
func (o *Options) Subscribe(fn Subscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, fn)
}

// Load reads stored values for every declared option.
func (o *Options) Load(ctx context.Context) error {
	if o.backend == nil {
		return nil
	}
	for _, def := range o.Defs() {
		raw, ok, err := o.backend.GetOption(ctx, def.Key)
		if err != nil {
			return fmt.Errorf("failed to load option '%s': %w", def.Key, err)
		}
		if !ok {
			continue
		}
		value, err := decode(def, raw)
		if err != nil {
			o.log.Warn("Ignoring stored value of option '%s': %v", def.Key, err)
			continue
		}
		o.mu.Lock()
		o.values[def.Key] = value
		o.mu.Unlock()
	}
	return nil
}

// Get returns the current or default value of key.
func (o *Options) Get(key string) (any, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	def, ok := o.defs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}
	if v, ok := o.values[key]; ok {
		return v, nil
	}
	return def.Default, nil
}

// IsSet reports whether key carries a value other than its default.
func (o *Options) IsSet(key string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.values[key]
	return ok
}

func (o *Options) Int(key string) int {
	v, _ := o.Get(key)
	i, _ := v.(int)
	return i
}

func (o *Options) Float(key string) float64 {
	v, _ := o.Get(key)
	f, _ := v.(float64)
	return f
}

func (o *Options) Bool(key string) bool {
	v, _ := o.Get(key)
	b, _ := v.(bool)
	return b
}

func (o *Options) String(key string) string {
	v, _ := o.Get(key)
	s, _ := v.(string)
	return s
}

func (o *Options) IntList(key string) []int {
	v, _ := o.Get(key)
	l, _ := v.([]int)
	return slices.Clone(l)
}

func (o *Options) StringList(key string) []string {
	v, _ := o.Get(key)
	l, _ := v.([]string)
	return slices.Clone(l)
}

func (o *Options) FloatMap(key string) map[string][]float64 {
	v, _ := o.Get(key)
	m, _ := v.(map[string][]float64)
	out := make(map[string][]float64, len(m))
	for k, vals := range m {
		out[k] = slices.Clone(vals)
	}
	return out
}

// Set validates value, stores it and notifies subscribers.
func (o *Options) Set(ctx context.Context, key string, value any) error {
	o.mu.RLock()
	def, ok := o.defs[key]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}

	coerced, err := coerce(def, value)
	if err != nil {
		return err
	}
	if err := validate(def, coerced); err != nil {
		return err
	}

	if o.backend != nil {
		raw, err := json.Marshal(coerced)
		if err != nil {
			return fmt.Errorf("failed to encode option '%s': %w", key, err)
		}
		if err := o.backend.SetOption(ctx, key, raw); err != nil {
			return fmt.Errorf("failed to store option '%s': %w", key, err)
		}
	}

	o.mu.Lock()
	o.values[key] = coerced
	subs := slices.Clone(o.subs)
	o.mu.Unlock()

	o.log.Debug("Option '%s' set to %v", key, coerced)
	for _, fn := range subs {
		fn(key)
	}
	return nil
}

// SetString parses a textual value, as given on the command line.
func (o *Options) SetString(ctx context.Context, key, raw string) error {
	o.mu.RLock()
	def, ok := o.defs[key]
	o.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownOption, key)
	}
	value, err := parse(def, raw)
	if err != nil {
		return err
	}
	return o.Set(ctx, key, value)
}

func parse(def Def, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch def.Kind {
	case KindInt:
		return strconv.Atoi(raw)
	case KindFloat:
		return strconv.ParseFloat(raw, 64)
	case KindBool:
		return strconv.ParseBool(raw)
	case KindString:
		return raw, nil
	case KindIntList:
		var list []int
		for _, part := range splitList(raw) {
			i, err := strconv.Atoi(part)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, def.Key, err)
			}
			list = append(list, i)
		}
		return list, nil
	case KindStringList:
		return splitList(raw), nil
	default:
		var m map[string][]float64
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, def.Key, err)
		}
		return m, nil
	}
}

func splitList(raw string) []string {
	raw = strings.Trim(raw, "[]")
	if raw == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	for i := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(parts[i]), `"'`)
	}
	return parts
}

func coerce(def Def, value any) (any, error) {
	invalid := fmt.Errorf("%w: %s expects %s, got %T", ErrInvalidValue, def.Key, def.Kind, value)
	switch def.Kind {
	case KindInt:
		switch v := value.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != math.Trunc(v) {
				return nil, invalid
			}
			return int(v), nil
		}
	case KindFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case KindBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case KindString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case KindIntList:
		if v, ok := value.([]int); ok {
			return slices.Clone(v), nil
		}
	case KindStringList:
		if v, ok := value.([]string); ok {
			return slices.Clone(v), nil
		}
	case KindFloatMap:
		if v, ok := value.(map[string][]float64); ok {
			out := make(map[string][]float64, len(v))
			for k, vals := range v {
				out[k] = slices.Clone(vals)
			}
			return out, nil
		}
	}
	return nil, invalid
}

func validate(def Def, value any) error {
	var n float64
	numeric := true
	switch v := value.(type) {
	case int:
		n = float64(v)
	case float64:
		n = v
	default:
		numeric = false
	}
	if numeric {
		if def.Min != nil && n < *def.Min {
			return fmt.Errorf("%w: %s must be >= %v", ErrInvalidValue, def.Key, *def.Min)
		}
		if def.Max != nil && n > *def.Max {
			return fmt.Errorf("%w: %s must be <= %v", ErrInvalidValue, def.Key, *def.Max)
		}
	}
	if len(def.Choices) > 0 && !slices.Contains(def.Choices, fmt.Sprint(value)) {
		return fmt.Errorf("%w: %s must be one of %s", ErrInvalidValue, def.Key, strings.Join(def.Choices, ", "))
	}
	return nil
}

func decode(def Def, raw []byte) (any, error) {
	var value any
	switch def.Kind {
	case KindInt:
		var v int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	case KindFloat:
		var v float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	case KindBool:
		var v bool
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	case KindString:
		var v string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	case KindIntList:
		var v []int
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	case KindStringList:
		var v []string
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	case KindFloatMap:
		var v map[string][]float64
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		value = v
	}
	return value, validate(def, value)
}

// ParseArgs splits "-key=value" arguments off args. Arguments whose key is
// not a declared option are returned unchanged.
func ParseArgs(args []string) (overrides map[string]string, rest []string) {
	known := map[string]bool{}
	for _, def := range Defaults() {
		known[def.Key] = true
	}
	overrides = map[string]string{}
	for _, arg := range args {
		if strings.HasPrefix(arg, "-") && !strings.HasPrefix(arg, "--") {
			if key, value, ok := strings.Cut(arg[1:], "="); ok && known[key] {
				overrides[key] = value
				continue
			}
		}
		rest = append(rest, arg)
	}
	return overrides, rest
}

// Apply sets every override, collecting failures.
func (o *Options) Apply(ctx context.Context, overrides map[string]string) error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	var errs []error
	for _, key := range keys {
		if err := o.SetString(ctx, key, overrides[key]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
