package log

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/mwantia/fabric/pkg/container"
)

// LoggerTagProcessor handles fabric:"logger" and fabric:"logger:<name>" tags.
type LoggerTagProcessor struct{}

func NewLoggerTagProcessor() *LoggerTagProcessor {
	return &LoggerTagProcessor{}
}

// GetPriority runs the processor before the default inject processor.
func (ltp *LoggerTagProcessor) GetPriority() int {
	return 50
}

func (ltp *LoggerTagProcessor) CanProcess(value string) bool {
	return strings.EqualFold(value, "logger") || strings.HasPrefix(strings.ToLower(value), "logger:")
}

func (ltp *LoggerTagProcessor) Process(ctx context.Context, sc *container.ServiceContainer, field reflect.StructField, value string) (any, error) {
	name := ""
	if _, after, ok := strings.Cut(value, ":"); ok {
		name = strings.TrimSpace(after)
	}
	logger, err := FromContainer(ctx, sc, name)
	if err != nil {
		return nil, fmt.Errorf("field '%s': %w", field.Name, err)
	}
	return logger, nil
}

// FromContainer resolves the registered LoggerService and names it when
// name is not empty.
func FromContainer(ctx context.Context, sc *container.ServiceContainer, name string) (LoggerService, error) {
	ok, resolved := sc.ResolveByType(ctx, reflect.TypeOf((*LoggerService)(nil)).Elem())
	if !ok {
		return nil, fmt.Errorf("no logger service registered")
	}
	base, ok := resolved.(LoggerService)
	if !ok {
		return nil, fmt.Errorf("resolved logger is not a LoggerService")
	}
	if name != "" {
		return base.Named(name), nil
	}
	return base, nil
}
