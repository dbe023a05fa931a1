package events

import (
	"context"

	"telegram-image-editor/internal/domain/ports/adapter"
)

var _ adapter.JobEventPublisher = Noop{}

type Noop struct{}

func (Noop) Publish(context.Context, adapter.JobEvent) error { return nil }
func (Noop) Close() error { return nil }
