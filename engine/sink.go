package engine

import (
	"context"
	"fmt"
)

// Sink receives the engine callback surface.
type Sink interface {
	OnSingleProgress(event SingleProgress) error
	OnBatchProgress(event BatchProgress) error
	OnFileError(event FileError) error
	OnFileDone(event FileDone) error
	OnFolderDragNotify(event FolderDragNotify) error
	OnFileListDragNotify(event FileListDragNotify) error
}

// Dispatch routes event to the matching Sink callback.
func Dispatch(sink Sink, event Event) error {
	switch e := event.(type) {
	case SingleProgress:
		return sink.OnSingleProgress(e)
	case BatchProgress:
		return sink.OnBatchProgress(e)
	case FileError:
		return sink.OnFileError(e)
	case FileDone:
		return sink.OnFileDone(e)
	case FolderDragNotify:
		return sink.OnFolderDragNotify(e)
	case FileListDragNotify:
		return sink.OnFileListDragNotify(e)
	default:
		return fmt.Errorf("%w: %T", ErrInvalidMessageType, event)
	}
}

// ChannelSink serializes callbacks from any goroutine onto one event channel.
// Callbacks block while the channel is full and fail once ctx ends.
type ChannelSink struct {
	ctx    context.Context
	events chan Event
}

// NewChannelSink returns a sink with the given channel buffer.
func NewChannelSink(ctx context.Context, buffer int) *ChannelSink {
	if buffer < 0 {
		buffer = 0
	}
	return &ChannelSink{
		ctx:    ctx,
		events: make(chan Event, buffer),
	}
}

// Events returns the serialized event stream. It is never closed; consumers
// stop with the sink's context.
func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

func (s *ChannelSink) OnSingleProgress(event SingleProgress) error { return s.publish(event) }
func (s *ChannelSink) OnBatchProgress(event BatchProgress) error { return s.publish(event) }
func (s *ChannelSink) OnFileError(event FileError) error { return s.publish(event) }
func (s *ChannelSink) OnFileDone(event FileDone) error { return s.publish(event) }
func (s *ChannelSink) OnFolderDragNotify(event FolderDragNotify) error { return s.publish(event) }
func (s *ChannelSink) OnFileListDragNotify(event FileListDragNotify) error { return s.publish(event) }

func (s *ChannelSink) publish(event Event) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	select {
	case s.events <- event:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}
