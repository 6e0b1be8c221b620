package main

import (
	"image"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

//---------------- In-Memory Display ----------------

// memoryDisplay satisfies the driver contract without hardware. Used for
// headless runs (the HTTP frame preview still works) and in tests that
// need to observe refresh decisions.
type memoryDisplay struct {
	log *zap.Logger

	fullCount    atomic.Uint64
	partialCount atomic.Uint64
	lastRegion   image.Rectangle
}

func newMemoryDisplay(log *zap.Logger) *memoryDisplay {
	return &memoryDisplay{log: log}
}

func (m *memoryDisplay) Init() error { return nil }

func (m *memoryDisplay) Close() error { return nil }

func (m *memoryDisplay) FullRefresh(frame *image.RGBA) error {
	m.fullCount.Inc()
	m.lastRegion = frame.Bounds()
	m.log.Debug("full refresh (headless)")
	return nil
}

func (m *memoryDisplay) PartialRefresh(frame *image.RGBA, region image.Rectangle) error {
	m.partialCount.Inc()
	m.lastRegion = region
	m.log.Debug("partial refresh (headless)",
		zap.Int("x", region.Min.X), zap.Int("y", region.Min.Y),
		zap.Int("w", region.Dx()), zap.Int("h", region.Dy()))
	return nil
}
