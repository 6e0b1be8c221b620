package main

import (
	"image"
	"image/color"
	"image/draw"
	"sync"
	"time"

	"go.uber.org/zap"
)

//---------------- Display Driver Contract ----------------

// DisplayDriver is the thin hardware boundary: push the framebuffer to
// glass, whole panel or an aligned window. Raster work happens in the
// compositor's framebuffer, never in the driver.
type DisplayDriver interface {
	Init() error
	FullRefresh(frame *image.RGBA) error
	PartialRefresh(frame *image.RGBA, region image.Rectangle) error
	Close() error
}

//---------------- Refresh State ----------------

// refreshState drives the full-vs-partial decision. needsFull is set on
// every screen transition and cleared only once a full refresh completed.
type refreshState struct {
	needsFull          bool
	partialUpdateCount uint32
	lastFullRefreshTs  uint32
}

//---------------- Compositor ----------------

// Compositor owns the in-memory framebuffer and the refresh policy.
// E-paper has no free repaints: every update costs hundreds of ms and
// partial updates accumulate ghosting, so partial count and age are both
// bounded before a cleanup full refresh is forced.
type Compositor struct {
	log    *zap.Logger
	driver DisplayDriver

	panelW int
	panelH int

	mu    sync.Mutex // guards frame against HTTP snapshots only
	frame *image.RGBA

	refresh refreshState
	nowFn   func() uint32

	maxPartialUpdates uint32
	fullIntervalMs    uint32

	// drawn first on every pass, before the screen content
	statusBar func(frame *image.RGBA)
}

// NewCompositor allocates the framebuffer and policy engine. nowFn may
// be nil for the process monotonic clock.
func NewCompositor(log *zap.Logger, driver DisplayDriver, panelW, panelH int, maxPartial uint32, fullIntervalMs uint32, nowFn func() uint32) *Compositor {
	if maxPartial == 0 {
		maxPartial = 30
	}
	if fullIntervalMs == 0 {
		fullIntervalMs = 150000
	}
	if nowFn == nil {
		nowFn = monotonicMs
	}
	c := &Compositor{
		log:               log,
		driver:            driver,
		panelW:            panelW,
		panelH:            panelH,
		frame:             image.NewRGBA(image.Rect(0, 0, panelW, panelH)),
		nowFn:             nowFn,
		maxPartialUpdates: maxPartial,
		fullIntervalMs:    fullIntervalMs,
	}
	c.refresh.needsFull = true // first pass always paints the whole panel
	clearFrame(c.frame, colorPaper)
	return c
}

// SetStatusBar installs the status bar painter.
func (c *Compositor) SetStatusBar(fn func(frame *image.RGBA)) { c.statusBar = fn }

// Frame exposes the framebuffer to screen Render implementations. Only
// the render loop may draw into it.
func (c *Compositor) Frame() *image.RGBA { return c.frame }

// RequestFullRefresh flags the next render pass as a whole-panel repaint.
func (c *Compositor) RequestFullRefresh() { c.refresh.needsFull = true }

func (c *Compositor) NeedsFullRefresh() bool { return c.refresh.needsFull }

func (c *Compositor) PartialUpdateCount() uint32 { return c.refresh.partialUpdateCount }

// beginFrame resets per-pass drawing state.
func (c *Compositor) beginFrame() {
	clearFrame(c.frame, colorPaper)
}

// RenderCycle performs at most one refresh for the given screen. The
// sequence is fixed: capture selection rects before Render may mutate
// them, paint, then decide full vs partial.
func (c *Compositor) RenderCycle(s Screen) error {
	if s == nil || !s.IsDirty() {
		return nil
	}
	started := time.Now()

	prevRect := s.PreviousSelectionRect()
	currRect := s.SelectionRect()

	c.mu.Lock()
	c.beginFrame()
	if c.statusBar != nil {
		c.statusBar(c.frame)
	}
	s.Render(c)
	c.mu.Unlock()

	now := c.nowFn()
	issued := false

	if c.refresh.needsFull {
		if err := c.driver.FullRefresh(c.frame); err != nil {
			return err
		}
		c.refresh.needsFull = false
		c.refresh.partialUpdateCount = 0
		c.refresh.lastFullRefreshTs = now
		issued = true
		metricFullRefreshes.Inc()
	} else {
		region := prevRect.Union(currRect)
		if !region.Empty() {
			region = alignRegion(region, c.panelW, c.panelH)
			if !region.Empty() {
				if err := c.driver.PartialRefresh(c.frame, region); err != nil {
					return err
				}
				c.refresh.partialUpdateCount++
				issued = true
				metricPartialRefreshes.Inc()
			}
		}
	}

	// ghosting cleanup is deferred: it upgrades the next cycle, never the
	// refresh just issued
	if issued {
		if c.refresh.partialUpdateCount >= c.maxPartialUpdates ||
			now-c.refresh.lastFullRefreshTs >= c.fullIntervalMs {
			c.refresh.needsFull = true
		}
		metricRenderDuration.Observe(time.Since(started).Seconds())
	}

	s.ClearDirty()
	return nil
}

// SnapshotFrame copies the framebuffer for the HTTP preview. Safe to
// call from outside the render loop.
func (c *Compositor) SnapshotFrame() *image.RGBA {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := image.NewRGBA(c.frame.Bounds())
	draw.Draw(out, out.Bounds(), c.frame, image.Point{}, draw.Src)
	return out
}

//---------------- Region Alignment ----------------

// alignRegion expands x/width to the panel controller's 8-pixel RAM
// addressing and clips to panel bounds. Misaligned windows corrupt the
// glass, this is a hardware constraint.
func alignRegion(r image.Rectangle, panelW, panelH int) image.Rectangle {
	x0 := (r.Min.X / 8) * 8
	if r.Min.X < 0 {
		x0 = 0
	}
	x1 := ((r.Max.X + 7) / 8) * 8
	aligned := image.Rect(x0, r.Min.Y, x1, r.Max.Y)
	return aligned.Intersect(image.Rect(0, 0, panelW, panelH))
}

//---------------- Framebuffer Helpers ----------------

var (
	colorPaper = color.RGBA{255, 255, 255, 255}
	colorInk   = color.RGBA{0, 0, 0, 255}
)

func clearFrame(frame *image.RGBA, c color.RGBA) {
	for i := 0; i < len(frame.Pix); i += 4 {
		frame.Pix[i] = c.R
		frame.Pix[i+1] = c.G
		frame.Pix[i+2] = c.B
		frame.Pix[i+3] = 255
	}
}
