package main

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingDriver captures every refresh the policy issues.
type recordingDriver struct {
	fulls    int
	partials []image.Rectangle
}

func (d *recordingDriver) Init() error  { return nil }
func (d *recordingDriver) Close() error { return nil }
func (d *recordingDriver) FullRefresh(frame *image.RGBA) error {
	d.fulls++
	return nil
}
func (d *recordingDriver) PartialRefresh(frame *image.RGBA, region image.Rectangle) error {
	d.partials = append(d.partials, region)
	return nil
}

func newTestCompositor(maxPartial uint32, clk *fakeClock) (*Compositor, *recordingDriver) {
	drv := &recordingDriver{}
	c := NewCompositor(zap.NewNop(), drv, EPD_WIDTH, EPD_HEIGHT, maxPartial, 150000, clk.fn())
	return c, drv
}

func TestCompositorCleanScreenIsNoop(t *testing.T) {
	c, drv := newTestCompositor(30, &fakeClock{})
	s := &stubScreen{} // not dirty
	require.NoError(t, c.RenderCycle(s))
	assert.Equal(t, 0, drv.fulls)
	assert.Empty(t, drv.partials)
	// the pending first-boot full refresh is still owed
	assert.True(t, c.NeedsFullRefresh())
}

func TestCompositorFirstPassIsFullRefresh(t *testing.T) {
	c, drv := newTestCompositor(30, &fakeClock{})
	s := &stubScreen{}
	s.MarkDirty()

	require.NoError(t, c.RenderCycle(s))
	assert.Equal(t, 1, drv.fulls)
	assert.False(t, c.NeedsFullRefresh())
	assert.Equal(t, uint32(0), c.PartialUpdateCount())
	assert.False(t, s.IsDirty(), "render pass clears dirty")
}

func TestCompositorSelectionChangeGoesPartial(t *testing.T) {
	clk := &fakeClock{}
	c, drv := newTestCompositor(30, clk)
	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s)) // swallow boot full refresh

	s.moveSelection(image.Rect(10, 30, 100, 60))
	require.NoError(t, c.RenderCycle(s))

	require.Len(t, drv.partials, 1)
	r := drv.partials[0]
	// aligned out to 8..104, y untouched
	assert.Equal(t, image.Rect(8, 30, 104, 60), r)
	assert.Equal(t, uint32(1), c.PartialUpdateCount())
	assert.False(t, c.NeedsFullRefresh())
}

func TestCompositorPartialRegionUnionsPrevAndCurrent(t *testing.T) {
	clk := &fakeClock{}
	c, drv := newTestCompositor(30, clk)
	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))

	s.moveSelection(image.Rect(16, 24, 80, 48))
	require.NoError(t, c.RenderCycle(s))
	s.moveSelection(image.Rect(160, 72, 240, 96))
	require.NoError(t, c.RenderCycle(s))

	require.Len(t, drv.partials, 2)
	// second pass covers old and new cursor position
	assert.Equal(t, image.Rect(16, 24, 240, 96), drv.partials[1])
}

func TestCompositorAlignmentAndClipping(t *testing.T) {
	cases := []struct {
		name string
		in   image.Rectangle
		out  image.Rectangle
	}{
		{"already aligned", image.Rect(8, 10, 80, 20), image.Rect(8, 10, 80, 20)},
		{"floor x ceil width", image.Rect(13, 0, 21, 8), image.Rect(8, 0, 24, 8)},
		{"clip right edge", image.Rect(290, 0, 300, 10), image.Rect(288, 0, 296, 10)},
		{"clip bottom", image.Rect(0, 120, 8, 140), image.Rect(0, 120, 8, 128)},
		{"negative origin", image.Rect(-5, -5, 10, 10), image.Rect(0, 0, 16, 10)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := alignRegion(tc.in, EPD_WIDTH, EPD_HEIGHT)
			assert.Equal(t, tc.out, got)
			assert.Zero(t, got.Min.X%8)
			assert.Zero(t, got.Dx()%8)
			assert.True(t, got.In(image.Rect(0, 0, EPD_WIDTH, EPD_HEIGHT)))
		})
	}
}

func TestCompositorEmptyRectsIssueNoRefresh(t *testing.T) {
	clk := &fakeClock{}
	c, drv := newTestCompositor(30, clk)
	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))

	// dirty again with no selection rects at all
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))

	assert.Equal(t, 1, drv.fulls)
	assert.Empty(t, drv.partials)
	assert.False(t, s.IsDirty(), "dirty is cleared even without hardware refresh")
}

func TestCompositorTransitionResetsPartialCount(t *testing.T) {
	clk := &fakeClock{}
	c, drv := newTestCompositor(30, clk)
	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))

	s.moveSelection(image.Rect(0, 24, 8, 32))
	require.NoError(t, c.RenderCycle(s))
	require.Equal(t, uint32(1), c.PartialUpdateCount())

	// a screen transition requests full; next pass resets the counter
	c.RequestFullRefresh()
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))
	assert.Equal(t, 2, drv.fulls)
	assert.Equal(t, uint32(0), c.PartialUpdateCount())
}

func TestCompositorMaxPartialForcesNextFull(t *testing.T) {
	clk := &fakeClock{}
	c, drv := newTestCompositor(3, clk)
	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))

	for i := 0; i < 3; i++ {
		s.moveSelection(image.Rect(0, 24, 8, 32))
		require.NoError(t, c.RenderCycle(s))
	}
	// the third partial was still issued as a partial
	assert.Len(t, drv.partials, 3)
	// but the cleanup is owed now
	assert.True(t, c.NeedsFullRefresh())

	s.moveSelection(image.Rect(0, 24, 8, 32))
	require.NoError(t, c.RenderCycle(s))
	assert.Equal(t, 2, drv.fulls)
	assert.Equal(t, uint32(0), c.PartialUpdateCount())
}

func TestCompositorAgeForcesNextFull(t *testing.T) {
	clk := &fakeClock{}
	c, drv := newTestCompositor(30, clk)
	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))

	clk.now = 150000 // interval elapsed since the boot refresh
	s.moveSelection(image.Rect(0, 24, 8, 32))
	require.NoError(t, c.RenderCycle(s))
	require.Len(t, drv.partials, 1, "aged refresh is not retroactively upgraded")
	assert.True(t, c.NeedsFullRefresh())

	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))
	assert.Equal(t, 2, drv.fulls)
}

func TestCompositorStatusBarPaintedEachPass(t *testing.T) {
	c, _ := newTestCompositor(30, &fakeClock{})
	painted := 0
	c.SetStatusBar(func(frame *image.RGBA) { painted++ })

	s := &stubScreen{}
	s.MarkDirty()
	require.NoError(t, c.RenderCycle(s))
	require.NoError(t, c.RenderCycle(s)) // clean screen, no paint
	assert.Equal(t, 1, painted)
}

func TestCompositorSnapshotIsACopy(t *testing.T) {
	c, _ := newTestCompositor(30, &fakeClock{})
	snap := c.SnapshotFrame()
	snap.Pix[0] = 42
	assert.NotEqual(t, snap.Pix[0], c.Frame().Pix[0])
}
