package main

import (
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"
)

//---------------- E-Paper Panel (SSD1680 class) ----------------

const (
	EPD_RST_PIN  = "GPIO17"
	EPD_DC_PIN   = "GPIO25"
	EPD_BUSY_PIN = "GPIO24"
	EPD_SPI_PORT = "SPI0.0"

	EPD_WIDTH  = 296
	EPD_HEIGHT = 128
)

// SSD1680 command set, the subset the pipeline needs.
const (
	epdCmdDriverOutput   = 0x01
	epdCmdDataEntry      = 0x11
	epdCmdSwReset        = 0x12
	epdCmdTempSensor     = 0x18
	epdCmdMasterActivate = 0x20
	epdCmdUpdateCtrl2    = 0x22
	epdCmdWriteRAM       = 0x24
	epdCmdBorderWave     = 0x3C
	epdCmdRAMXRange      = 0x44
	epdCmdRAMYRange      = 0x45
	epdCmdRAMXCounter    = 0x4E
	epdCmdRAMYCounter    = 0x4F

	epdModeFull    = 0xF7
	epdModePartial = 0xFF
)

// epdDisplay drives the panel over SPI. The panel RAM is addressed in
// 8-pixel columns, which is where the compositor's alignment rule comes
// from. All refresh calls block until the BUSY line clears; a refresh is
// atomic once issued.
type epdDisplay struct {
	log  *zap.Logger
	port spi.PortCloser
	conn spi.Conn
	rst  gpio.PinOut
	dc   gpio.PinOut
	busy gpio.PinIn
}

func newEPDDisplay(log *zap.Logger) *epdDisplay {
	return &epdDisplay{log: log}
}

// Init brings up the board, the SPI bus and the panel. Failure here is
// fatal for the daemon: there is nothing useful to do without a panel.
func (d *epdDisplay) Init() error {
	if _, err := host.Init(); err != nil {
		return fmt.Errorf("host init: %w", err)
	}

	port, err := spireg.Open(EPD_SPI_PORT)
	if err != nil {
		return fmt.Errorf("open %s: %w", EPD_SPI_PORT, err)
	}
	conn, err := port.Connect(4000*physic.KiloHertz, spi.Mode0, 8)
	if err != nil {
		port.Close()
		return fmt.Errorf("spi connect: %w", err)
	}
	d.port = port
	d.conn = conn

	d.rst = gpioreg.ByName(EPD_RST_PIN)
	d.dc = gpioreg.ByName(EPD_DC_PIN)
	d.busy = gpioreg.ByName(EPD_BUSY_PIN)
	if d.rst == nil || d.dc == nil || d.busy == nil {
		port.Close()
		return fmt.Errorf("gpio pins not found (%s/%s/%s)", EPD_RST_PIN, EPD_DC_PIN, EPD_BUSY_PIN)
	}
	if err := d.busy.In(gpio.PullDown, gpio.NoEdge); err != nil {
		port.Close()
		return fmt.Errorf("busy pin: %w", err)
	}

	d.reset()
	d.sendCommand(epdCmdSwReset)
	d.waitBusy()

	// driver output: gate lines = height-1
	d.sendCommand(epdCmdDriverOutput)
	d.sendData(byte(EPD_HEIGHT-1), byte((EPD_HEIGHT-1)>>8), 0x00)

	// x increment, y increment
	d.sendCommand(epdCmdDataEntry)
	d.sendData(0x03)

	d.sendCommand(epdCmdBorderWave)
	d.sendData(0x05)

	// use the internal temperature sensor for waveform timing
	d.sendCommand(epdCmdTempSensor)
	d.sendData(0x80)

	d.waitBusy()
	d.log.Info("epd panel initialised",
		zap.Int("width", EPD_WIDTH), zap.Int("height", EPD_HEIGHT))
	return nil
}

func (d *epdDisplay) Close() error {
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}

func (d *epdDisplay) reset() {
	d.rst.Out(gpio.High)
	time.Sleep(20 * time.Millisecond)
	d.rst.Out(gpio.Low)
	time.Sleep(2 * time.Millisecond)
	d.rst.Out(gpio.High)
	time.Sleep(20 * time.Millisecond)
}

func (d *epdDisplay) sendCommand(cmd byte) {
	d.dc.Out(gpio.Low)
	if err := d.conn.Tx([]byte{cmd}, nil); err != nil {
		d.log.Error("spi command failed", zap.Uint8("cmd", cmd), zap.Error(err))
	}
}

func (d *epdDisplay) sendData(data ...byte) {
	d.dc.Out(gpio.High)
	// periph.io SPI transfers are size-capped, chunk large payloads
	const chunk = 4096
	for len(data) > 0 {
		n := len(data)
		if n > chunk {
			n = chunk
		}
		if err := d.conn.Tx(data[:n], nil); err != nil {
			d.log.Error("spi data failed", zap.Error(err))
			return
		}
		data = data[n:]
	}
}

func (d *epdDisplay) waitBusy() {
	deadline := time.Now().Add(10 * time.Second)
	for d.busy.Read() == gpio.High {
		if time.Now().After(deadline) {
			d.log.Warn("epd busy timeout")
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// setWindow programs the RAM window. x coordinates are in 8-px units.
func (d *epdDisplay) setWindow(r image.Rectangle) {
	d.sendCommand(epdCmdRAMXRange)
	d.sendData(byte(r.Min.X/8), byte((r.Max.X-1)/8))
	d.sendCommand(epdCmdRAMYRange)
	d.sendData(byte(r.Min.Y), byte(r.Min.Y>>8), byte(r.Max.Y-1), byte((r.Max.Y-1)>>8))
	d.sendCommand(epdCmdRAMXCounter)
	d.sendData(byte(r.Min.X / 8))
	d.sendCommand(epdCmdRAMYCounter)
	d.sendData(byte(r.Min.Y), byte(r.Min.Y>>8))
}

// writeRegion packs the RGBA framebuffer region to 1bpp and streams it.
// Any pixel darker than mid-grey is ink.
func (d *epdDisplay) writeRegion(frame *image.RGBA, r image.Rectangle) {
	d.setWindow(r)
	d.sendCommand(epdCmdWriteRAM)

	rowBytes := (r.Dx() + 7) / 8
	buf := make([]byte, rowBytes*r.Dy())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			px := frame.RGBAAt(x, y)
			// white bit set means paper
			if int(px.R)+int(px.G)+int(px.B) >= 3*128 {
				idx := (y-r.Min.Y)*rowBytes + (x-r.Min.X)/8
				buf[idx] |= 0x80 >> uint((x-r.Min.X)%8)
			}
		}
	}
	d.sendData(buf...)
}

// FullRefresh repaints the whole panel with the ghosting-clearing
// waveform. Slow (~2s) but leaves clean glass.
func (d *epdDisplay) FullRefresh(frame *image.RGBA) error {
	d.writeRegion(frame, image.Rect(0, 0, EPD_WIDTH, EPD_HEIGHT))
	d.sendCommand(epdCmdUpdateCtrl2)
	d.sendData(epdModeFull)
	d.sendCommand(epdCmdMasterActivate)
	d.waitBusy()
	return nil
}

// PartialRefresh repaints only the given window with the fast waveform.
// The region must already be 8-px aligned in x/width and inside the
// panel; the compositor guarantees both.
func (d *epdDisplay) PartialRefresh(frame *image.RGBA, region image.Rectangle) error {
	if region.Min.X%8 != 0 || region.Dx()%8 != 0 {
		return fmt.Errorf("partial region not byte aligned: %v", region)
	}
	if !region.In(image.Rect(0, 0, EPD_WIDTH, EPD_HEIGHT)) {
		return fmt.Errorf("partial region out of panel bounds: %v", region)
	}
	d.writeRegion(frame, region)
	d.sendCommand(epdCmdUpdateCtrl2)
	d.sendData(epdModePartial)
	d.sendCommand(epdCmdMasterActivate)
	d.waitBusy()
	return nil
}
