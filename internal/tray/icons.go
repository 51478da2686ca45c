package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// Icon dimensions for system tray.
const iconSize = 22

// Pre-generated PNG icons for the monitor states.
var (
	iconIdlePNG    []byte
	iconStalledPNG []byte
	iconActivePNG  []byte
)

func init() {
	iconIdlePNG = generateSignalIcon(color.RGBA{128, 128, 128, 255})  // Gray
	iconStalledPNG = generateSignalIcon(color.RGBA{255, 140, 0, 255}) // Orange
	iconActivePNG = generateSignalIcon(color.RGBA{76, 175, 80, 255})  // Green
}

// generateSignalIcon draws four ascending signal bars in c.
func generateSignalIcon(c color.RGBA) []byte {
	img := image.NewRGBA(image.Rect(0, 0, iconSize, iconSize))

	const (
		bars     = 4
		barWidth = 3
		gap      = 2
		left     = 2
		bottom   = 19
	)
	for i := 0; i < bars; i++ {
		x0 := left + i*(barWidth+gap)
		top := bottom - 4*(i+1)
		for y := top; y <= bottom; y++ {
			for x := x0; x < x0+barWidth; x++ {
				img.Set(x, y, c)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil
	}
	return buf.Bytes()
}
