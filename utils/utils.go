package utils

import (
	"image"
)

// ClampRect shifts rect so it lies inside a imgWidth x imgHeight image,
// keeping its size where possible. A rect larger than the image is cropped.
func ClampRect(rect image.Rectangle, imgWidth, imgHeight int) image.Rectangle {
	if rect.Min.X < 0 {
		rect = rect.Add(image.Pt(-rect.Min.X, 0))
	}
	if rect.Min.Y < 0 {
		rect = rect.Add(image.Pt(0, -rect.Min.Y))
	}
	if rect.Max.X > imgWidth {
		rect = rect.Add(image.Pt(imgWidth-rect.Max.X, 0))
	}
	if rect.Max.Y > imgHeight {
		rect = rect.Add(image.Pt(0, imgHeight-rect.Max.Y))
	}
	return rect.Intersect(image.Rect(0, 0, imgWidth, imgHeight))
}

// ClampPoint moves p to the nearest pixel inside a imgWidth x imgHeight image.
func ClampPoint(p image.Point, imgWidth, imgHeight int) image.Point {
	p.X = min(max(p.X, 0), max(imgWidth-1, 0))
	p.Y = min(max(p.Y, 0), max(imgHeight-1, 0))
	return p
}
