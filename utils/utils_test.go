package utils

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampRect(t *testing.T) {
	tests := []struct {
		name string
		in   image.Rectangle
		want image.Rectangle
	}{
		{"inside", image.Rect(10, 10, 50, 50), image.Rect(10, 10, 50, 50)},
		{"left top", image.Rect(-5, -10, 35, 30), image.Rect(0, 0, 40, 40)},
		{"right bottom", image.Rect(620, 350, 660, 380), image.Rect(600, 330, 640, 360)},
		{"too wide", image.Rect(-10, 0, 700, 20), image.Rect(0, 0, 640, 20)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClampRect(tt.in, 640, 360))
		})
	}
}

func TestClampPoint(t *testing.T) {
	assert.Equal(t, image.Pt(0, 359), ClampPoint(image.Pt(-4, 500), 640, 360))
	assert.Equal(t, image.Pt(639, 0), ClampPoint(image.Pt(700, -1), 640, 360))
	assert.Equal(t, image.Pt(12, 34), ClampPoint(image.Pt(12, 34), 640, 360))
}
