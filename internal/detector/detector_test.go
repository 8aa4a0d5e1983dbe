package detector

import "testing"

func TestClipKeepsContainedBox(t *testing.T) {
	box := BoundingBox{Left: 10, Top: 10, Width: 30, Height: 30}

	clipped, ok := box.Clip(100, 100)
	if !ok {
		t.Fatal("expected box to survive clipping")
	}
	if clipped != box {
		t.Fatalf("contained box changed by clip: %+v", clipped)
	}
}

func TestClipClampsOutOfRangeCoordinates(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
		want BoundingBox
	}{
		{
			name: "negative origin",
			box:  BoundingBox{Left: -10, Top: -5, Width: 30, Height: 30},
			want: BoundingBox{Left: 0, Top: 0, Width: 20, Height: 25},
		},
		{
			name: "overruns right and bottom",
			box:  BoundingBox{Left: 90, Top: 95, Width: 30, Height: 30},
			want: BoundingBox{Left: 90, Top: 95, Width: 10, Height: 5},
		},
		{
			name: "larger than image",
			box:  BoundingBox{Left: -50, Top: -50, Width: 500, Height: 500},
			want: BoundingBox{Left: 0, Top: 0, Width: 100, Height: 100},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clipped, ok := tt.box.Clip(100, 100)
			if !ok {
				t.Fatal("expected box to survive clipping")
			}
			if clipped != tt.want {
				t.Fatalf("got %+v, want %+v", clipped, tt.want)
			}
			if clipped.Left < 0 || clipped.Top < 0 ||
				clipped.Left+clipped.Width > 100 || clipped.Top+clipped.Height > 100 {
				t.Fatalf("clipped box escapes image bounds: %+v", clipped)
			}
		})
	}
}

func TestClipDiscardsEmptyBoxes(t *testing.T) {
	tests := []struct {
		name string
		box  BoundingBox
	}{
		{"entirely outside", BoundingBox{Left: 200, Top: 200, Width: 50, Height: 50}},
		{"entirely negative", BoundingBox{Left: -100, Top: -100, Width: 50, Height: 50}},
		{"zero width", BoundingBox{Left: 10, Top: 10, Width: 0, Height: 30}},
		{"negative dimensions", BoundingBox{Left: 10, Top: 10, Width: -5, Height: -5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := tt.box.Clip(100, 100); ok {
				t.Fatalf("expected %+v to clip to empty", tt.box)
			}
		})
	}
}
