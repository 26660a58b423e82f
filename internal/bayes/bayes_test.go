package bayes

import "testing"

func TestNextWithNoSamplesReturnsMidpoint(t *testing.T) {
	c := NewCoordinateSearch([][2]float64{{0, 10}, {-5, 5}})
	next := c.Next()
	if next[0] != 5 || next[1] != 0 {
		t.Errorf("expected midpoint [5,0], got %v", next)
	}
}

func TestBestTracksLowestValue(t *testing.T) {
	c := NewCoordinateSearch([][2]float64{{0, 10}})
	c.AddSample([]float64{3}, 0.8)
	c.AddSample([]float64{7}, 0.2)
	c.AddSample([]float64{5}, 0.5)

	best := c.Best()
	if len(best) != 1 || best[0] != 7 {
		t.Errorf("expected best params [7], got %v", best)
	}
}

func TestNextStaysWithinBounds(t *testing.T) {
	c := NewCoordinateSearch([][2]float64{{0, 1}})
	c.AddSample([]float64{0.95}, 0.1)
	for i := 0; i < 50; i++ {
		next := c.Next()
		if next[0] < 0 || next[0] > 1 {
			t.Fatalf("iteration %d: value %v out of bounds [0,1]", i, next[0])
		}
		c.AddSample(next, 0.1)
	}
}
