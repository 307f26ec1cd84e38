// Package timeline maps elapsed playback time to the scene being shown.
//
// A Timeline is a pure value: it holds the total narration duration and the
// end time of every scene, and answers which scene is on screen at a given
// elapsed time and how far into that scene playback is.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

var (
	// ErrNoScenes is returned when a timeline is built for zero scenes.
	ErrNoScenes = errors.New("timeline: at least one scene is required")
	// ErrInvalidDuration is returned when the total duration is not positive.
	ErrInvalidDuration = errors.New("timeline: duration must be positive")
	// ErrInvalidWeight is returned when a scene weight is negative or all weights are zero.
	ErrInvalidWeight = errors.New("timeline: scene weights must be non-negative and not all zero")
)

// lastProgress is the largest progress value below 1.
var lastProgress = math.Nextafter(1, 0)

// Timeline describes how a narration of Duration seconds is sliced into scenes.
type Timeline struct {
	duration float64
	// ends[i] is the elapsed time at which scene i stops being shown.
	ends []float64
	even bool
}

// Even splits duration d evenly across n scenes.
func Even(d float64, n int) (Timeline, error) {
	if n < 1 {
		return Timeline{}, ErrNoScenes
	}
	if !(d > 0) || math.IsInf(d, 0) {
		return Timeline{}, fmt.Errorf("%w: got %v", ErrInvalidDuration, d)
	}

	sceneDuration := d / float64(n)
	ends := make([]float64, n)
	for i := range ends {
		ends[i] = sceneDuration * float64(i+1)
	}
	ends[n-1] = d

	return Timeline{duration: d, ends: ends, even: true}, nil
}

// Weighted splits duration d across scenes proportionally to weights,
// e.g. the character count of each scene's narration. Zero-weight scenes
// get no screen time.
func Weighted(d float64, weights []float64) (Timeline, error) {
	if len(weights) == 0 {
		return Timeline{}, ErrNoScenes
	}
	if !(d > 0) || math.IsInf(d, 0) {
		return Timeline{}, fmt.Errorf("%w: got %v", ErrInvalidDuration, d)
	}

	total := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return Timeline{}, fmt.Errorf("%w: got %v", ErrInvalidWeight, w)
		}
		total += w
	}
	if total == 0 {
		return Timeline{}, ErrInvalidWeight
	}

	ends := make([]float64, len(weights))
	acc := 0.0
	for i, w := range weights {
		acc += w
		ends[i] = d * acc / total
	}
	ends[len(ends)-1] = d

	return Timeline{duration: d, ends: ends}, nil
}

// Duration returns the total timeline duration in seconds.
func (t Timeline) Duration() float64 {
	return t.duration
}

// Scenes returns the number of scenes.
func (t Timeline) Scenes() int {
	return len(t.ends)
}

// SceneStart returns the elapsed time at which scene i begins.
func (t Timeline) SceneStart(i int) float64 {
	if i <= 0 {
		return 0
	}
	return t.ends[i-1]
}

// SceneDuration returns how long scene i is shown.
func (t Timeline) SceneDuration(i int) float64 {
	return t.ends[i] - t.SceneStart(i)
}

// Done reports whether elapsed has reached the end of the timeline.
func (t Timeline) Done(elapsed float64) bool {
	return elapsed >= t.duration
}

// At returns the scene index shown at elapsed seconds and the fraction of
// that scene already played, in [0, 1). Negative elapsed clamps to the
// start; elapsed at or past the end clamps to the last scene. Scenes with no
// screen time are never returned.
func (t Timeline) At(elapsed float64) (index int, progress float64) {
	n := len(t.ends)
	if n == 0 {
		return 0, 0
	}
	if !(elapsed > 0) {
		elapsed = 0
	}
	if elapsed >= t.duration {
		return n - 1, lastProgress
	}

	if t.even {
		q := elapsed / (t.duration / float64(n))
		whole := math.Floor(q)
		index = int(whole)
		progress = q - whole
		if index >= n {
			return n - 1, lastProgress
		}
		return index, clampProgress(progress)
	}

	index = sort.Search(n, func(i int) bool { return t.ends[i] > elapsed })
	if index >= n {
		return n - 1, lastProgress
	}
	start := t.SceneStart(index)
	return index, clampProgress((elapsed - start) / (t.ends[index] - start))
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p >= 1 {
		return lastProgress
	}
	return p
}
