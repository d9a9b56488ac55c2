package upload

import (
	"context"
	"sync"

	"github.com/tutorhive/lesson-publisher/internal/types"
)

// ProgressEvent is one observation of orchestration progress, emitted
// synchronously off the originating task's own progress event.
type ProgressEvent struct {
	Kind      types.AssetKind
	Fraction  float64
	Aggregate float64
}

// RunAll launches every task concurrently and waits for all of them to
// terminate. The policy is all-or-nothing: on full success the kind-to-URL
// map is returned; if any task fails the first observed failure is returned
// and every result is discarded. Siblings still in flight are not cancelled,
// they are allowed to finish.
//
// Aggregate progress is the arithmetic mean of all task fractions and is
// recomputed on every individual progress event. An orchestration over zero
// tasks completes immediately with an empty map.
func RunAll(ctx context.Context, tasks []*Task, onProgress func(ProgressEvent)) (map[types.AssetKind]string, error) {
	results := make(map[types.AssetKind]string, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	var (
		mu        sync.Mutex
		fractions = make([]float64, len(tasks))
		firstErr  error
		firstKind types.AssetKind
		wg        sync.WaitGroup
	)

	emit := func(i int, fraction float64) {
		mu.Lock()
		if fraction > fractions[i] {
			fractions[i] = fraction
		}
		event := ProgressEvent{
			Kind:      tasks[i].Kind(),
			Fraction:  fractions[i],
			Aggregate: mean(fractions),
		}
		mu.Unlock()
		if onProgress != nil {
			onProgress(event)
		}
	}

	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task *Task) {
			defer wg.Done()

			url, err := task.Run(ctx, func(fraction float64) {
				emit(i, fraction)
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
					firstKind = task.Kind()
				}
				return
			}
			results[task.Kind()] = url
		}(i, task)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, &OrchestrationError{Asset: firstKind, Err: firstErr}
	}
	return results, nil
}

func mean(fractions []float64) float64 {
	if len(fractions) == 0 {
		return 0
	}
	var sum float64
	for _, f := range fractions {
		sum += f
	}
	return sum / float64(len(fractions))
}
