// Package ranking scores workers by the points of their validated tasks.
package ranking

import (
	"sort"

	"obraflow/internal/domain"
)

type Entry struct {
	WorkerID   string `json:"worker_id"`
	WorkerName string `json:"worker_name"`
	Points     int    `json:"points"`
	Tasks      int    `json:"validated_tasks"`
}

// PointsFor sums the points of validated tasks assigned to workerID. Each
// assignee of a shared task is credited the full points.
func PointsFor(workerID string, tasks []domain.WorkTask) (points, count int) {
	for _, t := range tasks {
		if t.Status == domain.TaskValidated && t.AssignedTo(workerID) {
			points += t.Points
			count++
		}
	}
	return points, count
}

// RankAll returns one entry per worker ordered by points descending. Ties keep
// the order of workers.
func RankAll(workers []domain.Worker, tasks []domain.WorkTask) []Entry {
	out := make([]Entry, 0, len(workers))
	for _, w := range workers {
		points, count := PointsFor(w.ID, tasks)
		out = append(out, Entry{WorkerID: w.ID, WorkerName: w.Name, Points: points, Tasks: count})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Points > out[j].Points })
	return out
}

// Reset archives every validated task and returns the ids it changed.
func Reset(tasks []domain.WorkTask) []string {
	var changed []string
	for i := range tasks {
		if tasks[i].Status == domain.TaskValidated {
			tasks[i].Status = domain.TaskArchived
			changed = append(changed, tasks[i].ID)
		}
	}
	return changed
}
