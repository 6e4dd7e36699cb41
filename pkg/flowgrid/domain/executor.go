package domain

import "time"

// Executor is one registered engine process. Workers stamp the executor id on
// the instances they claim; the repair sweep frees instances whose executor
// stopped heartbeating.
type Executor struct {
	ID         int64
	Name       string
	Started    time.Time
	LastActive time.Time
}
