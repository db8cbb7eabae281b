package pipeline

// Observer receives progress checkpoints from the long-running stages. All
// callbacks are invoked serially. Implementations must not block.
type Observer interface {
	// Stage announces the start of a pipeline stage.
	Stage(name string)
	// PartitionDone fires after each base partition completes or fails.
	PartitionDone(done, total int)
	// PairDone fires after each pairwise cluster comparison.
	PairDone(done, total int)
}

// NopObserver ignores every checkpoint.
type NopObserver struct{}

func (NopObserver) Stage(string)           {}
func (NopObserver) PartitionDone(int, int) {}
func (NopObserver) PairDone(int, int)      {}
