package progress

import (
	"context"
	"fmt"
	"time"
)

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit totals artifact bytes reported by TASK_DONE events.
func ExampleHub_Emit() {
	var bytes int64
	hub := NewHub(Config{BufferSize: 2, MaxBatchEvents: 1, MaxBatchWait: time.Second},
		sinkFunc(func(_ context.Context, batch []Event) error {
			for _, evt := range batch {
				bytes += evt.Bytes
			}
			return nil
		}))

	hub.Emit(Event{
		RunID:  "run-1",
		TS:     time.Unix(0, 0),
		Stage:  StageTaskDone,
		URL:    "https://docs.example.com/intro",
		Site:   "docs.example.com",
		Status: "success",
		Bytes:  512,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("artifact bytes: %d\n", bytes)
	// Output:
	// artifact bytes: 512
}
