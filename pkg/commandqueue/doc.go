// Package commandqueue runs tasks in named lanes with FIFO ordering per lane.
//
// Every call into the application goes through the "resolve" lane, which has
// a concurrency of one, so command handlers and background liveness probes
// never interleave on the shared session.
//
// Tasks in different lanes may execute concurrently. A task whose caller gave
// up keeps its lane until it returns. Lane depth is exported as metrics and
// through GetStats.
//
//	queue := commandqueue.New()
//	defer queue.Close()
//	value, err := queue.Enqueue(ctx, commandqueue.LaneResolve, func(ctx context.Context) (any, error) {
//		return "ok", nil
//	}, nil)
package commandqueue
