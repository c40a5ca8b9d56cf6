package lifecycle

import (
	"context"
	"fmt"
)

type BatchResult struct {
	Total     int      `json:"total"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Results   []Result `json:"results"`
}

// BatchRestart restarts ids one after another. Each restart waits the settle
// delay before the next begins; a failed item does not stop the batch.
func (c *Controller) BatchRestart(ctx context.Context, ids []string, timeoutSec int) (BatchResult, error) {
	if len(ids) == 0 {
		return BatchResult{}, fmt.Errorf("%w: at least one container id is required", ErrInvalidArgument)
	}
	out := BatchResult{Total: len(ids), Results: make([]Result, 0, len(ids))}
	for _, id := range ids {
		if ctx.Err() != nil {
			out.Results = append(out.Results, c.finish(Result{Operation: "restart", ContainerID: id, Outcome: OutcomeFailed, Message: ctx.Err().Error()}))
			out.Failed++
			continue
		}
		r, err := c.Restart(ctx, id, timeoutSec)
		if err != nil {
			r = c.finish(Result{Operation: "restart", ContainerID: id, Outcome: OutcomeFailed, Message: err.Error()})
		}
		out.Results = append(out.Results, r)
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	c.log.Info("batch restart finished", "total", out.Total, "succeeded", out.Succeeded, "failed", out.Failed)
	return out, nil
}
