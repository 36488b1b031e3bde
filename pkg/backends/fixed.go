package backends

import (
	"context"
	"time"

	"InferenceGovernor/pkg/dispatch"
)

// Fixed reports the same outcome for every call, making benchmark numbers
// exactly predictable. With Sleep set it also waits Total before returning.
type Fixed struct {
	TTFT  time.Duration
	Total time.Duration
	Units int
	Sleep bool
	Err   error
}

func (f *Fixed) Execute(ctx context.Context, work dispatch.Work) (dispatch.Outcome, error) {
	if f.Err != nil {
		return dispatch.Outcome{}, f.Err
	}
	if f.Sleep {
		if err := sleep(ctx, f.Total); err != nil {
			return dispatch.Outcome{}, err
		}
	} else if err := ctx.Err(); err != nil {
		return dispatch.Outcome{}, err
	}
	return dispatch.Outcome{
		TTFT:  f.TTFT,
		Total: f.Total,
		Units: f.Units,
		Text:  "[fixed] " + work.Prompt,
	}, nil
}
