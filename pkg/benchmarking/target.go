// Package benchmarking drives concurrent virtual clients against a session
// pool at a series of concurrency levels and summarizes each level.
package benchmarking

import (
	"context"

	"InferenceGovernor/pkg/dispatch"
	"InferenceGovernor/pkg/sessions"
)

// Target is the system under load: something that admits sessions and runs
// work against them, either in-process or across the network.
type Target interface {
	CreateSession(ctx context.Context) (string, error)
	Dispatch(ctx context.Context, sessionID string, work dispatch.Work) (dispatch.Sample, error)
	ReleaseSession(ctx context.Context, sessionID string) error
}

// LocalTarget drives an in-process pool and dispatcher.
type LocalTarget struct {
	Pool       *sessions.Pool
	Dispatcher *dispatch.Dispatcher
}

func (t *LocalTarget) CreateSession(context.Context) (string, error) {
	s, err := t.Pool.Create()
	if err != nil {
		return "", err
	}
	return s.ID, nil
}

func (t *LocalTarget) Dispatch(ctx context.Context, sessionID string, work dispatch.Work) (dispatch.Sample, error) {
	return t.Dispatcher.Dispatch(ctx, sessionID, work)
}

func (t *LocalTarget) ReleaseSession(_ context.Context, sessionID string) error {
	t.Pool.Release(sessionID)
	return nil
}

// WorkFactory builds the work for a client's n-th request.
type WorkFactory func(client, request int) dispatch.Work

// DefaultPrompts are building-maintenance questions used when no prompt
// set is supplied.
var DefaultPrompts = []string{
	"What is the recommended maintenance schedule for HVAC unit AHU-001?",
	"Show me the fault history for chiller CH-003 in Building A",
	"What are the common causes of high discharge pressure in cooling towers?",
	"Generate a preventive maintenance checklist for elevator ELV-012",
	"What spare parts should be kept in stock for boiler BLR-005?",
	"Explain the troubleshooting steps for a VFD fault code E-015",
	"What is the expected lifespan of a centrifugal pump bearing?",
	"What maintenance tasks are overdue for Building B?",
	"Recommend optimization settings for the BAS control loop",
	"Generate a risk assessment for the fire suppression system",
}

// PromptCycle returns a factory that walks prompts round-robin across all
// clients and requests.
func PromptCycle(prompts []string, maxTokens int, temperature float64) WorkFactory {
	if len(prompts) == 0 {
		prompts = DefaultPrompts
	}
	return func(client, request int) dispatch.Work {
		return dispatch.Work{
			Prompt:      prompts[(client+request)%len(prompts)],
			MaxTokens:   maxTokens,
			Temperature: temperature,
		}
	}
}
