package supervisor

import (
	"context"
	"strings"
)

// Summary is the outcome of a pipeline run.
type Summary struct {
	Results []Result
}

// Required returns the results of non-optional steps.
func (s *Summary) Required() []Result {
	return s.filter(false)
}

// Optional returns the results of optional steps.
func (s *Summary) Optional() []Result {
	return s.filter(true)
}

func (s *Summary) filter(optional bool) []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Optional == optional {
			out = append(out, r)
		}
	}
	return out
}

// RequiredOK reports whether every required step succeeded. A pipeline with
// no required steps is OK.
func (s *Summary) RequiredOK() bool {
	for _, r := range s.Required() {
		if !r.OK() {
			return false
		}
	}
	return true
}

// OptionalCounts returns how many optional steps succeeded out of how many ran.
func (s *Summary) OptionalCounts() (ok, total int) {
	for _, r := range s.Optional() {
		total++
		if r.OK() {
			ok++
		}
	}
	return ok, total
}

// Names joins the step names of results.
func Names(results []Result) string {
	names := make([]string, len(results))
	for i, r := range results {
		names[i] = r.Name
	}
	return strings.Join(names, ", ")
}

// RunPipeline runs steps in order. A failed step does not stop the ones
// after it; cancelling ctx does, and the remaining steps are not started.
func (s *Supervisor) RunPipeline(ctx context.Context, steps []Step, onDone func(Result)) *Summary {
	summary := &Summary{Results: make([]Result, 0, len(steps))}
	for _, step := range steps {
		if ctx.Err() != nil {
			break
		}
		res := s.Run(ctx, step)
		if onDone != nil {
			onDone(res)
		}
		summary.Results = append(summary.Results, res)
	}
	return summary
}
