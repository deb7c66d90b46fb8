package conversion

import "edumarket/api/models"

// AnalyzeFunnel replays stored journey data of the given sessions through
// the funnel. A session enters a step once it has completed every earlier
// required step; optional steps are counted but never gate later ones.
func AnalyzeFunnel(f models.Funnel, sessionIDs []string, ev Evidence) models.FunnelReport {
	bySession := groupBySession(ev)
	report := models.FunnelReport{FunnelID: f.ID, Sessions: len(sessionIDs)}

	entered := make([]int, len(f.Steps))
	completed := make([]int, len(f.Steps))
	converted := 0
	for _, id := range sessionIDs {
		sev := bySession[id]
		reached := true
		for i, step := range f.Steps {
			if !reached {
				break
			}
			entered[i]++
			done := ConditionScore(step.Condition, sev) >= GoalThreshold
			if done {
				completed[i]++
			}
			if step.Required && !done {
				reached = false
			}
		}
		if reached && len(f.Steps) > 0 {
			converted++
		}
	}

	for i, step := range f.Steps {
		r := models.FunnelStepReport{Name: step.Name, Entered: entered[i], Completed: completed[i]}
		if r.Entered > 0 {
			r.CompletionRate = float64(r.Completed) / float64(r.Entered)
			r.DropOffRate = 1 - r.CompletionRate
		}
		report.Steps = append(report.Steps, r)
	}
	if report.Sessions > 0 {
		report.OverallConversionRate = float64(converted) / float64(report.Sessions)
	}
	return report
}

func groupBySession(ev Evidence) map[string]Evidence {
	out := make(map[string]Evidence)
	for _, s := range ev.Steps {
		e := out[s.SessionID]
		e.Steps = append(e.Steps, s)
		out[s.SessionID] = e
	}
	for _, p := range ev.Pages {
		e := out[p.SessionID]
		e.Pages = append(e.Pages, p)
		out[p.SessionID] = e
	}
	for _, a := range ev.Events {
		e := out[a.SessionID]
		e.Events = append(e.Events, a)
		out[a.SessionID] = e
	}
	return out
}
