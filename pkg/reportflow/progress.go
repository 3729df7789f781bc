package reportflow

import (
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// progress derives the externally visible summary of st.
func (s *Service) progress(st *state.ChainState) state.ProgressRecord {
	p := state.ProgressRecord{
		ReportID:    st.ReportID,
		Status:      st.Status,
		CurrentStep: st.CurrentStep,
		Title:       firstString(st, s.cfg.titlePaths),
		Headline:    firstString(st, s.cfg.headlinePaths),
		UpdatedAt:   st.UpdatedAt,
	}
	if st.Status == state.StatusClarifying {
		p.ClarificationQuestion = st.ClarificationQuestion
	}
	if st.Error != nil {
		e := *st.Error
		p.Error = &e
	}

	if st.Status == state.StatusComplete {
		p.PhaseProgress = 100
		p.OverallProgress = 100
		return p
	}

	completed := st.CompletedSteps()
	p.OverallProgress = percent(len(completed), s.graph.Len())

	if phase := s.graph.Phase(st.CurrentStep); len(phase) > 0 {
		done := make(map[string]bool, len(completed))
		for _, name := range completed {
			done[name] = true
		}
		n := 0
		for _, name := range phase {
			if done[name] {
				n++
			}
		}
		p.PhaseProgress = percent(n, len(phase))
	}
	return p
}

func percent(n, total int) int {
	if total <= 0 {
		return 0
	}
	return n * 100 / total
}

func firstString(st *state.ChainState, paths []string) string {
	for _, path := range paths {
		if v := st.String(path); v != "" {
			return v
		}
	}
	return ""
}
