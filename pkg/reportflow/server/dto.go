package server

import (
	"time"

	"github.com/randalmurphal/reportflow/pkg/reportflow/catalog"
	"github.com/randalmurphal/reportflow/pkg/reportflow/state"
)

// Request payloads

type StartReportRequest struct {
	UserInput      string `json:"userInput" minLength:"1" doc:"What the report should address"`
	AccountID      string `json:"accountId,omitempty"`
	UserID         string `json:"userId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}

type ClarificationRequest struct {
	Answer string `json:"answer" minLength:"1"`
}

type BenchmarkReportRequest struct {
	DesignChallenge string `json:"designChallenge" minLength:"1"`
}

// Response payloads

type ReportRef struct {
	ReportID string `json:"reportId" example:"5f0c6c4e-5a55-4b0e-9f6e-3f7f8d2b9a10"`
}

type ErrorView struct {
	Kind        string `json:"kind"`
	Stage       string `json:"stage,omitempty"`
	Message     string `json:"message"`
	UserMessage string `json:"userMessage"`
}

type UsageView struct {
	InputTokens  int     `json:"inputTokens"`
	OutputTokens int     `json:"outputTokens"`
	Calls        int     `json:"calls"`
	CostUSD      float64 `json:"costUsd"`
}

type ProgressView struct {
	ReportID              string     `json:"reportId"`
	Status                string     `json:"status" enum:"created,running,clarifying,complete,error,cancelled"`
	CurrentStep           string     `json:"currentStep,omitempty"`
	PhaseProgress         int        `json:"phaseProgress"`
	OverallProgress       int        `json:"overallProgress"`
	Title                 string     `json:"title,omitempty"`
	Headline              string     `json:"headline,omitempty"`
	ClarificationQuestion string     `json:"clarificationQuestion,omitempty"`
	Error                 *ErrorView `json:"error,omitempty"`
	UpdatedAt             time.Time  `json:"updatedAt"`
}

type ReportView struct {
	ReportID              string         `json:"reportId"`
	Status                string         `json:"status" enum:"created,running,clarifying,complete,error,cancelled"`
	CurrentStep           string         `json:"currentStep,omitempty"`
	PhaseProgress         int            `json:"phaseProgress"`
	Title                 string         `json:"title,omitempty"`
	ClarificationQuestion string         `json:"clarificationQuestion,omitempty"`
	Error                 *ErrorView     `json:"error,omitempty"`
	ReportData            map[string]any `json:"reportData" jsonschema:"type=object,additionalProperties=true"`
	Usage                 UsageView      `json:"usage"`
}

type BenchmarkReportData struct {
	Report string `json:"report"`
}

type BenchmarkReportView struct {
	ReportID      string              `json:"reportId"`
	Status        string              `json:"status" enum:"created,running,clarifying,complete,error,cancelled"`
	CurrentStep   string              `json:"currentStep,omitempty"`
	PhaseProgress int                 `json:"phaseProgress"`
	Title         string              `json:"title,omitempty"`
	ReportData    BenchmarkReportData `json:"reportData"`
}

// apiStatus maps a chain status onto the API vocabulary, where a failed
// chain is reported as "error".
func apiStatus(s state.Status) string {
	if s == state.StatusFailed {
		return "error"
	}
	return string(s)
}

func toErrorView(e *state.ChainError) *ErrorView {
	if e == nil {
		return nil
	}
	return &ErrorView{
		Kind:        e.Kind,
		Stage:       e.Stage,
		Message:     e.Message,
		UserMessage: e.UserMessage,
	}
}

func toProgressView(p state.ProgressRecord) ProgressView {
	return ProgressView{
		ReportID:              p.ReportID,
		Status:                apiStatus(p.Status),
		CurrentStep:           p.CurrentStep,
		PhaseProgress:         p.PhaseProgress,
		OverallProgress:       p.OverallProgress,
		Title:                 p.Title,
		Headline:              p.Headline,
		ClarificationQuestion: p.ClarificationQuestion,
		Error:                 toErrorView(p.Error),
		UpdatedAt:             p.UpdatedAt,
	}
}

func toReportView(st *state.ChainState, p state.ProgressRecord) ReportView {
	data := st.View()
	data["report"] = st.String(catalog.ReportBodyPath)
	return ReportView{
		ReportID:              st.ReportID,
		Status:                apiStatus(st.Status),
		CurrentStep:           st.CurrentStep,
		PhaseProgress:         p.PhaseProgress,
		Title:                 p.Title,
		ClarificationQuestion: p.ClarificationQuestion,
		Error:                 toErrorView(st.Error),
		ReportData:            data,
		Usage: UsageView{
			InputTokens:  st.Usage.InputTokens,
			OutputTokens: st.Usage.OutputTokens,
			Calls:        st.Usage.Calls,
			CostUSD:      st.Usage.CostUSD,
		},
	}
}

func toBenchmarkView(st *state.ChainState, p state.ProgressRecord) BenchmarkReportView {
	return BenchmarkReportView{
		ReportID:      st.ReportID,
		Status:        apiStatus(st.Status),
		CurrentStep:   st.CurrentStep,
		PhaseProgress: p.PhaseProgress,
		Title:         p.Title,
		ReportData:    BenchmarkReportData{Report: st.String(catalog.ReportBodyPath)},
	}
}
