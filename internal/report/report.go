// Package report renders a completed job's analysis into a downloadable
// plain-text document.
package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/mobiletester/mt-api/internal/domain/model"
	apperrors "github.com/mobiletester/mt-api/internal/errors"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// Renderer produces the text report document for completed jobs.
type Renderer struct{}

// NewRenderer creates a report renderer.
func NewRenderer() *Renderer { return &Renderer{} }

// Render builds the report document for a completed job.
func (r *Renderer) Render(job *model.Job) ([]byte, error) {
	if job == nil {
		return nil, apperrors.Validation("job is required")
	}
	if job.Status != model.JobStatusCompleted {
		return nil, apperrors.Conflictf("job %s has no report: status is %s", job.ID, job.Status)
	}

	var buf bytes.Buffer
	writeHeader(&buf, "MobileTester - Test Report")

	writeHeader(&buf, "Job Information")
	writeField(&buf, "Job ID", job.ID)
	writeField(&buf, "APK", job.ArtifactName)
	writeField(&buf, "Status", string(job.Status))
	writeField(&buf, "Created", job.CreatedAt.UTC().Format(timeLayout))
	if job.CompletedAt != nil {
		writeField(&buf, "Completed", job.CompletedAt.UTC().Format(timeLayout))
	}
	if job.DurationSeconds != nil {
		writeField(&buf, "Duration", (time.Duration(*job.DurationSeconds) * time.Second).String())
	}
	writeField(&buf, "Devices Tested", fmt.Sprintf("%d", len(job.DeviceIDs)))
	buf.WriteByte('\n')

	writeHeader(&buf, "Test Results Summary")
	if len(job.Results) == 0 {
		buf.WriteString("No per-device results were recorded.\n")
	}
	for _, res := range job.Results {
		fmt.Fprintf(&buf, "%-28s %-8s %4ds", res.DeviceID, res.Outcome, res.DurationSeconds)
		if res.Log != "" {
			fmt.Fprintf(&buf, "  %s", firstLine(res.Log))
		}
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')

	writeAnalysis(&buf, job.Report)
	return buf.Bytes(), nil
}

func writeAnalysis(buf *bytes.Buffer, rep *model.Report) {
	writeHeader(buf, "Analysis")
	if rep == nil {
		buf.WriteString("No analysis is available for this job.\n")
		return
	}

	buf.WriteString(rep.Summary)
	buf.WriteString("\n\n")
	writeField(buf, "Pass Rate", fmt.Sprintf("%d%%", rep.PassRate))
	writeField(buf, "Generated By", rep.GeneratedBy)
	buf.WriteByte('\n')

	if len(rep.Issues) == 0 {
		buf.WriteString("No issues were found.\n")
		return
	}
	for i, issue := range rep.Issues {
		fmt.Fprintf(buf, "%d. [%s] %s\n", i+1, strings.ToUpper(string(issue.Severity)), issue.Title)
		if issue.DeviceID != nil {
			fmt.Fprintf(buf, "   Device: %s\n", *issue.DeviceID)
		}
		if issue.Description != "" {
			fmt.Fprintf(buf, "   %s\n", issue.Description)
		}
		if issue.Fix != "" {
			fmt.Fprintf(buf, "   Suggested fix: %s\n", issue.Fix)
		}
	}
}

func writeHeader(buf *bytes.Buffer, title string) {
	buf.WriteString(title)
	buf.WriteByte('\n')
	buf.WriteString(strings.Repeat("=", len(title)))
	buf.WriteString("\n\n")
}

func writeField(buf *bytes.Buffer, name, value string) {
	fmt.Fprintf(buf, "%-16s %s\n", name+":", value)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
