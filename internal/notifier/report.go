package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/ibeckermayer/qckeepalive/internal/login"
)

// Report is a rendered failure email ready for sending
type Report struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	CreatedAt time.Time
}

// ReportData is the template data structure
type ReportData struct {
	Title      string
	Status     string
	StartedAt  string
	Duration   string
	URL        string
	Error      string
	Screenshot string
	Host       string
}

// ReportBuilder renders failed runs into emails
type ReportBuilder struct {
	template *template.Template
	host     string
	now      func() time.Time
}

// NewReportBuilder creates a builder. host names the machine in the
// report so failures from several runners can be told apart.
func NewReportBuilder(host string) (*ReportBuilder, error) {
	tmpl, err := template.New("report").Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &ReportBuilder{
		template: tmpl,
		host:     host,
		now:      time.Now,
	}, nil
}

// Build renders the report for a failed outcome
func (b *ReportBuilder) Build(out login.Outcome) (*Report, error) {
	if out.OK() {
		return nil, fmt.Errorf("nothing to report for a successful run")
	}

	data := ReportData{
		Title:      "QuantConnect login failed",
		Status:     out.Status.String(),
		StartedAt:  out.StartedAt.UTC().Format(time.RFC1123),
		Duration:   out.Duration.Round(time.Millisecond).String(),
		URL:        out.URL,
		Screenshot: out.ScreenshotPath,
		Host:       b.host,
	}
	if out.Err != nil {
		data.Error = out.Err.Error()
	}

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	return &Report{
		Subject:   fmt.Sprintf("[qckeepalive] login %s (%s)", data.Status, out.StartedAt.UTC().Format("Jan 2 15:04 MST")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: buildPlainText(data),
		CreatedAt: b.now(),
	}, nil
}

func buildPlainText(data ReportData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("%s\n\n", data.Title))
	buf.WriteString(fmt.Sprintf("Status:   %s\n", data.Status))
	buf.WriteString(fmt.Sprintf("Started:  %s\n", data.StartedAt))
	buf.WriteString(fmt.Sprintf("Duration: %s\n", data.Duration))
	if data.URL != "" {
		buf.WriteString(fmt.Sprintf("Page:     %s\n", data.URL))
	}
	if data.Error != "" {
		buf.WriteString(fmt.Sprintf("Error:    %s\n", data.Error))
	}
	if data.Screenshot != "" {
		buf.WriteString(fmt.Sprintf("Screenshot saved on %s at %s\n", data.Host, data.Screenshot))
	}
	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #c0392b; margin-bottom: 15px; }
        th { text-align: left; color: #666; padding-right: 12px; vertical-align: top; }
        td { padding: 3px 0; }
        code { background: #f0f0f0; padding: 1px 4px; border-radius: 3px; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <table>
            <tr><th>Status</th><td>{{.Status}}</td></tr>
            <tr><th>Started</th><td>{{.StartedAt}}</td></tr>
            <tr><th>Duration</th><td>{{.Duration}}</td></tr>
            {{if .URL}}<tr><th>Page</th><td><a href="{{.URL}}">{{.URL}}</a></td></tr>{{end}}
            {{if .Error}}<tr><th>Error</th><td><code>{{.Error}}</code></td></tr>{{end}}
            {{if .Screenshot}}<tr><th>Screenshot</th><td>{{.Host}}:<code>{{.Screenshot}}</code></td></tr>{{end}}
        </table>
        <div class="footer">Generated by qckeepalive</div>
    </div>
</body>
</html>`
