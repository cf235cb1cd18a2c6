// Package synthetic walks scripted storefront journeys and reports every
// site whose journey breaks.
package synthetic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	nanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/lalithlochan/pulse/internal/db"
	"github.com/lalithlochan/pulse/internal/invoke"
	"github.com/lalithlochan/pulse/internal/metrics"
	"github.com/lalithlochan/pulse/internal/notify"
)

// Step statuses
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

const (
	runIDPrefix   = "syn-"
	runIDAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	runIDLength   = 12
)

// DefaultSteps is the journey used for sites that script none.
var DefaultSteps = []Step{
	{Name: "homepage", Path: "/"},
	{Name: "search", Path: "/search?q=test"},
	{Name: "cart", Path: "/cart"},
}

// Step is one page visit.
type Step struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// Site is a storefront to walk.
type Site struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Steps []Step `json:"steps,omitempty"`
}

// Input lists the sites of a run.
type Input struct {
	Sites []Site `json:"sites"`
}

// StepResult is the outcome of one step.
type StepResult struct {
	Name       string `json:"name"`
	Status     string `json:"status"`
	DurationMS int64  `json:"duration_ms"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SiteResult is the outcome of one site's journey.
type SiteResult struct {
	Site    string       `json:"site"`
	Success bool         `json:"success"`
	Steps   []StepResult `json:"steps"`
}

// Report is the outcome of a run.
type Report struct {
	RunID     string       `json:"run_id"`
	StartedAt time.Time    `json:"started_at"`
	Success   bool         `json:"success"`
	Results   []SiteResult `json:"results"`
}

// Invoker enqueues the failure notification.
type Invoker interface {
	Invoke(ctx context.Context, target string, payload any) (string, error)
}

// Archiver stores a finished report.
type Archiver interface {
	Put(ctx context.Context, key string, body []byte) error
}

// Config configures a Runner. Username and Password, when set, are sent
// as basic auth on every step.
type Config struct {
	StepTimeout time.Duration
	Username    string
	Password    string
}

// Runner walks the configured journeys.
type Runner struct {
	client   *http.Client
	username string
	password string
	invoker  Invoker
	archive  Archiver
	logger   *zap.Logger
}

// NewRunner creates a runner. archive may be nil.
func NewRunner(cfg Config, invoker Invoker, archive Archiver, logger *zap.Logger) *Runner {
	timeout := cfg.StepTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &Runner{
		client: &http.Client{
			Timeout: timeout,
			// A redirect is an answer; the step does not chase it.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		username: cfg.Username,
		password: cfg.Password,
		invoker:  invoker,
		archive:  archive,
		logger:   logger,
	}
}

// ParseInput decodes and checks a run input.
func ParseInput(data []byte) (*Input, error) {
	var in Input
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("parse sites: %w", err)
	}
	if len(in.Sites) == 0 {
		return nil, errors.New("no sites configured")
	}
	for i, s := range in.Sites {
		if strings.TrimSpace(s.URL) == "" {
			return nil, fmt.Errorf("site %d (%s): url is required", i, s.Name)
		}
	}
	return &in, nil
}

// Run walks every site. A failed site fires one notification invocation.
// Failing to enqueue a notification is returned after every site has run.
func (r *Runner) Run(ctx context.Context, in *Input) (*Report, error) {
	runID, err := nanoid.Generate(runIDAlphabet, runIDLength)
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}

	report := &Report{
		RunID:     runIDPrefix + runID,
		StartedAt: time.Now().UTC(),
		Success:   true,
		Results:   make([]SiteResult, 0, len(in.Sites)),
	}

	var errs []error
	for _, site := range in.Sites {
		result := r.runSite(ctx, site)
		report.Results = append(report.Results, result)

		if result.Success {
			continue
		}
		report.Success = false

		if err := r.notifyFailure(ctx, report.RunID, result); err != nil {
			errs = append(errs, err)
		}
	}

	if r.archive != nil {
		if err := r.store(ctx, report); err != nil {
			r.logger.Error("failed to archive synthetic report",
				zap.Error(err),
				zap.String("run_id", report.RunID),
			)
		}
	}

	r.logger.Info("synthetic run finished",
		zap.String("run_id", report.RunID),
		zap.Bool("success", report.Success),
		zap.Int("sites", len(report.Results)),
	)

	return report, errors.Join(errs...)
}

func (r *Runner) runSite(ctx context.Context, site Site) SiteResult {
	name := site.Name
	if name == "" {
		name = site.URL
	}

	steps := site.Steps
	if len(steps) == 0 {
		steps = DefaultSteps
	}

	result := SiteResult{Site: name, Success: true, Steps: make([]StepResult, 0, len(steps))}
	for _, step := range steps {
		if !result.Success {
			result.Steps = append(result.Steps, StepResult{Name: step.Name, Status: StatusSkipped})
			continue
		}

		sr := r.runStep(ctx, site.URL, step)
		metrics.RecordSyntheticStep(name, sr.Status, time.Duration(sr.DurationMS)*time.Millisecond)
		if sr.Status == StatusFailed {
			result.Success = false
			r.logger.Warn("synthetic step failed",
				zap.String("site", name),
				zap.String("step", step.Name),
				zap.String("error", sr.Error),
			)
		}
		result.Steps = append(result.Steps, sr)
	}

	return result
}

func (r *Runner) runStep(ctx context.Context, baseURL string, step Step) StepResult {
	sr := StepResult{Name: step.Name}
	start := time.Now()

	target := strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(step.Path, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		sr.Status = StatusFailed
		sr.Error = err.Error()
		sr.DurationMS = time.Since(start).Milliseconds()
		return sr
	}
	req.Header.Set("User-Agent", "pulse-synthetic/1.0")
	if r.username != "" {
		req.SetBasicAuth(r.username, r.password)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		sr.Status = StatusFailed
		sr.Error = err.Error()
		sr.DurationMS = time.Since(start).Milliseconds()
		return sr
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	sr.HTTPStatus = resp.StatusCode
	sr.DurationMS = time.Since(start).Milliseconds()
	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		sr.Status = StatusPassed
		return sr
	}

	sr.Status = StatusFailed
	sr.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	return sr
}

func (r *Runner) notifyFailure(ctx context.Context, runID string, result SiteResult) error {
	var failed StepResult
	for _, s := range result.Steps {
		if s.Status == StatusFailed {
			failed = s
			break
		}
	}

	metadata, err := json.Marshal(map[string]any{
		"run_id": runID,
		"steps":  result.Steps,
	})
	if err != nil {
		return fmt.Errorf("marshal synthetic metadata: %w", err)
	}

	req := notify.Request{
		Title:    "Synthetic journey failed: " + result.Site,
		Message:  fmt.Sprintf("Step %q failed: %s", failed.Name, failed.Error),
		Severity: db.SeverityHigh,
		Type:     "synthetic",
		Site:     result.Site,
		Metadata: metadata,
	}

	id, err := r.invoker.Invoke(ctx, invoke.TargetNotification, req)
	if err != nil {
		return fmt.Errorf("invoke notification for %s: %w", result.Site, err)
	}

	r.logger.Info("synthetic failure notification invoked",
		zap.String("site", result.Site),
		zap.String("message_id", id),
	)
	return nil
}

func (r *Runner) store(ctx context.Context, report *Report) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return r.archive.Put(ctx, "synthetic/"+report.RunID+".json", body)
}
