package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kuberoot/kuberoot/pkg/agent/supervisor"
	"github.com/kuberoot/kuberoot/pkg/cluster"
	"github.com/kuberoot/kuberoot/pkg/events"
	"github.com/kuberoot/kuberoot/pkg/kgroot"
	"github.com/kuberoot/kuberoot/pkg/models"
)

const reportSystemPrompt = `You write the final report of a Kubernetes incident investigation.
Given the root-cause analysis and the agents' findings, respond with JSON only:
{"summary": "...", "remediation": "...", "impact": {"impact_duration": <seconds>, "service_affected": <count>, "impacted_since": <unix seconds>}}
The summary states the root cause and the causal chain. The remediation is a concrete ordered action list. All three impact numbers are required; estimate from the evidence and use 0 when truly unknown.`

// analyzeFunc builds the root_cause_analysis closure: extract live
// Kubernetes events for the request's resources, run the KGroot
// analyzer, then compose the final report from the analysis and the
// persisted sub-agent findings.
func (o *Orchestrator) analyzeFunc(taskID string, req *models.InvestigationTaskRequest, logger *slog.Logger) supervisor.AnalyzeFunc {
	return func(ctx context.Context) (*models.FinalReport, error) {
		evidence := o.collectEvidence(ctx, req, logger)
		analysis, _ := o.deps.Analyzer.Analyze(ctx, evidence)

		findings := o.collectFindings(ctx, taskID)
		report := o.composeReport(ctx, analysis, evidence, findings, logger)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return report, nil
	}
}

// extractConcurrency bounds parallel owner-chain walks against the
// cluster proxy.
const extractConcurrency = 4

// collectEvidence extracts normalized events for every resource the
// request names, in parallel per resource. Extraction failures reduce
// evidence, they never fail the analysis.
func (o *Orchestrator) collectEvidence(ctx context.Context, req *models.InvestigationTaskRequest, logger *slog.Logger) []*kgroot.Event {
	if o.deps.Extractor == nil {
		return nil
	}

	all := ParseResourceRefs(req.ResourceContext)
	refs := all[:0]
	for _, ref := range all {
		if o.deps.Ignore.Ignored(ref.Namespace, ref.Kind, ref.Name) {
			logger.Debug("Skipping ignored resource", "resource", ref.String())
			continue
		}
		refs = append(refs, ref)
	}
	extracted := make([][]*kgroot.Event, len(refs))

	g := new(errgroup.Group)
	g.SetLimit(extractConcurrency)
	for i, ref := range refs {
		g.Go(func() error {
			found, err := o.deps.Extractor.Extract(ctx, ref)
			if err != nil {
				logger.Warn("Event extraction failed", "resource", ref.String(), "error", err)
				return nil
			}
			extracted[i] = found
			return nil
		})
	}
	_ = g.Wait()

	var merged []*kgroot.Event
	for _, found := range extracted {
		merged = append(merged, found...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	return merged
}

// collectFindings pulls the analysis_step summaries from the persisted
// log.
func (o *Orchestrator) collectFindings(ctx context.Context, taskID string) []string {
	history, err := o.deps.Log.Replay(ctx, taskID)
	if err != nil {
		return nil
	}

	var findings []string
	for _, event := range history {
		if event.Kind != models.EventAnalysisStep {
			continue
		}
		var payload events.AnalysisStepPayload
		if err := events.DecodePayload(event, &payload); err != nil || payload.Summary == "" {
			continue
		}
		findings = append(findings, fmt.Sprintf("[%s] %s", payload.Agent, payload.Summary))
	}
	return findings
}

// composeReport asks the structured LLM for the final report and falls
// back to a deterministic rendering of the analysis when it fails.
func (o *Orchestrator) composeReport(ctx context.Context, analysis *kgroot.Analysis, evidence []*kgroot.Event, findings []string, logger *slog.Logger) *models.FinalReport {
	if o.deps.Structured != nil {
		var report models.FinalReport
		err := o.deps.Structured.CompleteStructured(ctx, reportSystemPrompt,
			reportUserPrompt(analysis, findings), &report)
		if err == nil && strings.TrimSpace(report.Summary) != "" {
			if report.Remediation == "" {
				report.Remediation = strings.Join(analysis.Recommendations, "\n")
			}
			return &report
		}
		if err != nil && ctx.Err() == nil {
			logger.Warn("Report generation failed, rendering heuristic report", "error", err)
		}
	}
	return heuristicReport(analysis, evidence)
}

// reportUserPrompt folds the analysis and findings into one evidence
// block for the report call.
func reportUserPrompt(analysis *kgroot.Analysis, findings []string) string {
	var b strings.Builder

	b.WriteString("Root-cause analysis:\n")
	if len(analysis.RankedCauses) == 0 {
		b.WriteString("no causal chain could be established from the extracted events\n")
	}
	for i, cause := range analysis.RankedCauses {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "%d. %s at %s (score %.2f, confidence %.2f): %s\n",
			i+1, cause.Event.AbstractType, cause.Event.Location,
			cause.Score, cause.Confidence, cause.Event.RawMessage)
	}
	if analysis.MatchedPattern != nil {
		fmt.Fprintf(&b, "Matched failure pattern: %s (similarity %.2f)\n",
			analysis.MatchedPattern.Pattern.Name, analysis.MatchedPattern.Similarity)
	}
	if len(analysis.Recommendations) > 0 {
		b.WriteString("Recommendations:\n")
		for _, rec := range analysis.Recommendations {
			b.WriteString("- ")
			b.WriteString(rec)
			b.WriteByte('\n')
		}
	}

	if len(findings) > 0 {
		b.WriteString("\nAgent findings:\n")
		for _, finding := range findings {
			b.WriteString(finding)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// heuristicReport renders the analysis without an LLM. Impact numbers
// come from the evidence window: duration spans first to last event,
// affected services count distinct locations.
func heuristicReport(analysis *kgroot.Analysis, evidence []*kgroot.Event) *models.FinalReport {
	report := &models.FinalReport{
		Remediation: strings.Join(analysis.Recommendations, "\n"),
	}

	if len(analysis.RankedCauses) > 0 {
		top := analysis.RankedCauses[0].Event
		report.Summary = fmt.Sprintf("Most probable root cause: %s at %s", top.AbstractType, top.Location)
		if top.RawMessage != "" {
			report.Summary += " (" + top.RawMessage + ")"
		}
		if n := len(analysis.PrimaryPropagationChain); n > 1 {
			report.Summary += fmt.Sprintf(". The failure propagated through %d events.", n)
		}
	} else {
		report.Summary = "No causal chain could be established from the extracted Kubernetes events."
	}

	if len(evidence) > 0 {
		first := evidence[0].Timestamp
		last := evidence[len(evidence)-1].Timestamp
		locations := make(map[string]bool)
		for _, event := range evidence {
			locations[event.Location] = true
		}
		report.Impact = models.Impact{
			ImpactDuration:  int64(last.Sub(first).Seconds()),
			ServiceAffected: len(locations),
			ImpactedSince:   first.Unix(),
		}
	}
	return report
}

// ParseResourceRefs reads resource references out of the request's
// free-form resource context. Recognized forms, one or more per line:
//
//	cluster/namespace/Kind/name
//	namespace/Kind/name
//	Kind/name          (namespace "default")
func ParseResourceRefs(resourceContext string) []cluster.ResourceRef {
	var refs []cluster.ResourceRef
	seen := make(map[string]bool)

	for _, line := range strings.Split(resourceContext, "\n") {
		for _, token := range strings.Fields(line) {
			token = strings.Trim(token, ",;.()[]")
			if !strings.Contains(token, "/") {
				continue
			}

			parts := strings.Split(token, "/")
			var ref cluster.ResourceRef
			switch len(parts) {
			case 2:
				ref = cluster.ResourceRef{Namespace: "default", Kind: parts[0], Name: parts[1]}
			case 3:
				ref = cluster.ResourceRef{Namespace: parts[0], Kind: parts[1], Name: parts[2]}
			case 4:
				ref = cluster.ResourceRef{Cluster: parts[0], Namespace: parts[1], Kind: parts[2], Name: parts[3]}
			default:
				continue
			}
			if ref.Kind == "" || ref.Name == "" {
				continue
			}

			key := ref.String()
			if !seen[key] {
				seen[key] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}
