// Package aggregator implements the Aggregator (C7): consuming per-run
// artefacts across run-1..run-k and computing pass@1, pass@k, pass^k, and
// avg@k per service×model and overall (spec §4.7).
package aggregator

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeready-toolchain/evalharness/pkg/pipeline"
)

// taskKey identifies a (service, model, task) group within an experiment.
type taskKey struct {
	Service string
	Model   string
	Task    string
}

func (k taskKey) groupKey() string { return k.Service + "__" + k.Model }
func (k taskKey) detailKey() string { return k.groupKey() + "/" + k.Task }

// runRecord is one run's contribution to a task's success vector.
type runRecord struct {
	success       bool
	executionTime float64
	tokenUsage    pipeline.TokenUsageMeta
	present       bool
}

// Metrics is the pass@1/pass@k/pass^k/avg@k tuple (spec §4.7).
type Metrics struct {
	PassAt1 float64 `json:"pass@1"`
	PassAtK float64 `json:"pass@k"`
	PassPowK float64 `json:"pass^k"`
	AvgAtK  float64 `json:"avg@k"`
}

// GroupBreakdown is one service×model's aggregated metrics.
type GroupBreakdown struct {
	TotalTasks int `json:"total_tasks"`
	Metrics
}

// TaskDetail is one (service, model, task)'s full detail entry.
type TaskDetail struct {
	Metrics
	IndividualResults []bool  `json:"individual_results"`
	AvgExecutionTime  float64 `json:"avg_execution_time"`
	AvgTokenUsage     pipeline.TokenUsageMeta `json:"avg_token_usage"`
}

// Summary is the k_run_summary.json document (spec §6.6).
type Summary struct {
	ExperimentName       string                     `json:"experiment_name"`
	K                    int                        `json:"k"`
	TotalUniqueTasks     int                        `json:"total_unique_tasks"`
	OverallMetrics       Metrics                    `json:"overall_metrics"`
	ServiceModelBreakdown map[string]GroupBreakdown `json:"service_model_breakdown"`
	DetailedTaskMetrics  map[string]TaskDetail      `json:"detailed_task_metrics"`
}

// Aggregate walks <resultsRoot>/<experiment>/run-1..run-k, reading each
// run's meta.json, and computes the full Summary. A run directory or
// meta.json that is missing counts as a 0 in that task's success vector
// (spec §4.7: "A missing run counts as 0"), never an error.
func Aggregate(resultsRoot, experiment string, k int) (*Summary, error) {
	records := make(map[taskKey][]runRecord)

	for runIndex := 1; runIndex <= k; runIndex++ {
		runRoot := filepath.Join(resultsRoot, experiment, fmt.Sprintf("run-%d", runIndex))
		if err := walkRun(runRoot, runIndex, k, records); err != nil {
			return nil, err
		}
	}

	return summarize(experiment, k, records), nil
}

// walkRun scans one run-<i> directory for <service__model>/<task_path>/meta.json
// entries and records each into its task's success vector at index runIndex-1.
func walkRun(runRoot string, runIndex, k int, records map[taskKey][]runRecord) error {
	groupDirs, err := os.ReadDir(runRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // entire run missing: every task in it counts as 0
		}
		return fmt.Errorf("aggregator: reading %s: %w", runRoot, err)
	}

	for _, g := range groupDirs {
		if !g.IsDir() {
			continue
		}
		service, model, ok := splitGroup(g.Name())
		if !ok {
			continue
		}
		groupDir := filepath.Join(runRoot, g.Name())
		if err := filepath.Walk(groupDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if info.IsDir() || filepath.Base(path) != "meta.json" {
				return nil
			}
			taskPath, err := taskPathFromMeta(groupDir, path)
			if err != nil {
				return nil // unparsable relative path: skip, don't abort the sweep
			}
			meta, err := readMeta(path)
			if err != nil {
				return nil // unreadable meta.json: treat as absent, don't abort
			}
			key := taskKey{Service: service, Model: model, Task: taskPath}
			ensureLen(records, key, k)
			records[key][runIndex-1] = runRecord{
				success:       meta.Execution.Success && meta.Verification.Success,
				executionTime: meta.ExecutionTime,
				tokenUsage:    meta.TokenUsage,
				present:       true,
			}
			return nil
		}); err != nil {
			return fmt.Errorf("aggregator: walking %s: %w", groupDir, err)
		}
	}
	return nil
}

func ensureLen(records map[taskKey][]runRecord, key taskKey, k int) {
	if _, ok := records[key]; !ok {
		records[key] = make([]runRecord, k)
	}
}

func splitGroup(name string) (service, model string, ok bool) {
	parts := strings.SplitN(name, "__", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// taskPathFromMeta derives the catalog task path ("<service>/<category>/<name>")
// from meta.json's location relative to its service__model group directory.
func taskPathFromMeta(groupDir, metaPath string) (string, error) {
	rel, err := filepath.Rel(groupDir, filepath.Dir(metaPath))
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func readMeta(path string) (*pipeline.RunMeta, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var meta pipeline.RunMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}
	return &meta, nil
}

func summarize(experiment string, k int, records map[taskKey][]runRecord) *Summary {
	detail := make(map[string]TaskDetail, len(records))
	groupTaskMetrics := make(map[string][]Metrics)
	uniqueTasks := make(map[string]bool)

	keys := make([]taskKey, 0, len(records))
	for key := range records {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].detailKey() < keys[j].detailKey() })

	for _, key := range keys {
		vector := records[key]
		m := computeMetrics(vector)
		detail[key.detailKey()] = TaskDetail{
			Metrics:           m,
			IndividualResults: successes(vector),
			AvgExecutionTime:  avgExecutionTime(vector),
			AvgTokenUsage:     avgTokenUsage(vector),
		}
		groupTaskMetrics[key.groupKey()] = append(groupTaskMetrics[key.groupKey()], m)
		uniqueTasks[key.Task] = true
	}

	groupNames := make([]string, 0, len(groupTaskMetrics))
	for name := range groupTaskMetrics {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)

	breakdown := make(map[string]GroupBreakdown, len(groupNames))
	var overallTasks []Metrics
	for _, name := range groupNames {
		ms := groupTaskMetrics[name]
		breakdown[name] = GroupBreakdown{TotalTasks: len(ms), Metrics: meanMetrics(ms)}
		overallTasks = append(overallTasks, meanMetrics(ms))
	}

	return &Summary{
		ExperimentName:        experiment,
		K:                     k,
		TotalUniqueTasks:      len(uniqueTasks),
		OverallMetrics:        round4(meanMetrics(overallTasks)),
		ServiceModelBreakdown: roundGroups(breakdown),
		DetailedTaskMetrics:   detail,
	}
}

// computeMetrics implements spec §4.7's four definitions exactly.
func computeMetrics(vector []runRecord) Metrics {
	k := len(vector)
	if k == 0 {
		return Metrics{}
	}

	sum := 0
	anyPass := false
	allPass := true
	for _, r := range vector {
		if r.success {
			sum++
			anyPass = true
		} else {
			allPass = false
		}
	}

	passAt1 := 0.0
	if vector[0].success {
		passAt1 = 1
	}
	passAtK := 0.0
	if anyPass {
		passAtK = 1
	}
	passPowK := 0.0
	if allPass {
		passPowK = 1
	}
	avgAtK := float64(sum) / float64(k)

	return Metrics{PassAt1: passAt1, PassAtK: passAtK, PassPowK: passPowK, AvgAtK: avgAtK}
}

func successes(vector []runRecord) []bool {
	out := make([]bool, len(vector))
	for i, r := range vector {
		out[i] = r.success
	}
	return out
}

func avgExecutionTime(vector []runRecord) float64 {
	var sum float64
	var n int
	for _, r := range vector {
		if r.present {
			sum += r.executionTime
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func avgTokenUsage(vector []runRecord) pipeline.TokenUsageMeta {
	var in, out, total, n int
	for _, r := range vector {
		if r.present {
			in += r.tokenUsage.Input
			out += r.tokenUsage.Output
			total += r.tokenUsage.Total
			n++
		}
	}
	if n == 0 {
		return pipeline.TokenUsageMeta{}
	}
	return pipeline.TokenUsageMeta{Input: in / n, Output: out / n, Total: total / n}
}

// meanMetrics is the unweighted mean across a set of per-task Metrics (spec
// §4.7 "overall metrics are the unweighted mean across groups"; §9's open
// question on weighting is resolved here: unweighted, documented in
// DESIGN.md).
func meanMetrics(ms []Metrics) Metrics {
	if len(ms) == 0 {
		return Metrics{}
	}
	var out Metrics
	for _, m := range ms {
		out.PassAt1 += m.PassAt1
		out.PassAtK += m.PassAtK
		out.PassPowK += m.PassPowK
		out.AvgAtK += m.AvgAtK
	}
	n := float64(len(ms))
	return Metrics{PassAt1: out.PassAt1 / n, PassAtK: out.PassAtK / n, PassPowK: out.PassPowK / n, AvgAtK: out.AvgAtK / n}
}

func round4(m Metrics) Metrics {
	return Metrics{
		PassAt1:  roundTo(m.PassAt1, 4),
		PassAtK:  roundTo(m.PassAtK, 4),
		PassPowK: roundTo(m.PassPowK, 4),
		AvgAtK:   roundTo(m.AvgAtK, 4),
	}
}

func roundGroups(in map[string]GroupBreakdown) map[string]GroupBreakdown {
	out := make(map[string]GroupBreakdown, len(in))
	for k, v := range in {
		v.Metrics = round4(v.Metrics)
		out[k] = v
	}
	return out
}

func roundTo(v float64, places int) float64 {
	mult := math.Pow(10, float64(places))
	return math.Round(v*mult) / mult
}

// WriteSummary marshals summary to <resultsRoot>/<experiment>/k_run_summary.json.
func WriteSummary(resultsRoot, experiment string, summary *Summary) error {
	path := filepath.Join(resultsRoot, experiment, "k_run_summary.json")
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("aggregator: marshalling summary: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("aggregator: writing %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}
