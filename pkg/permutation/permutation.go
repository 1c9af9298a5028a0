// Package permutation expands a benchmark configuration into concrete job
// descriptors. Every job-script variant is crossed with every variable
// binding and iteration, and each combination is rendered twice from the
// embedded templates: once for the scheduler with measurement emitters and
// once for display with comment markers.
package permutation

import (
	"embed"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/megware/xbatctld/pkg/types"
)

//go:embed templates/jobscript.sh.in templates/userJobscript.sh.in
var templates embed.FS

// nodelistDirective is commented out when the nodelist is empty; the
// scheduler rejects an empty directive with "Requested node configuration
// is not available".
const nodelistDirective = "#SBATCH --nodelist="

// userStartMarker and userStopMarker replace the capture emitters in the
// user-visible copy of a job script.
const (
	userStartMarker = "## starting measurement ##"
	userStopMarker  = "## xbat stopping measurement ##"
)

// Expand renders one job descriptor per (variant, binding, iteration), in
// that order, from the benchmark's configuration snapshot.
//
// Each descriptor carries the variant-specific configuration (the snapshot
// with the selected variant substituted for the variant list), the variable
// binding, a stable identificator "<runNr>-<variant>-<iteration>" and the
// two rendered job scripts. The scheduler copy wraps the script body in
// start/end epoch emitters and replaces the capture markers with emitters
// appending to <logDir>/<jobid>.time.log; the user copy keeps comment
// markers instead. Job ids are assigned later, at submission.
func Expand(b *types.Benchmark, outputDir, logDir string) ([]types.Job, error) {
	config, err := configSection(b)
	if err != nil {
		return nil, err
	}

	variants, ok := config["jobscript"].([]any)
	if !ok {
		return nil, fmt.Errorf("configuration has no jobscript variants")
	}
	iterations, ok := asInt(config["iterations"])
	if !ok {
		return nil, fmt.Errorf("configuration has no iteration count")
	}

	jobscriptIn, err := templates.ReadFile("templates/jobscript.sh.in")
	if err != nil {
		return nil, fmt.Errorf("failed to read jobscript template: %w", err)
	}
	userJobscriptIn, err := templates.ReadFile("templates/userJobscript.sh.in")
	if err != nil {
		return nil, fmt.Errorf("failed to read user jobscript template: %w", err)
	}

	bindings := Bindings(b.Variables)

	captureStart := fmt.Sprintf(
		`echo "captureStart=$(date +%%s)" >> "%s/${SLURM_JOBID}.time.log" || true`, logDir)
	captureEnd := fmt.Sprintf(
		`echo "captureEnd=$(date +%%s)" >> "%s/${SLURM_JOBID}.time.log" || true`, logDir)

	var jobs []types.Job
	permutationNr := 0
	for variantIdx := range variants {
		rawVariant, ok := variants[variantIdx].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("jobscript variant %d is not a document", variantIdx)
		}
		for _, binding := range bindings {
			for iteration := 0; iteration < iterations; iteration++ {
				variant := ConvertJobscript(rawVariant)

				variantData := make(map[string]any, len(config)+2)
				for k, v := range config {
					variantData[k] = v
				}
				variantData["jobscript"] = variant
				variantData["OUTPUT_DIRECTORY"] = filepath.Join(outputDir, "%j.out")
				variantData["LOG_DIRECTORY"] = logDir

				vars := make(map[string]any, len(variantData)+len(variant))
				for k, v := range variantData {
					vars[k] = v
				}
				for k, v := range variant {
					vars[k] = v
				}
				vars["job-name"] = jobName(vars, b, config, iteration)

				jobscript := substitute(vars, string(jobscriptIn))
				userJobscript := substitute(vars, string(userJobscriptIn))

				// Capture markers are replaced after the script body so
				// markers inside it take effect.
				jobscript = substitute(map[string]any{
					"xbat-start": captureStart,
					"xbat-stop":  captureEnd,
				}, jobscript)
				userJobscript = substitute(map[string]any{
					"xbat-start": userStartMarker,
					"xbat-stop":  userStopMarker,
				}, userJobscript)

				if nl, ok := vars["nodelist"]; ok && formatValue(nl) == "" {
					jobscript = strings.ReplaceAll(jobscript, nodelistDirective, "#"+nodelistDirective)
					userJobscript = strings.ReplaceAll(userJobscript, nodelistDirective, "#"+nodelistDirective)
				}

				nr := permutationNr
				iter := iteration
				jobs = append(jobs, types.Job{
					RunNr:             b.RunNr,
					Identificator:     fmt.Sprintf("%d-%d-%d", b.RunNr, variantIdx, iteration),
					PermutationNr:     &nr,
					Iteration:         &iter,
					Configuration:     variantData,
					Variables:         binding,
					JobscriptFile:     types.StrPtr(jobscript),
					UserJobscriptFile: types.StrPtr(userJobscript),
					Nodes:             map[string]types.JobNode{},
				})
				permutationNr++
			}
		}
	}
	return jobs, nil
}

// configSection extracts the inner configuration document from a benchmark's
// snapshot.
func configSection(b *types.Benchmark) (map[string]any, error) {
	if b == nil || b.Configuration == nil {
		return nil, fmt.Errorf("benchmark has no configuration snapshot")
	}
	config, ok := b.Configuration["configuration"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("configuration snapshot has no configuration section")
	}
	return config, nil
}

// jobName returns the scheduler job name for one permutation. Scheduler job
// names cannot contain spaces; an empty name is derived from the run number,
// configuration name, variant name and iteration.
func jobName(vars map[string]any, b *types.Benchmark, config map[string]any, iteration int) string {
	if name := formatValue(vars["job-name"]); name != "" {
		return strings.ReplaceAll(name, " ", "_")
	}
	return fmt.Sprintf("%d-%s-%s-%d",
		b.RunNr,
		strings.ReplaceAll(formatValue(config["configurationName"]), " ", "_"),
		strings.ReplaceAll(formatValue(vars["variantName"]), " ", "_"),
		iteration)
}

// substitute replaces #KEY# markers in text with the stringified values,
// keys in sorted order for deterministic output. Markers without a matching
// key are left in place.
func substitute(vars map[string]any, text string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		marker := "#" + strings.ToUpper(k) + "#"
		text = strings.ReplaceAll(text, marker, formatValue(vars[k]))
	}
	return text
}

// formatValue stringifies a document value for substitution. Lists join
// with commas; nested documents have no marker form and render empty.
func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, formatValue(e))
		}
		return strings.Join(parts, ",")
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// asInt coerces the numeric widths a decoded document may carry.
func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
