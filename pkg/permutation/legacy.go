package permutation

import (
	"fmt"
	"strings"
)

// captureStartMarker and captureStopMarker delimit the measured section of a
// job script. They are placed between the phases of legacy job scripts and
// may also be written directly by users; rendering replaces them with the
// capture emitters (scheduler copy) or comment markers (user copy).
const (
	captureStartMarker = "#XBAT-START#"
	captureStopMarker  = "#XBAT-STOP#"
)

// fieldRenames maps pre-v0.16.0 job-script field names onto the directive
// names used by the scheduler.
var fieldRenames = [][2]string{
	{"nodeCount", "nodes"},
	{"walltime", "time"},
	{"jobName", "job-name"},
}

// ConvertJobscript normalises a job-script variant to the current layout.
//
// Older configurations split the script into preparation, execution and
// postprocessing phases; these are folded into a single script with capture
// markers around the execution phase. Renamed fields are mapped to their
// directive names, a missing nodelist defaults to empty, output and error
// are pinned to the benchmark output tree and list-valued partitions are
// joined for the scheduler. The input map is not modified.
func ConvertJobscript(variant map[string]any) map[string]any {
	js := make(map[string]any, len(variant)+3)
	for k, v := range variant {
		js[k] = v
	}

	prep, hasPrep := js["preparation"]
	exec, hasExec := js["execution"]
	post, hasPost := js["postprocessing"]
	if hasPrep && hasExec && hasPost {
		js["script"] = fmt.Sprintf("\n%s\n\n%s\n\n%s\n\n%s\n\n%s",
			formatValue(prep), captureStartMarker, formatValue(exec),
			captureStopMarker, formatValue(post))
		delete(js, "preparation")
		delete(js, "execution")
		delete(js, "postprocessing")
	}

	for _, r := range fieldRenames {
		if v, ok := js[r[0]]; ok {
			js[r[1]] = v
			delete(js, r[0])
		}
	}

	if _, ok := js["nodelist"]; !ok {
		js["nodelist"] = ""
	}

	// Output and error locations are not user-configurable yet; the
	// harvester expects them under the benchmark output tree.
	js["output"] = ".xbat/outputs/%j.out"
	js["error"] = ".xbat/outputs/%j.out"

	if p, ok := js["partition"]; ok {
		switch t := p.(type) {
		case []string:
			js["partition"] = strings.Join(t, ",")
		case []any:
			parts := make([]string, 0, len(t))
			for _, e := range t {
				parts = append(parts, formatValue(e))
			}
			js["partition"] = strings.Join(parts, ",")
		}
	}

	return js
}
