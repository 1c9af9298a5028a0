package slurm

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var firstInteger = regexp.MustCompile(`\d+`)

// Submit dispatches a jobscript through sbatch as the given user and
// returns the scheduler-assigned job id. The command pins the xbat feature
// constraint so only controller-started jobs carry it, requests exclusive
// nodes and makes the scheduler wait for all nodes before starting. The
// variable binding travels into the job environment via --export.
func (c *Client) Submit(ctx context.Context, username, jobscriptPath, homeDir string,
	configuration map[string]any, variables map[string]string) (int64, error) {

	command := fmt.Sprintf("sbatch --constraint xbat --chdir=%s --exclusive --wait-all-nodes=1", homeDir)

	if len(variables) > 0 {
		keys := make([]string, 0, len(variables))
		for key := range variables {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		exports := make([]string, 0, len(keys))
		for _, key := range keys {
			exports = append(exports, fmt.Sprintf("%s=%s", key, variables[key]))
		}
		command += " --export=" + strings.Join(exports, ",")
	}

	if nodelist, ok := configuration["nodelist"].(string); ok && nodelist != "" {
		command += " --nodelist=" + nodelist
	}

	command += " " + jobscriptPath

	// sbatch must run as the issuer so accounting, limits and file
	// permissions apply to them rather than to the controller.
	wrapped := fmt.Sprintf(`su - %s -c "%s"`, username, command)

	code, output := c.exec.Execute(ctx, wrapped)
	if code != 0 {
		c.log.Error().Int("code", code).Str("output", output).Msg("Error submitting jobscript")
		return 0, fmt.Errorf("failed to submit job: %s", output)
	}

	match := firstInteger.FindString(output)
	if match == "" {
		c.log.Error().Str("output", output).Msg("Could not determine job id from submission")
		return 0, fmt.Errorf("failed to parse job id from submission reply")
	}

	jobID, err := strconv.ParseInt(match, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse job id from submission reply: %w", err)
	}

	c.log.Debug().Int64("job_id", jobID).Msg("Submitted job")
	return jobID, nil
}

// Cancel fires one scancel for all given jobs and invalidates the cache
// so the next read observes the cancellation.
func (c *Client) Cancel(ctx context.Context, ids []int64) error {
	if c.useTestdata {
		return nil
	}

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}

	code, output := c.exec.Execute(ctx, "scancel "+strings.Join(parts, " "))
	if code != 0 {
		c.log.Error().Int("code", code).Str("output", output).
			Interface("ids", ids).Msg("Could not cancel jobs")
		return fmt.Errorf("failed to cancel jobs %v", ids)
	}

	c.Invalidate()
	return nil
}
