package testwebctl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/testweb/testweb/internal/common/util"
	"github.com/testweb/testweb/internal/testweb/domain"
)

type OutputFormat string

const (
	TableOutput OutputFormat = "table"
	JsonOutput  OutputFormat = "json"
	YamlOutput  OutputFormat = "yaml"
)

func ParseOutputFormat(s string) (OutputFormat, error) {
	switch format := OutputFormat(s); format {
	case TableOutput, JsonOutput, YamlOutput:
		return format, nil
	}
	return "", errors.Errorf("unknown output format %q, expected one of table, json, yaml", s)
}

func (a *App) printJobs(jobs []domain.Job, format OutputFormat) error {
	switch format {
	case JsonOutput:
		data, err := json.MarshalIndent(jobs, "", "  ")
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprintf(a.Out, "%s\n", data)
		return nil
	case YamlOutput:
		data, err := yaml.Marshal(jobs)
		if err != nil {
			return errors.WithStack(err)
		}
		fmt.Fprint(a.Out, string(data))
		return nil
	default:
		fmt.Fprint(a.Out, jobTable(jobs))
		return nil
	}
}

func jobTable(jobs []domain.Job) string {
	w := util.NewTabbedStringBuilder(1, 1, 2, ' ', 0)
	w.WriteRow("ID", "TYPE", "STATUS", "PROGRESS", "STARTED", "DURATION", "ERROR")
	for _, job := range jobs {
		w.WriteRow(
			job.Id,
			string(job.Type),
			string(job.Status),
			strconv.Itoa(job.Progress)+"%",
			job.StartTime.Format(time.RFC3339),
			formatDuration(job),
			job.Error,
		)
	}
	return w.String()
}

func formatDuration(job domain.Job) string {
	if job.EndTime == nil {
		return "-"
	}
	return job.Duration().Round(time.Millisecond).String()
}
