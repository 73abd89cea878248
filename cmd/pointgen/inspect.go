package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/jackzampolin/pointgen/internal/flatten"
	"github.com/jackzampolin/pointgen/internal/output"
	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/store"
)

var inspectWindows bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <run.json>",
	Short: "Show the status of a run file",
	Long: `Inspect reports a run file's status, counts and latest response without
decoding the whole file. --windows decodes the file and prints how the
points split across chunk groups.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if inspectWindows {
			return inspectGroupWindows(args[0])
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(data) {
			return fmt.Errorf("%s is not valid JSON", args[0])
		}
		return output.Print(summarize(data))
	},
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectWindows, "windows", false, "print per-group point windows")
}

// summarize reads a run file with gjson paths.
func summarize(data []byte) map[string]any {
	meta := gjson.GetBytes(data, "metadata")
	summary := map[string]any{
		"status":           meta.Get("status").String(),
		"chapter":          meta.Get("chapter").String(),
		"run_id":           meta.Get("run_id").String(),
		"mode":             meta.Get("mode").String(),
		"provider":         meta.Get("provider").String(),
		"model":            meta.Get("model").String(),
		"start_pointid":    meta.Get("start_pointid").String(),
		"topics_processed": meta.Get("topics_processed").Int(),
		"total_chunks":     meta.Get("total_chunks").Int(),
		"total_points":     meta.Get("total_points").Int(),
		"points":           gjson.GetBytes(data, "points.#").Int(),
		"updated_at":       meta.Get("updated_at").String(),
	}

	responses := gjson.GetBytes(data, "raw_responses")
	if !responses.Exists() {
		return summary
	}
	n := responses.Get("#").Int()
	summary["raw_responses"] = n
	summary["failed_responses"] = responses.Get(`#(error!="")#`).Get("#").Int()
	if n > 0 {
		last := responses.Get(fmt.Sprintf("%d", n-1))
		summary["last_response"] = map[string]any{
			"chunk_key":   last.Get("chunk_key").String(),
			"chunk_index": last.Get("chunk_index").Int(),
			"size":        last.Get("size").Int(),
			"error":       last.Get("error").String(),
			"received_at": last.Get("received_at").String(),
		}
	}
	return summary
}

func inspectGroupWindows(path string) error {
	f, err := store.New(path, nil).Load()
	if err != nil {
		return err
	}

	counts := make([]pointid.CountEntry, len(f.Metadata.Groups))
	for i, g := range f.Metadata.Groups {
		counts[i] = g.CountEntry
	}
	windows, rest := pointid.Windows(f.Points, counts)

	rows := make([]map[string]any, 0, len(windows))
	for i, w := range windows {
		g := f.Metadata.Groups[i]
		row := map[string]any{
			"group":       g.Key,
			"chapter":     g.Chapter,
			"subchapter":  g.Subchapter,
			"topic_count": g.TopicCount,
			"point_count": g.PointCount,
			"points":      len(w),
		}
		if len(w) > 0 {
			row["first_pointid"] = w[0].String(flatten.KeyPointID)
			row["last_pointid"] = w[len(w)-1].String(flatten.KeyPointID)
		}
		rows = append(rows, row)
	}
	return output.Print(map[string]any{
		"status":     f.Metadata.Status,
		"windows":    rows,
		"unassigned": len(rest),
	})
}
