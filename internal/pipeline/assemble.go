package pipeline

import (
	"log/slog"

	"github.com/jackzampolin/pointgen/internal/combine"
	"github.com/jackzampolin/pointgen/internal/flatten"
	"github.com/jackzampolin/pointgen/internal/pointid"
	"github.com/jackzampolin/pointgen/internal/store"
)

// Assemble builds numbered points from a run file's raw responses with a
// default Runner.
func Assemble(f *store.File) ([]flatten.Point, error) {
	return NewRunner(RunnerConfig{}).Assemble(f)
}

// Assemble extracts fragments from every response, combines them into one
// document, flattens it and assigns PointIds. Each group's fragments are
// also combined and counted on their own to size the assignment windows.
//
// The file's group metadata is updated with point counts.
func (r *Runner) Assemble(f *store.File) ([]flatten.Point, error) {
	groups := append([]store.Group(nil), f.Metadata.Groups...)
	index := make(map[string]int, len(groups))
	for i, g := range groups {
		index[g.Key] = i
	}
	perGroup := make([][]any, len(groups))

	var all []any
	for _, resp := range f.Responses() {
		if resp.Text == "" {
			continue
		}
		frags := r.extractor.Extract(resp.Text)
		if len(frags) == 0 {
			r.logger.Warn("no json found in response", "chunk", resp.ChunkKey, "index", resp.ChunkIndex)
			continue
		}
		r.validate(resp, frags)

		i, ok := index[resp.Group]
		if !ok {
			r.logger.Warn("response group missing from metadata", "group", resp.Group, "index", resp.ChunkIndex)
			groups = append(groups, store.Group{
				Key:        resp.Group,
				CountEntry: pointid.CountEntry{Chapter: resp.Chapter, Subchapter: resp.Subchapter},
			})
			perGroup = append(perGroup, nil)
			i = len(groups) - 1
			index[resp.Group] = i
		}
		perGroup[i] = append(perGroup[i], frags...)
		all = append(all, frags...)
	}

	points := r.flattener.Flatten(r.combiner.Combine(all).Value())

	// Counting pass; chapter conflicts were already reported above.
	quiet := slog.New(slog.DiscardHandler)
	combiner, flattener := combine.New(quiet), flatten.New(quiet)
	counts := make([]pointid.CountEntry, len(groups))
	for i := range groups {
		groups[i].PointCount = len(flattener.Flatten(combiner.Combine(perGroup[i]).Value()))
		counts[i] = groups[i].CountEntry
	}

	res, err := pointid.NewAssigner(f.Metadata.ChapterLedger, r.logger).Assign(points, counts)
	if err != nil {
		return nil, err
	}
	f.Metadata.Groups = groups
	r.logger.Info("assembled points", "responses", len(f.Responses()), "fragments", len(all), "points", len(res.Points))
	return res.Points, nil
}

func (r *Runner) validate(resp store.RawResponse, frags []any) {
	if r.validator == nil {
		return
	}
	for i, frag := range frags {
		if err := r.validator.Validate(frag); err != nil {
			r.logger.Warn("fragment does not match response schema",
				"chunk", resp.ChunkKey,
				"index", resp.ChunkIndex,
				"fragment", i,
				"error", err)
		}
	}
}
