// Package resolver implements the Version Resolver component from spec
// §4.2: mapping (package, range) requests to concrete versions and walking
// the transitive graph to produce a flat resolution with detected
// conflicts. The algorithm is pure and deterministic given a fixed
// registry snapshot — it has no suspension points of its own (spec §5)
// and never depends on the scheduling order of metadata fetches.
package resolver

import (
	"context"
	"fmt"
	"sort"

	"github.com/jellypm/jelly/internal/core"
)

// MetadataFetcher is the subset of the Registry Client the Resolver needs.
// Implementations are expected to cache results for the process lifetime
// (spec §4.1); the Resolver itself holds no cache of its own.
type MetadataFetcher interface {
	Metadata(ctx context.Context, id core.PackageId) (*core.RegistryMetadata, error)
}

// Resolver maps (package, range) requests to concrete versions and walks
// the transitive dependency graph. It is a plain value with no package-
// level singleton state (spec §9's anti-global-cache redesign flag).
type Resolver struct {
	registry MetadataFetcher
}

// New constructs a Resolver backed by the given metadata source.
func New(registry MetadataFetcher) *Resolver {
	return &Resolver{registry: registry}
}

// Resolution is the result of resolving a single (package, range) request.
type Resolution struct {
	Version  core.Version
	Metadata *core.RegistryMetadata
}

// ResolveOne chooses the highest Version in the registry's version list
// that satisfies range, per spec §4.2. Wildcard "*" chooses the first
// (highest) entry, since RegistryMetadata.Versions is already ordered
// descending by precedence.
func (r *Resolver) ResolveOne(ctx context.Context, id core.PackageId, rng core.Range) (Resolution, error) {
	meta, err := r.registry.Metadata(ctx, id)
	if err != nil {
		return Resolution{}, err
	}

	if rng.IsWildcard() {
		if latest, ok := meta.Latest(); ok {
			return Resolution{Version: latest.Version, Metadata: meta}, nil
		}
		return Resolution{}, &core.VersionNotFoundError{Id: id, Range: rng}
	}

	for _, entry := range meta.Versions {
		if rng.Satisfies(entry.Version) {
			return Resolution{Version: entry.Version, Metadata: meta}, nil
		}
	}
	return Resolution{}, &core.VersionNotFoundError{Id: id, Range: rng}
}

// queueItem is one pending requirement to process, per spec §4.2 step 1.
type queueItem struct {
	id       core.PackageId
	rng      core.Range
	requirer string
}

// ResolveTree produces a flat, single-version resolution for the entire
// transitive closure of production + server dependencies reachable from
// direct. devDependencies of transitive packages are never followed;
// devDependencies of the root are expected to already be included in
// direct by the caller (Manifest.TopLevelAndDev), per spec §4.2.
//
// The algorithm below implements spec §4.2 steps 1-7 exactly: a FIFO
// queue of (id, range, requirer) triples, an aggregated-ranges map used to
// recompute the satisfying-candidate set on every visit, and "highest in
// the intersection wins" tie-breaking. Because that rule is associative
// and commutative over ranges, the result does not depend on queue
// iteration order for a fixed registry snapshot (spec §5's determinism
// guarantee, spec §8's Resolver-determinism testable property).
func (r *Resolver) ResolveTree(ctx context.Context, direct map[core.PackageId]core.Range) (core.ResolutionGraph, []core.Conflict, error) {
	rootIds := make([]core.PackageId, 0, len(direct))
	for id := range direct {
		rootIds = append(rootIds, id)
	}
	sort.Slice(rootIds, func(i, j int) bool { return rootIds[i].String() < rootIds[j].String() })

	queue := make([]queueItem, 0, len(direct))
	for _, id := range rootIds {
		queue = append(queue, queueItem{id: id, rng: direct[id], requirer: "<root>"})
	}

	picked := map[core.PackageId]core.Version{}
	metadataOf := map[core.PackageId]*core.RegistryMetadata{}
	aggregated := map[core.PackageId][]core.RequiredBy{}
	conflicted := map[core.PackageId]bool{}
	var conflicts []core.Conflict

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		aggregated[item.id] = append(aggregated[item.id], core.RequiredBy{Requirer: item.requirer, Range: item.rng})

		meta, err := r.registry.Metadata(ctx, item.id)
		if err != nil {
			if _, ok := err.(*core.PackageNotFoundError); ok {
				conflicts = appendConflict(conflicts, conflicted, item.id, aggregated[item.id], core.Version{})
				continue
			}
			return core.ResolutionGraph{}, nil, fmt.Errorf("fetching metadata for %s: %w", item.id, err)
		}
		metadataOf[item.id] = meta

		ranges := make([]core.Range, len(aggregated[item.id]))
		for i, rb := range aggregated[item.id] {
			ranges[i] = rb.Range
		}

		var candidates []core.Version
		for _, entry := range meta.Versions {
			if core.SatisfiesAll(ranges, entry.Version) {
				candidates = append(candidates, entry.Version)
			}
		}

		if len(candidates) == 0 {
			conflicts = appendConflict(conflicts, conflicted, item.id, aggregated[item.id], core.Version{})
			delete(picked, item.id)
			continue
		}

		chosen := core.MaxVersion(candidates)

		// More than one distinct requirer contributing a range for this id is
		// itself a conflict to surface, even when the intersection still
		// resolves cleanly to the version a single requirer would have picked.
		if len(aggregated[item.id]) > 1 {
			conflicts = appendConflict(conflicts, conflicted, item.id, aggregated[item.id], chosen)
		}

		if prev, ok := picked[item.id]; ok && prev.Equal(chosen) {
			continue
		}

		picked[item.id] = chosen

		entry, ok := meta.Find(chosen)
		if !ok {
			return core.ResolutionGraph{}, nil, fmt.Errorf("internal: chosen version %s not found in metadata for %s", chosen, item.id)
		}

		for depID, depRange := range entry.Dependencies {
			queue = append(queue, queueItem{id: depID, rng: depRange, requirer: item.id.String()})
		}
		for depID, depRange := range entry.ServerDependencies {
			queue = append(queue, queueItem{id: depID, rng: depRange, requirer: item.id.String()})
		}
	}

	nodes := make(map[core.PackageId]core.ResolvedNode, len(picked))
	for id, v := range picked {
		meta := metadataOf[id]
		entry, _ := meta.Find(v)
		nodes[id] = core.ResolvedNode{
			Id:      id,
			Version: v,
			URL:     core.ContentsURL(id, v),
			Realm:   entry.Realm,
			Deps:    mergeDeps(entry.Dependencies, entry.ServerDependencies),
		}
	}

	graph := core.ResolutionGraph{
		Nodes:    nodes,
		TopLevel: direct,
	}
	return graph, conflicts, nil
}

// appendConflict records a Conflict for id. If one was already recorded
// for this id during this ResolveTree call, it is replaced rather than a
// duplicate appended (the queue can revisit an id many times; spec §4.2
// describes each revisit as potentially producing its own conflict, but
// for a stable report only the most recent one per id is kept).
func appendConflict(conflicts []core.Conflict, conflicted map[core.PackageId]bool, id core.PackageId, requiredBy []core.RequiredBy, resolved core.Version) []core.Conflict {
	requiredByCopy := make([]core.RequiredBy, len(requiredBy))
	copy(requiredByCopy, requiredBy)

	c := core.Conflict{Id: id, RequiredBy: requiredByCopy, Resolved: resolved}

	if conflicted[id] {
		for i := range conflicts {
			if conflicts[i].Id == id {
				conflicts[i] = c
				return conflicts
			}
		}
	}
	conflicted[id] = true
	return append(conflicts, c)
}

func mergeDeps(a, b map[core.PackageId]core.Range) map[core.PackageId]core.Range {
	out := make(map[core.PackageId]core.Range, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}
