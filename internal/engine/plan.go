package engine

import (
	"readapi/internal/metadata"
	"readapi/internal/query"
)

// Plan returns the relations to embed for et. The top level embeds
// recurse_on fields, plus recurse_on_single fields for single-object
// queries. An embedded type follows its own recurse_on together with any
// dotted sub-paths the parent declared, unless that type is already on the
// embed path: a self or mutual reference embeds one level and only explicit
// sub-paths go deeper, so the plan is always finite.
func Plan(et *metadata.EntityType, single bool) []query.Embed {
	paths := et.RecurseOn
	if single {
		paths = append(append([]string{}, et.RecurseOn...), et.RecurseOnSingle...)
	}
	return planPaths(et, paths, []*metadata.EntityType{et})
}

func planPaths(et *metadata.EntityType, paths []string, trail []*metadata.EntityType) []query.Embed {
	var embeds []query.Embed
	for _, f := range et.Fields {
		if !f.IsRelation() || !hasHead(paths, f.Name) {
			continue
		}
		target := f.TargetType
		sub := metadata.SubPaths(paths, f.Name)
		if !onTrail(trail, target) {
			sub = append(append([]string{}, target.RecurseOn...), sub...)
		}
		next := append(trail[:len(trail):len(trail)], target)
		embeds = append(embeds, query.Embed{Field: f, Children: planPaths(target, sub, next)})
	}
	return embeds
}

func onTrail(trail []*metadata.EntityType, et *metadata.EntityType) bool {
	for _, t := range trail {
		if t == et {
			return true
		}
	}
	return false
}

func hasHead(paths []string, name string) bool {
	for _, p := range paths {
		if p == name || (len(p) > len(name) && p[:len(name)] == name && p[len(name)] == '.') {
			return true
		}
	}
	return false
}

func findEmbed(embeds []query.Embed, name string) (query.Embed, bool) {
	for _, e := range embeds {
		if e.Field.Name == name {
			return e, true
		}
	}
	return query.Embed{}, false
}
