package provider

import "github.com/hazyhaar/rumeur/evidence"

// Rank drops blacklisted domains, puts trusted domains first (stable), drops
// the rest when OnlyTrusted is set and truncates to MaxResults. Ranking its
// own output returns the same list.
func Rank(items []evidence.Item, opts evidence.Options) []evidence.Item {
	return RankBy(items, opts, func(it evidence.Item) string { return evidence.DomainOf(it.Href) })
}

// RankBy is Rank with the domain of each item chosen by domainOf.
func RankBy(items []evidence.Item, opts evidence.Options, domainOf func(evidence.Item) string) []evidence.Item {
	var trusted, others []evidence.Item
	for _, it := range items {
		dom := domainOf(it)
		if opts.IsBlacklisted(dom) {
			continue
		}
		if len(opts.Trusted) > 0 && opts.IsTrusted(dom) {
			trusted = append(trusted, it)
		} else {
			others = append(others, it)
		}
	}
	ranked := trusted
	if !opts.OnlyTrusted {
		ranked = append(ranked, others...)
	}
	if opts.MaxResults > 0 && len(ranked) > opts.MaxResults {
		ranked = ranked[:opts.MaxResults]
	}
	return ranked
}
