package evidence

// Options is the per-provider configuration. A provider copies it at
// construction and never mutates it afterwards.
type Options struct {
	MaxResults  int      // cap on items returned by Search; 0 = no cap
	MaxFetch    int      // cap on items enriched by GatherReadables; 0 = all
	Trusted     []string // domains ranked first
	Blacklist   []string // domains never returned
	OnlyTrusted bool     // drop non-trusted domains
	TimeDays    int      // recency window hint
	Language    string   // language hint for LLM-backed search
}

// Normalized returns a copy with domain lists normalised and defaults
// applied.
func (o Options) Normalized() Options {
	o.Trusted = NormalizeDomains(o.Trusted)
	o.Blacklist = NormalizeDomains(o.Blacklist)
	if o.TimeDays <= 0 {
		o.TimeDays = 30
	}
	if o.Language == "" {
		o.Language = "zh"
	}
	return o
}

// IsTrusted reports whether domain is in the trusted list.
func (o Options) IsTrusted(domain string) bool { return contains(o.Trusted, domain) }

// IsBlacklisted reports whether domain is in the blacklist.
func (o Options) IsBlacklisted(domain string) bool { return contains(o.Blacklist, domain) }

func contains(list []string, d string) bool {
	if d == "" {
		return false
	}
	for _, x := range list {
		if x == d {
			return true
		}
	}
	return false
}
