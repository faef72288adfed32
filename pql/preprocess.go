package pql

import "strings"

// Preprocess walks a decoded QueryElement tree bottom-up, dropping leaves
// that carry no real condition (an empty tags list, blank match text, an
// in_bookmarks filter with filter=false) and collapsing And/Or nodes whose
// children all vanished or reduced to one survivor. A nil result means the
// whole tree vanished: the caller should treat the query as unconditional.
//
// Only the operator nodes and the leaf kinds that carry emptiness rules of
// their own are validated here. The three embedding-search leaves
// (SemanticTextSearch, SemanticImageSearch, SimilarTo) have no vanishing
// rule: they always survive preprocessing unchanged, since a missing query
// string or item reference is a decode-time/embed-time error, not a
// drop-silently condition.
func Preprocess(el QueryElement) (*QueryElement, error) {
	switch {
	case el.And != nil:
		cleaned := make([]QueryElement, 0, len(el.And.And))
		for _, child := range el.And.And {
			sub, err := Preprocess(child)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				cleaned = append(cleaned, *sub)
			}
		}
		switch len(cleaned) {
		case 0:
			return nil, nil
		case 1:
			return &cleaned[0], nil
		default:
			return &QueryElement{And: &AndOperator{And: cleaned}}, nil
		}

	case el.Or != nil:
		cleaned := make([]QueryElement, 0, len(el.Or.Or))
		for _, child := range el.Or.Or {
			sub, err := Preprocess(child)
			if err != nil {
				return nil, err
			}
			if sub != nil {
				cleaned = append(cleaned, *sub)
			}
		}
		switch len(cleaned) {
		case 0:
			return nil, nil
		case 1:
			return &cleaned[0], nil
		default:
			return &QueryElement{Or: &OrOperator{Or: cleaned}}, nil
		}

	case el.Not != nil:
		sub, err := Preprocess(*el.Not.Not)
		if err != nil {
			return nil, err
		}
		if sub == nil {
			return nil, nil
		}
		return &QueryElement{Not: &NotOperator{Not: sub}}, nil

	case el.Match != nil:
		v := *el.Match
		if !cleanMatches(&v.Match) {
			return nil, nil
		}
		return &QueryElement{Match: &v}, nil

	case el.MatchPath != nil:
		v := *el.MatchPath
		if strings.TrimSpace(v.MatchPath.Match) == "" {
			return nil, nil
		}
		if !v.MatchPath.RawFts5Match {
			v.MatchPath.Match = EscapeFTS5Query(v.MatchPath.Match)
		}
		return &QueryElement{MatchPath: &v}, nil

	case el.MatchText != nil:
		v := *el.MatchText
		if !v.MatchText.FilterOnly && strings.TrimSpace(v.MatchText.Match) == "" {
			return nil, nil
		}
		if v.MatchText.FilterOnly {
			v.MatchText.SelectSnippetAs = nil
			v.Sort.OrderBy = false
			v.Sort.SelectAs = nil
			v.Sort.RowN = false
			v.MatchText.Match = ""
		}
		if !v.MatchText.RawFts5Match {
			v.MatchText.Match = EscapeFTS5Query(v.MatchText.Match)
		}
		return &QueryElement{MatchText: &v}, nil

	case el.MatchTags != nil:
		v := *el.MatchTags
		if len(v.MatchTags.Tags) == 0 {
			return nil, nil
		}
		if v.MatchTags.AllSettersRequired && len(v.MatchTags.Setters) == 0 {
			v.MatchTags.AllSettersRequired = false
		}
		return &QueryElement{MatchTags: &v}, nil

	case el.InBookmarks != nil:
		if !el.InBookmarks.InBookmarks.Filter {
			return nil, nil
		}
		v := *el.InBookmarks
		return &QueryElement{InBookmarks: &v}, nil

	case el.ProcessedBy != nil:
		if strings.TrimSpace(el.ProcessedBy.ProcessedBy) == "" {
			return nil, nil
		}
		v := *el.ProcessedBy
		return &QueryElement{ProcessedBy: &v}, nil

	case el.HasUnprocessedData != nil:
		args := el.HasUnprocessedData.HasDataUnprocessed
		if strings.TrimSpace(args.SetterName) == "" || len(args.DataTypes) == 0 {
			return nil, nil
		}
		v := *el.HasUnprocessedData
		return &QueryElement{HasUnprocessedData: &v}, nil

	case el.SemanticTextSearch != nil:
		v := *el.SemanticTextSearch
		return &QueryElement{SemanticTextSearch: &v}, nil

	case el.SemanticImageSearch != nil:
		v := *el.SemanticImageSearch
		return &QueryElement{SemanticImageSearch: &v}, nil

	case el.SimilarTo != nil:
		v := *el.SimilarTo
		return &QueryElement{SimilarTo: &v}, nil

	default:
		return nil, Internalf("preprocess: query element has no variant set")
	}
}

// cleanMatches strips empty operator objects out of a Match boolean tree:
// And/Or recurse into their children and drop empty ones, Not cleans its
// single flat MatchOps in place, and a bare Ops leaf cleans itself. Returns
// whether anything of the node survived.
func cleanMatches(m *Matches) bool {
	switch {
	case m.And != nil:
		cleaned := make([]Matches, 0, len(m.And))
		for i := range m.And {
			if cleanMatches(&m.And[i]) {
				cleaned = append(cleaned, m.And[i])
			}
		}
		m.And = cleaned
		return len(m.And) > 0

	case m.Or != nil:
		cleaned := make([]Matches, 0, len(m.Or))
		for i := range m.Or {
			if cleanMatches(&m.Or[i]) {
				cleaned = append(cleaned, m.Or[i])
			}
		}
		m.Or = cleaned
		return len(m.Or) > 0

	case m.Not != nil:
		return m.Not.clean()

	case m.Ops != nil:
		return m.Ops.clean()

	default:
		return false
	}
}
