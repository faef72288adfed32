package pql

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// EntityType selects the granularity of a result row.
type EntityType string

const (
	EntityFile EntityType = "file"
	EntityText EntityType = "text"
)

// Column names the fixed enumeration of base-table columns the Match
// operator tree and the select/partition_by lists are allowed to reference.
type Column string

const (
	ColumnFileId             Column = "file_id"
	ColumnSha256             Column = "sha256"
	ColumnPath               Column = "path"
	ColumnFilename           Column = "filename"
	ColumnLastModified       Column = "last_modified"
	ColumnItemId             Column = "item_id"
	ColumnMd5                Column = "md5"
	ColumnType               Column = "type"
	ColumnSize               Column = "size"
	ColumnWidth              Column = "width"
	ColumnHeight             Column = "height"
	ColumnDuration           Column = "duration"
	ColumnTimeAdded          Column = "time_added"
	ColumnAudioTracks        Column = "audio_tracks"
	ColumnVideoTracks        Column = "video_tracks"
	ColumnSubtitleTracks     Column = "subtitle_tracks"
	ColumnBlurhash           Column = "blurhash"
	ColumnDataId             Column = "data_id"
	ColumnLanguage           Column = "language"
	ColumnLanguageConfidence Column = "language_confidence"
	ColumnText               Column = "text"
	ColumnConfidence         Column = "confidence"
	ColumnTextLength         Column = "text_length"
	ColumnJobId              Column = "job_id"
	ColumnSetterId           Column = "setter_id"
	ColumnSetterName         Column = "setter_name"
	ColumnDataIndex          Column = "data_index"
	ColumnSourceId           Column = "source_id"
)

// knownColumns backs Column's UnmarshalJSON validation: only columns in this
// fixed enumeration may appear as a key in a Match operator object.
var knownColumns = map[Column]struct{}{
	ColumnFileId: {}, ColumnSha256: {}, ColumnPath: {}, ColumnFilename: {},
	ColumnLastModified: {}, ColumnItemId: {}, ColumnMd5: {}, ColumnType: {},
	ColumnSize: {}, ColumnWidth: {}, ColumnHeight: {}, ColumnDuration: {},
	ColumnTimeAdded: {}, ColumnAudioTracks: {}, ColumnVideoTracks: {},
	ColumnSubtitleTracks: {}, ColumnBlurhash: {}, ColumnDataId: {},
	ColumnLanguage: {}, ColumnLanguageConfidence: {}, ColumnText: {},
	ColumnConfidence: {}, ColumnTextLength: {}, ColumnJobId: {},
	ColumnSetterId: {}, ColumnSetterName: {}, ColumnDataIndex: {},
	ColumnSourceId: {},
}

func (c Column) valid() bool {
	_, ok := knownColumns[c]
	return ok
}

// OrderByField is Column plus the synthetic "random" ordering.
type OrderByField string

const OrderByRandom OrderByField = "random"

func (f OrderByField) valid() bool {
	if f == OrderByRandom {
		return true
	}
	return Column(f).valid()
}

// OrderDirection is the sort direction for an order-by entry.
type OrderDirection string

const (
	OrderAsc  OrderDirection = "asc"
	OrderDesc OrderDirection = "desc"
)

// ScalarValue is the untagged int/float/string literal the wire format uses
// for cursor bounds and Match operator atoms. encoding/json has no built-in
// "try int, then float, then string" decode, so this type sniffs the raw
// token itself.
type ScalarValue struct {
	hasInt   bool
	hasFloat bool
	hasStr   bool
	i        int64
	f        float64
	s        string
}

func NewIntScalar(v int64) ScalarValue     { return ScalarValue{hasInt: true, i: v} }
func NewFloatScalar(v float64) ScalarValue { return ScalarValue{hasFloat: true, f: v} }
func NewStringScalar(v string) ScalarValue { return ScalarValue{hasStr: true, s: v} }

func (s ScalarValue) IsInt() bool    { return s.hasInt }
func (s ScalarValue) IsFloat() bool  { return s.hasFloat }
func (s ScalarValue) IsString() bool { return s.hasStr }

func (s ScalarValue) Int() int64     { return s.i }
func (s ScalarValue) Float() float64 { return s.f }
func (s ScalarValue) Str() string    { return s.s }

// Any returns the value boxed as the concrete Go type a driver bind expects.
func (s ScalarValue) Any() any {
	switch {
	case s.hasInt:
		return s.i
	case s.hasFloat:
		return s.f
	default:
		return s.s
	}
}

func (s ScalarValue) MarshalJSON() ([]byte, error) {
	switch {
	case s.hasInt:
		return json.Marshal(s.i)
	case s.hasFloat:
		return json.Marshal(s.f)
	default:
		return json.Marshal(s.s)
	}
}

func (s *ScalarValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return fmt.Errorf("pql: scalar value cannot be null")
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = ScalarValue{hasStr: true, s: str}
		return nil
	}
	var i int64
	if err := json.Unmarshal(trimmed, &i); err == nil {
		*s = ScalarValue{hasInt: true, i: i}
		return nil
	}
	var f float64
	if err := json.Unmarshal(trimmed, &f); err != nil {
		return fmt.Errorf("pql: scalar value %q is neither int, float nor string: %w", trimmed, err)
	}
	*s = ScalarValue{hasFloat: true, f: f}
	return nil
}

// Rrf carries Reciprocal Rank Fusion parameters: 1/(rank+k) * weight.
type Rrf struct {
	K      int32   `json:"k"`
	Weight float64 `json:"weight"`
}

func DefaultRrf() Rrf { return Rrf{K: 1, Weight: 1.0} }

// SortableOptions is the set of ordering-related fields every sortable
// filter leaf carries flattened alongside its own JSON object.
type SortableOptions struct {
	OrderBy       bool           `json:"order_by"`
	Direction     OrderDirection `json:"direction"`
	Priority      int32          `json:"priority"`
	RowN          bool           `json:"row_n"`
	RowNDirection OrderDirection `json:"row_n_direction"`
	Gt            *ScalarValue   `json:"gt,omitempty"`
	Lt            *ScalarValue   `json:"lt,omitempty"`
	SelectAs      *string        `json:"select_as,omitempty"`
	Rrf           *Rrf           `json:"rrf,omitempty"`
}

// DefaultSortableOptions is the baseline every leaf starts from: no
// ordering contribution, ascending when one is requested.
func DefaultSortableOptions() SortableOptions {
	return SortableOptions{
		OrderBy:       false,
		Direction:     OrderAsc,
		Priority:      0,
		RowN:          false,
		RowNDirection: OrderAsc,
	}
}

// sortDefaultAsc is the variant the semantic-search leaves default to:
// they always contribute their distance to the ordering unless the caller
// switches it off.
func sortDefaultAsc() SortableOptions {
	opts := DefaultSortableOptions()
	opts.OrderBy = true
	opts.Direction = OrderAsc
	opts.RowNDirection = OrderAsc
	return opts
}

// sortDefaultDesc is the tag-match variant: its rank is an average
// confidence, where higher is a stronger match, so ordering defaults to
// descending (best match first) when the caller asks for ordering without
// picking a direction.
func sortDefaultDesc() SortableOptions {
	opts := DefaultSortableOptions()
	opts.Direction = OrderDesc
	opts.RowNDirection = OrderDesc
	return opts
}

// unmarshalSortable decodes the flattened sortable fields from a leaf's raw
// JSON, applying defaults first and then overlaying whatever the caller
// actually supplied, so omitted fields keep their per-leaf defaults.
func unmarshalSortable(data []byte, defaults SortableOptions) (SortableOptions, error) {
	var wire struct {
		OrderBy       *bool           `json:"order_by"`
		Direction     *OrderDirection `json:"direction"`
		Priority      *int32          `json:"priority"`
		RowN          *bool           `json:"row_n"`
		RowNDirection *OrderDirection `json:"row_n_direction"`
		Gt            *ScalarValue    `json:"gt"`
		Lt            *ScalarValue    `json:"lt"`
		SelectAs      *string         `json:"select_as"`
		Rrf           *Rrf            `json:"rrf"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return SortableOptions{}, err
	}
	out := defaults
	if wire.OrderBy != nil {
		out.OrderBy = *wire.OrderBy
	}
	if wire.Direction != nil {
		out.Direction = *wire.Direction
	}
	if wire.Priority != nil {
		out.Priority = *wire.Priority
	}
	if wire.RowN != nil {
		out.RowN = *wire.RowN
	}
	if wire.RowNDirection != nil {
		out.RowNDirection = *wire.RowNDirection
	}
	out.Gt = wire.Gt
	out.Lt = wire.Lt
	out.SelectAs = wire.SelectAs
	out.Rrf = wire.Rrf
	return out, nil
}

// --- Match (scalar predicate tree) ---

// MatchValue is a fixed-enumeration-keyed object mapping a column name to a
// single literal: a validated map, since the permitted key set is closed but
// any subset of it may appear.
type MatchValue map[Column]ScalarValue

func (m *MatchValue) UnmarshalJSON(data []byte) error {
	raw := map[Column]ScalarValue{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for col := range raw {
		if !col.valid() {
			return fmt.Errorf("pql: unknown match column %q", col)
		}
	}
	*m = raw
	return nil
}

func (m MatchValue) isEmpty() bool { return len(m) == 0 }

// MatchValues is MatchValue's list-valued counterpart, used by in/nin.
type MatchValues map[Column][]ScalarValue

func (m *MatchValues) UnmarshalJSON(data []byte) error {
	raw := map[Column][]ScalarValue{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for col := range raw {
		if !col.valid() {
			return fmt.Errorf("pql: unknown match column %q", col)
		}
	}
	*m = raw
	return nil
}

func (m MatchValues) isEmpty() bool { return len(m) == 0 }

// MatchOps is one boolean-tree leaf: a set of operator slots, each an
// optionally-present column->literal(s) mapping.
type MatchOps struct {
	Eq  MatchValue `json:"eq,omitempty"`
	Neq MatchValue `json:"neq,omitempty"`

	In  MatchValues `json:"in,omitempty"`
	Nin MatchValues `json:"nin,omitempty"`

	Gt  MatchValue `json:"gt,omitempty"`
	Gte MatchValue `json:"gte,omitempty"`
	Lt  MatchValue `json:"lt,omitempty"`
	Lte MatchValue `json:"lte,omitempty"`

	Startswith    MatchValue `json:"startswith,omitempty"`
	NotStartswith MatchValue `json:"not_startswith,omitempty"`
	Endswith      MatchValue `json:"endswith,omitempty"`
	NotEndswith   MatchValue `json:"not_endswith,omitempty"`
	Contains      MatchValue `json:"contains,omitempty"`
	NotContains   MatchValue `json:"not_contains,omitempty"`
}

// clean drops empty operator slots and reports whether anything survived.
func (o *MatchOps) clean() bool {
	has := false
	clearIfEmpty := func(v MatchValue) MatchValue {
		if v.isEmpty() {
			return nil
		}
		has = true
		return v
	}
	clearIfEmptyList := func(v MatchValues) MatchValues {
		if v.isEmpty() {
			return nil
		}
		has = true
		return v
	}
	o.Eq = clearIfEmpty(o.Eq)
	o.Neq = clearIfEmpty(o.Neq)
	o.In = clearIfEmptyList(o.In)
	o.Nin = clearIfEmptyList(o.Nin)
	o.Gt = clearIfEmpty(o.Gt)
	o.Gte = clearIfEmpty(o.Gte)
	o.Lt = clearIfEmpty(o.Lt)
	o.Lte = clearIfEmpty(o.Lte)
	o.Startswith = clearIfEmpty(o.Startswith)
	o.NotStartswith = clearIfEmpty(o.NotStartswith)
	o.Endswith = clearIfEmpty(o.Endswith)
	o.NotEndswith = clearIfEmpty(o.NotEndswith)
	o.Contains = clearIfEmpty(o.Contains)
	o.NotContains = clearIfEmpty(o.NotContains)
	return has
}

// Matches is the recursive boolean tree over MatchOps leaves. And/Or wrap a
// list of further Matches trees; Not wraps a single flat MatchOps (Not never
// negates an arbitrary subtree, only a set of operators).
type Matches struct {
	And []Matches `json:"-"`
	Or  []Matches `json:"-"`
	Not *MatchOps `json:"-"`
	Ops *MatchOps `json:"-"`
}

func (m *Matches) UnmarshalJSON(data []byte) error {
	var discriminator struct {
		And *[]json.RawMessage `json:"and"`
		Or  *[]json.RawMessage `json:"or"`
		Not *json.RawMessage   `json:"not"`
	}
	if err := json.Unmarshal(data, &discriminator); err != nil {
		return err
	}
	switch {
	case discriminator.And != nil:
		children := make([]Matches, 0, len(*discriminator.And))
		for _, raw := range *discriminator.And {
			var child Matches
			if err := json.Unmarshal(raw, &child); err != nil {
				return err
			}
			children = append(children, child)
		}
		m.And = children
	case discriminator.Or != nil:
		children := make([]Matches, 0, len(*discriminator.Or))
		for _, raw := range *discriminator.Or {
			var child Matches
			if err := json.Unmarshal(raw, &child); err != nil {
				return err
			}
			children = append(children, child)
		}
		m.Or = children
	case discriminator.Not != nil:
		var ops MatchOps
		if err := json.Unmarshal(*discriminator.Not, &ops); err != nil {
			return err
		}
		m.Not = &ops
	default:
		var ops MatchOps
		if err := json.Unmarshal(data, &ops); err != nil {
			return err
		}
		m.Ops = &ops
	}
	return nil
}

func (m Matches) MarshalJSON() ([]byte, error) {
	switch {
	case m.And != nil:
		return json.Marshal(struct {
			And []Matches `json:"and"`
		}{m.And})
	case m.Or != nil:
		return json.Marshal(struct {
			Or []Matches `json:"or"`
		}{m.Or})
	case m.Not != nil:
		return json.Marshal(struct {
			Not *MatchOps `json:"not"`
		}{m.Not})
	default:
		return json.Marshal(m.Ops)
	}
}

// Match is the scalar-predicate-tree filter leaf.
type Match struct {
	Sort  SortableOptions
	Match Matches `json:"match"`
}

func (m *Match) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, DefaultSortableOptions())
	if err != nil {
		return err
	}
	// The "match" key holds an args object whose own "match" field is the
	// predicate tree: {"match": {"match": {...}}}.
	var wire struct {
		Match struct {
			Match Matches `json:"match"`
		} `json:"match"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Sort = sort
	m.Match = wire.Match.Match
	return nil
}

// --- MatchPath (FTS over file paths) ---

type MatchPathArgs struct {
	Match        string `json:"match"`
	FilenameOnly bool   `json:"filename_only"`
	RawFts5Match bool   `json:"raw_fts5_match"`
}

type MatchPath struct {
	Sort      SortableOptions
	MatchPath MatchPathArgs `json:"match_path"`
}

func (m *MatchPath) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, DefaultSortableOptions())
	if err != nil {
		return err
	}
	var wire struct {
		MatchPath MatchPathArgs `json:"match_path"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Sort = sort
	m.MatchPath = wire.MatchPath
	return nil
}

// --- MatchText (FTS over extracted text) ---

type MatchTextArgs struct {
	Match           string  `json:"match"`
	FilterOnly      bool    `json:"filter_only"`
	RawFts5Match    bool    `json:"raw_fts5_match"`
	SelectSnippetAs *string `json:"select_snippet_as,omitempty"`
}

type MatchText struct {
	Sort      SortableOptions
	MatchText MatchTextArgs `json:"match_text"`
}

func (m *MatchText) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, DefaultSortableOptions())
	if err != nil {
		return err
	}
	var wire struct {
		MatchText MatchTextArgs `json:"match_text"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Sort = sort
	m.MatchText = wire.MatchText
	return nil
}

// --- MatchTags ---

type TagsArgs struct {
	Tags               []string `json:"tags"`
	MatchAny           bool     `json:"match_any"`
	MinConfidence      *float64 `json:"min_confidence,omitempty"`
	Setters            []string `json:"setters"`
	Namespaces         []string `json:"namespaces"`
	AllSettersRequired bool     `json:"all_setters_required"`
}

type MatchTags struct {
	Sort      SortableOptions
	MatchTags TagsArgs `json:"match_tags"`
}

func (m *MatchTags) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, sortDefaultDesc())
	if err != nil {
		return err
	}
	var wire struct {
		MatchTags TagsArgs `json:"match_tags"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Sort = sort
	m.MatchTags = wire.MatchTags
	return nil
}

// --- InBookmarks ---

type InBookmarksArgs struct {
	Namespaces      []string `json:"namespaces"`
	User            string   `json:"user"`
	IncludeWildcard bool     `json:"include_wildcard"`
	Filter          bool     `json:"filter"`
	SubNs           bool     `json:"sub_ns"`
}

type InBookmarks struct {
	Sort        SortableOptions
	InBookmarks InBookmarksArgs `json:"in_bookmarks"`
}

func (m *InBookmarks) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, DefaultSortableOptions())
	if err != nil {
		return err
	}
	var wire struct {
		InBookmarks InBookmarksArgs `json:"in_bookmarks"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.Sort = sort
	m.InBookmarks = wire.InBookmarks
	return nil
}

// --- ProcessedBy (structural, no SortableOptions) ---

type ProcessedBy struct {
	ProcessedBy string `json:"processed_by"`
}

// --- HasUnprocessedData (structural, no SortableOptions) ---

type DerivedDataArgs struct {
	SetterName string   `json:"setter_name"`
	DataTypes  []string `json:"data_types"`
}

type HasUnprocessedData struct {
	HasDataUnprocessed DerivedDataArgs `json:"has_data_unprocessed"`
}

// --- Distance aggregation / function, shared by the embedding filters ---

type DistanceAggregation string

const (
	DistanceMin DistanceAggregation = "min"
	DistanceMax DistanceAggregation = "max"
	DistanceAvg DistanceAggregation = "avg"
)

type DistanceFunction string

const (
	DistanceFuncCosine DistanceFunction = "cosine"
	DistanceFuncL2     DistanceFunction = "l2"
)

// EmbedArgs, when present on a semantic-search filter, signals that `query`
// is free text that must first be embedded by an inference service; this
// gateway does not perform that round trip itself, so the marker is
// consumed by the caller, never by the compiler.
type EmbedArgs struct{}

// SourceArgs filters/weights the upstream text row a cross-modal semantic
// image search joins against.
type SourceArgs struct {
	Setters                  []string `json:"setters"`
	Languages                []string `json:"languages,omitempty"`
	MinConfidence            *float64 `json:"min_confidence,omitempty"`
	MinLanguageConfidence    float64  `json:"min_language_confidence"`
	MinLength                int64    `json:"min_length"`
	MaxLength                *int64   `json:"max_length,omitempty"`
	ConfidenceWeight         float64  `json:"confidence_weight"`
	LanguageConfidenceWeight float64  `json:"language_confidence_weight"`
}

// --- SemanticImageSearch ---

type SemanticImageArgs struct {
	Query               string              `json:"query"`
	Model               string              `json:"model"`
	DistanceAggregation DistanceAggregation `json:"distance_aggregation"`
	Embed               *EmbedArgs          `json:"embed,omitempty"`
	ClipXmodal          bool                `json:"clip_xmodal"`
	SrcText             *SourceArgs         `json:"src_text,omitempty"`

	// Embedding and DistanceFuncOverride are populated by the caller (after
	// decoding the payload) before the tree reaches the assembler; they
	// never round-trip over the wire.
	Embedding            []byte
	DistanceFuncOverride *DistanceFunction
}

type SemanticImageSearch struct {
	Sort            SortableOptions
	ImageEmbeddings SemanticImageArgs `json:"image_embeddings"`
}

func (m *SemanticImageSearch) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, sortDefaultAsc())
	if err != nil {
		return err
	}
	var wire struct {
		ImageEmbeddings SemanticImageArgs `json:"image_embeddings"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.ImageEmbeddings.DistanceAggregation == "" {
		wire.ImageEmbeddings.DistanceAggregation = DistanceMin
	}
	m.Sort = sort
	m.ImageEmbeddings = wire.ImageEmbeddings
	return nil
}

// --- SemanticTextSearch ---

type SemanticTextArgs struct {
	Query               string              `json:"query"`
	Model               string              `json:"model"`
	DistanceAggregation DistanceAggregation `json:"distance_aggregation"`
	Embed               *EmbedArgs          `json:"embed,omitempty"`

	Embedding            []byte
	DistanceFuncOverride *DistanceFunction
}

type SemanticTextSearch struct {
	Sort           SortableOptions
	TextEmbeddings SemanticTextArgs `json:"text_embeddings"`
}

func (m *SemanticTextSearch) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, sortDefaultAsc())
	if err != nil {
		return err
	}
	var wire struct {
		TextEmbeddings SemanticTextArgs `json:"text_embeddings"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.TextEmbeddings.DistanceAggregation == "" {
		wire.TextEmbeddings.DistanceAggregation = DistanceMin
	}
	m.Sort = sort
	m.TextEmbeddings = wire.TextEmbeddings
	return nil
}

// --- SimilarTo ---

type SimilarityArgs struct {
	ItemId              *int64              `json:"item_id,omitempty"`
	Sha256              *string             `json:"sha256,omitempty"`
	Setter              string              `json:"setter"`
	DistanceAggregation DistanceAggregation `json:"distance_aggregation"`
}

type SimilarTo struct {
	Sort      SortableOptions
	SimilarTo SimilarityArgs `json:"similar_to"`
}

func (m *SimilarTo) UnmarshalJSON(data []byte) error {
	sort, err := unmarshalSortable(data, DefaultSortableOptions())
	if err != nil {
		return err
	}
	var wire struct {
		SimilarTo SimilarityArgs `json:"similar_to"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if wire.SimilarTo.DistanceAggregation == "" {
		wire.SimilarTo.DistanceAggregation = DistanceMin
	}
	m.Sort = sort
	m.SimilarTo = wire.SimilarTo
	return nil
}

// --- QueryElement: the tagged-variant filter tree ---

// QueryElement is the recursive tree a PQL request's "query" field holds.
// Exactly one field is set; which one is determined at decode time by
// sniffing the JSON object's keys, since the wire format is an untagged
// union.
type QueryElement struct {
	And *AndOperator
	Or  *OrOperator
	Not *NotOperator

	Match               *Match
	MatchPath           *MatchPath
	MatchText           *MatchText
	SemanticTextSearch  *SemanticTextSearch
	SemanticImageSearch *SemanticImageSearch
	SimilarTo           *SimilarTo
	MatchTags           *MatchTags
	InBookmarks         *InBookmarks
	ProcessedBy         *ProcessedBy
	HasUnprocessedData  *HasUnprocessedData
}

type AndOperator struct{ And []QueryElement }
type OrOperator struct{ Or []QueryElement }
type NotOperator struct{ Not *QueryElement }

// variantKeys lists, in sniff order, the JSON key that identifies each
// QueryElement variant.
var variantKeys = []string{
	"and", "or", "not",
	"match", "match_path", "match_text",
	"text_embeddings", "image_embeddings", "similar_to",
	"match_tags", "in_bookmarks", "processed_by", "has_data_unprocessed",
}

func (q *QueryElement) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("pql: query element must be a JSON object: %w", err)
	}

	switch {
	case has(probe, "and"):
		var raws []json.RawMessage
		if err := json.Unmarshal(probe["and"], &raws); err != nil {
			return err
		}
		children, err := unmarshalChildren(raws)
		if err != nil {
			return err
		}
		q.And = &AndOperator{And: children}
	case has(probe, "or"):
		var raws []json.RawMessage
		if err := json.Unmarshal(probe["or"], &raws); err != nil {
			return err
		}
		children, err := unmarshalChildren(raws)
		if err != nil {
			return err
		}
		q.Or = &OrOperator{Or: children}
	case has(probe, "not"):
		var child QueryElement
		if err := json.Unmarshal(probe["not"], &child); err != nil {
			return err
		}
		q.Not = &NotOperator{Not: &child}
	case has(probe, "match"):
		var v Match
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.Match = &v
	case has(probe, "match_path"):
		var v MatchPath
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.MatchPath = &v
	case has(probe, "match_text"):
		var v MatchText
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.MatchText = &v
	case has(probe, "text_embeddings"):
		var v SemanticTextSearch
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.SemanticTextSearch = &v
	case has(probe, "image_embeddings"):
		var v SemanticImageSearch
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.SemanticImageSearch = &v
	case has(probe, "similar_to"):
		var v SimilarTo
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.SimilarTo = &v
	case has(probe, "match_tags"):
		var v MatchTags
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.MatchTags = &v
	case has(probe, "in_bookmarks"):
		var v InBookmarks
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.InBookmarks = &v
	case has(probe, "processed_by"):
		var v ProcessedBy
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.ProcessedBy = &v
	case has(probe, "has_data_unprocessed"):
		var v HasUnprocessedData
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		q.HasUnprocessedData = &v
	default:
		return fmt.Errorf("pql: query element matches none of %v", variantKeys)
	}
	return nil
}

func has(probe map[string]json.RawMessage, key string) bool {
	_, ok := probe[key]
	return ok
}

func unmarshalChildren(raws []json.RawMessage) ([]QueryElement, error) {
	children := make([]QueryElement, 0, len(raws))
	for _, raw := range raws {
		var child QueryElement
		if err := json.Unmarshal(raw, &child); err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

func (q QueryElement) MarshalJSON() ([]byte, error) {
	switch {
	case q.And != nil:
		return json.Marshal(struct {
			And []QueryElement `json:"and"`
		}{q.And.And})
	case q.Or != nil:
		return json.Marshal(struct {
			Or []QueryElement `json:"or"`
		}{q.Or.Or})
	case q.Not != nil:
		return json.Marshal(struct {
			Not *QueryElement `json:"not"`
		}{q.Not.Not})
	case q.Match != nil:
		return json.Marshal(q.Match)
	case q.MatchPath != nil:
		return json.Marshal(q.MatchPath)
	case q.MatchText != nil:
		return json.Marshal(q.MatchText)
	case q.SemanticTextSearch != nil:
		return json.Marshal(q.SemanticTextSearch)
	case q.SemanticImageSearch != nil:
		return json.Marshal(q.SemanticImageSearch)
	case q.SimilarTo != nil:
		return json.Marshal(q.SimilarTo)
	case q.MatchTags != nil:
		return json.Marshal(q.MatchTags)
	case q.InBookmarks != nil:
		return json.Marshal(q.InBookmarks)
	case q.ProcessedBy != nil:
		return json.Marshal(q.ProcessedBy)
	case q.HasUnprocessedData != nil:
		return json.Marshal(q.HasUnprocessedData)
	default:
		return []byte("null"), nil
	}
}

// --- PqlQuery ---

type OrderArgs struct {
	OrderBy  OrderByField    `json:"order_by"`
	Order    *OrderDirection `json:"order,omitempty"`
	Priority int32           `json:"priority"`
}

type PqlQuery struct {
	Query       *QueryElement `json:"query,omitempty"`
	OrderBy     []OrderArgs   `json:"order_by"`
	Select      []Column      `json:"select"`
	Entity      EntityType    `json:"entity"`
	PartitionBy []Column      `json:"partition_by,omitempty"`
	Page        int64         `json:"page"`
	PageSize    int64         `json:"page_size"`
	Count       bool          `json:"count"`
	Results     bool          `json:"results"`
	CheckPath   bool          `json:"check_path"`
}

// Default is the query a request with every field omitted resolves to.
func Default() PqlQuery {
	return PqlQuery{
		Query:    nil,
		OrderBy:  []OrderArgs{{OrderBy: OrderByField(ColumnLastModified), Order: dirPtr(OrderDesc)}},
		Select:   []Column{ColumnSha256, ColumnPath, ColumnLastModified, ColumnType},
		Entity:   EntityFile,
		Page:     1,
		PageSize: 10,
		Count:    true,
		Results:  true,
	}
}

func dirPtr(d OrderDirection) *OrderDirection { return &d }

// UnmarshalJSON overlays a request payload onto Default() so that omitted
// fields keep their defaults.
func (q *PqlQuery) UnmarshalJSON(data []byte) error {
	type wireQuery PqlQuery
	wire := wireQuery(Default())
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*q = PqlQuery(wire)
	return nil
}
