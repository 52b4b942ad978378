package app

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"feedpipe/domain"
)

type field int

const (
	fieldTitle field = iota
	fieldLink
	fieldURL
	fieldDescription
	fieldTagline
	fieldGUID
	fieldPublished
	fieldModified
	fieldAuthor
	fieldCopyright
	fieldLanguage
)

// aliases lists, per canonical field, the dialect keys that may fill it, in
// priority order. A field keeps the first value it receives.
var aliases = []struct {
	field field
	keys  []string
}{
	{fieldTitle, []string{"dc:title"}},
	{fieldLink, []string{"home_page_url", "url", "external_url"}},
	{fieldURL, []string{"href", "feed_url", "url"}},
	{fieldDescription, []string{"description", "summary", "subtitle", "content_text", "dc:description"}},
	{fieldTagline, []string{"tagline", "subtitle"}},
	{fieldGUID, []string{"guid", "id", "dc:identifier"}},
	{fieldPublished, []string{"published_parsed", "issued_parsed", "pubDate_parsed", "date_published_parsed"}},
	{fieldModified, []string{"updated_parsed", "modified_parsed", "lastBuildDate_parsed", "date_modified_parsed", "dc:date_parsed"}},
	{fieldAuthor, []string{"author", "dc:creator", "managingEditor", "webMaster"}},
	{fieldCopyright, []string{"copyright", "rights", "dc:rights"}},
	{fieldLanguage, []string{"language", "dc:language"}},
}

// Normalize maps a decoded document, or a single decoded item, to an
// AggregatedFeed. Title and link always come from the root object; every
// other field is filled from the alias table without overwriting.
func Normalize(rec domain.Record) (domain.AggregatedFeed, error) {
	var agg domain.AggregatedFeed
	if rec == nil {
		return agg, &domain.ConfigurationError{Msg: "nothing to normalize"}
	}

	if entries, ok := rec["entries"]; ok {
		items, err := recordList(entries)
		if err != nil {
			return agg, err
		}
		agg.Items = items
	}

	source := rec
	if channel, ok := asRecord(rec["feed"]); ok {
		source = channel
	}

	agg.Title = source.Text("title")
	agg.Link = source.Text("link")

	for _, a := range aliases {
		for _, key := range a.keys {
			value, ok := source[key]
			if !ok || value == nil {
				continue
			}
			set, err := assign(&agg, a.field, key, value)
			if err != nil {
				return domain.AggregatedFeed{}, err
			}
			if set {
				break
			}
		}
	}
	return agg, nil
}

// assign writes value into the canonical field when it is still empty and
// reports whether the field is now set.
func assign(agg *domain.AggregatedFeed, f field, key string, value any) (bool, error) {
	if f == fieldPublished || f == fieldModified {
		target := &agg.Published
		if f == fieldModified {
			target = &agg.Modified
		}
		if *target != nil {
			return true, nil
		}
		t, err := ToUTC(value)
		if err != nil {
			var te *domain.TypeConversionError
			if errors.As(err, &te) {
				te.Field = key
			}
			return false, err
		}
		*target = &t
		return true, nil
	}

	s, ok := value.(string)
	if !ok || s == "" {
		return false, nil
	}
	var target *string
	switch f {
	case fieldTitle:
		target = &agg.Title
	case fieldLink:
		target = &agg.Link
	case fieldURL:
		target = &agg.URL
	case fieldDescription:
		target = &agg.Description
	case fieldTagline:
		target = &agg.Tagline
	case fieldGUID:
		target = &agg.GUID
	case fieldAuthor:
		target = &agg.Author
	case fieldCopyright:
		target = &agg.Copyright
	case fieldLanguage:
		target = &agg.Language
	default:
		return false, nil
	}
	if *target == "" {
		*target = s
	}
	return true, nil
}

// ToUTC converts a structured time value to a UTC instant.
func ToUTC(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case *time.Time:
		if t != nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &domain.TypeConversionError{Value: v}
}

func asRecord(v any) (domain.Record, bool) {
	switch r := v.(type) {
	case domain.Record:
		return r, true
	case map[string]any:
		return domain.Record(r), true
	}
	return nil, false
}

func recordList(v any) ([]domain.Record, error) {
	switch list := v.(type) {
	case []domain.Record:
		return list, nil
	case []any:
		out := make([]domain.Record, 0, len(list))
		for i, item := range list {
			r, ok := asRecord(item)
			if !ok {
				return nil, errors.Errorf("entry %d is %T, not an object", i, item)
			}
			out = append(out, r)
		}
		return out, nil
	case nil:
		return nil, nil
	}
	return nil, errors.Errorf("entries is %T, not a list", v)
}

// Normalizer produces AggregatedFeeds from a URL or from already decoded data.
type Normalizer struct {
	fetcher domain.FeedFetcher
}

func NewNormalizer(fetcher domain.FeedFetcher) *Normalizer {
	return &Normalizer{fetcher: fetcher}
}

// Aggregate fetches url when parsed is nil, then normalizes the result.
func (n *Normalizer) Aggregate(ctx context.Context, url string, parsed domain.Record) (domain.AggregatedFeed, error) {
	if parsed == nil {
		if url == "" {
			return domain.AggregatedFeed{}, &domain.ConfigurationError{Msg: "either a url or parsed data is required"}
		}
		rec, err := n.fetcher.Fetch(ctx, url)
		if err != nil {
			return domain.AggregatedFeed{}, err
		}
		parsed = rec
	}
	return Normalize(parsed)
}
