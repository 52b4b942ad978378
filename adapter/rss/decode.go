package rss

import (
	"bytes"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
	atomfeed "github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	jsonfeed "github.com/mmcdole/gofeed/json"
	rssfeed "github.com/mmcdole/gofeed/rss"
	"github.com/pkg/errors"

	"feedpipe/domain"
)

var ErrUnknownFormat = errors.New("unknown feed format")

// Decode detects the dialect of data and decodes it into a Record with the
// channel under "feed" and the items under "entries". Keys keep the names of
// the dialect they came from; dates are stored twice, raw under their own key
// and as time.Time under key+"_parsed".
func Decode(data []byte) (domain.Record, error) {
	switch gofeed.DetectFeedType(bytes.NewReader(data)) {
	case gofeed.FeedTypeRSS:
		p := &rssfeed.Parser{}
		f, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "parse rss")
		}
		return fromRSS(f), nil
	case gofeed.FeedTypeAtom:
		p := &atomfeed.Parser{}
		f, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "parse atom")
		}
		return fromAtom(f), nil
	case gofeed.FeedTypeJSON:
		p := &jsonfeed.Parser{}
		f, err := p.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, errors.Wrap(err, "parse json feed")
		}
		return fromJSON(f), nil
	default:
		return nil, ErrUnknownFormat
	}
}

func fromRSS(f *rssfeed.Feed) domain.Record {
	channel := domain.Record{}
	putString(channel, "title", f.Title)
	putString(channel, "link", f.Link)
	putString(channel, "description", f.Description)
	putString(channel, "language", f.Language)
	putString(channel, "copyright", f.Copyright)
	putString(channel, "managingEditor", f.ManagingEditor)
	putString(channel, "webMaster", f.WebMaster)
	putString(channel, "generator", f.Generator)
	putTime(channel, "pubDate", f.PubDate, f.PubDateParsed)
	putTime(channel, "lastBuildDate", f.LastBuildDate, f.LastBuildDateParsed)
	putDublinCore(channel, f.DublinCoreExt)

	entries := make([]domain.Record, 0, len(f.Items))
	for _, it := range f.Items {
		item := domain.Record{}
		putString(item, "title", it.Title)
		putString(item, "link", it.Link)
		putString(item, "description", it.Description)
		putString(item, "content", it.Content)
		putString(item, "author", it.Author)
		putString(item, "comments", it.Comments)
		if it.GUID != nil {
			putString(item, "guid", it.GUID.Value)
		}
		putTime(item, "pubDate", it.PubDate, it.PubDateParsed)
		putDublinCore(item, it.DublinCoreExt)
		entries = append(entries, item)
	}

	return domain.Record{"version": "rss" + f.Version, "feed": channel, "entries": entries}
}

func fromAtom(f *atomfeed.Feed) domain.Record {
	channel := domain.Record{}
	putString(channel, "title", f.Title)
	putString(channel, "id", f.ID)
	putString(channel, "subtitle", f.Subtitle)
	putString(channel, "rights", f.Rights)
	putString(channel, "language", f.Language)
	putTime(channel, "updated", f.Updated, f.UpdatedParsed)
	putLinks(channel, f.Links)
	if len(f.Authors) > 0 && f.Authors[0] != nil {
		putString(channel, "author", f.Authors[0].Name)
	}

	entries := make([]domain.Record, 0, len(f.Entries))
	for _, e := range f.Entries {
		item := domain.Record{}
		putString(item, "title", e.Title)
		putString(item, "id", e.ID)
		putString(item, "summary", e.Summary)
		putString(item, "rights", e.Rights)
		if e.Content != nil {
			putString(item, "content", e.Content.Value)
		}
		putTime(item, "updated", e.Updated, e.UpdatedParsed)
		putTime(item, "published", e.Published, e.PublishedParsed)
		putLinks(item, e.Links)
		if len(e.Authors) > 0 && e.Authors[0] != nil {
			putString(item, "author", e.Authors[0].Name)
		}
		entries = append(entries, item)
	}

	return domain.Record{"version": "atom" + f.Version, "feed": channel, "entries": entries}
}

func fromJSON(f *jsonfeed.Feed) domain.Record {
	channel := domain.Record{}
	putString(channel, "title", f.Title)
	putString(channel, "home_page_url", f.HomePageURL)
	putString(channel, "feed_url", f.FeedURL)
	putString(channel, "description", f.Description)
	if f.Author != nil {
		putString(channel, "author", f.Author.Name)
	}

	entries := make([]domain.Record, 0, len(f.Items))
	for _, it := range f.Items {
		item := domain.Record{}
		putString(item, "id", it.ID)
		putString(item, "url", it.URL)
		putString(item, "external_url", it.ExternalURL)
		putString(item, "title", it.Title)
		putString(item, "summary", it.Summary)
		putString(item, "content_text", it.ContentText)
		putString(item, "content_html", it.ContentHTML)
		putTime(item, "date_published", it.DatePublished, nil)
		putTime(item, "date_modified", it.DateModified, nil)
		if it.Author != nil {
			putString(item, "author", it.Author.Name)
		}
		entries = append(entries, item)
	}

	return domain.Record{"version": "json" + f.Version, "feed": channel, "entries": entries}
}

func putString(rec domain.Record, key, value string) {
	if value != "" {
		rec[key] = value
	}
}

// putTime keeps the raw value and a parsed one. A raw value nobody can parse
// stays a string under the parsed key so normalization rejects it.
func putTime(rec domain.Record, key, raw string, parsed *time.Time) {
	if raw == "" && parsed == nil {
		return
	}
	putString(rec, key, raw)
	if parsed != nil {
		rec[key+"_parsed"] = *parsed
		return
	}
	if t, err := dateparse.ParseAny(raw); err == nil {
		rec[key+"_parsed"] = t
		return
	}
	rec[key+"_parsed"] = raw
}

func putLinks(rec domain.Record, links []*atomfeed.Link) {
	for _, l := range links {
		if l == nil || l.Href == "" {
			continue
		}
		switch l.Rel {
		case "", "alternate":
			if _, ok := rec["link"]; !ok {
				rec["link"] = l.Href
			}
		case "self":
			rec["href"] = l.Href
		}
	}
}

func putDublinCore(rec domain.Record, dc *ext.DublinCoreExtension) {
	if dc == nil {
		return
	}
	first := func(values []string) string {
		if len(values) > 0 {
			return values[0]
		}
		return ""
	}
	putString(rec, "dc:title", first(dc.Title))
	putString(rec, "dc:creator", first(dc.Creator))
	putString(rec, "dc:description", first(dc.Description))
	putString(rec, "dc:rights", first(dc.Rights))
	putString(rec, "dc:language", first(dc.Language))
	putString(rec, "dc:identifier", first(dc.Identifier))
	putTime(rec, "dc:date", first(dc.Date), nil)
}
