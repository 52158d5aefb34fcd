// Package search indexes the messages received during this process lifetime.
// The index lives in memory only, like the transcript it mirrors.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"room-chat/contract"
	"room-chat/domain/event"
	"room-chat/errors"

	"github.com/blugelabs/bluge"
	"github.com/google/uuid"
)

const (
	fieldContent   = "content"
	fieldAuthor    = "author"
	fieldTimestamp = "timestamp"
)

var (
	_ contract.EventSink    = (*Index)(nil)
	_ contract.ISearchIndex = (*Index)(nil)
)

type Index struct {
	log          *slog.Logger
	writer       *bluge.Writer
	defaultLimit int
}

func NewIndex(log *slog.Logger, defaultLimit int) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("open search index: %w", err)
	}
	if defaultLimit <= 0 {
		defaultLimit = 10
	}
	return &Index{log: log, writer: writer, defaultLimit: defaultLimit}, nil
}

// Consume indexes broadcast messages and ignores every other event.
func (i *Index) Consume(_ context.Context, e event.Event) error {
	broadcast, ok := e.(event.Broadcast)
	if !ok {
		return nil
	}
	message := broadcast.Message
	doc := bluge.NewDocument(uuid.NewString()).
		AddField(bluge.NewTextField(fieldContent, message.Message).StoreValue()).
		AddField(bluge.NewKeywordField(fieldAuthor, message.UserName).StoreValue()).
		AddField(bluge.NewKeywordField(fieldTimestamp, message.Timestamp).StoreValue())
	if err := i.writer.Update(doc.ID(), doc); err != nil {
		return fmt.Errorf("index message: %w", err)
	}
	return nil
}

// Find runs a /find command line against the indexed messages.
func (i *Index) Find(ctx context.Context, raw string) ([]contract.SearchHit, error) {
	query := NewSearchQuery(raw, i.defaultLimit)
	if query.Empty() {
		return nil, errors.ErrEmptyQuery
	}

	boolean := bluge.NewBooleanQuery()
	if query.Terms != "" {
		boolean.AddMust(bluge.NewMatchQuery(query.Terms).SetField(fieldContent))
	}
	if query.From != "" {
		boolean.AddMust(bluge.NewTermQuery(query.From).SetField(fieldAuthor))
	}

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, fmt.Errorf("open index reader: %w", err)
	}
	defer func() { _ = reader.Close() }()

	matches, err := reader.Search(ctx, bluge.NewTopNSearch(query.Limit, boolean))
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var hits []contract.SearchHit
	match, err := matches.Next()
	for err == nil && match != nil {
		hit := contract.SearchHit{Score: match.Score}
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			switch field {
			case fieldContent:
				hit.Content = string(value)
			case fieldAuthor:
				hit.Author = string(value)
			case fieldTimestamp:
				hit.Timestamp = string(value)
			}
			return true
		})
		if err != nil {
			break
		}
		hits = append(hits, hit)
		match, err = matches.Next()
	}
	if err != nil {
		return nil, fmt.Errorf("read search results: %w", err)
	}
	i.log.Debug("Search done", "terms", query.Terms, "from", query.From, "hits", len(hits))
	return hits, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}
