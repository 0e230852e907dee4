package search

import (
	"context"

	"github.com/rs/zerolog"

	"slidesync/api/internal/store"
)

// Service is the facade that tries Meilisearch first and falls back to
// Postgres full-text search, or to the in-memory index when running without
// a database. It also keeps the indexes current as presentations change.
type Service struct {
	meili  *Meili
	pgfts  *PgFTS
	memory *Memory
	log    zerolog.Logger
	writes writeQueue
}

// NewService creates a search service. Any backend may be nil.
func NewService(meili *Meili, pgfts *PgFTS, memory *Memory, log zerolog.Logger) *Service {
	return &Service{
		meili:  meili,
		pgfts:  pgfts,
		memory: memory,
		log:    log.With().Str("component", "search").Logger(),
	}
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn().Err(err).Msg("meilisearch failed, falling back")
	}

	var fallback Searcher
	switch {
	case s.pgfts != nil:
		fallback = s.pgfts
	case s.memory != nil:
		fallback = s.memory
	default:
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("fallback search failed")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// index applies fn to every configured indexer. Meilisearch is written in
// the background, in call order, so a later write for the same record
// always lands after an earlier one.
func (s *Service) index(what, id string, fn func(Indexer) error) {
	if s.memory != nil {
		_ = fn(s.memory)
	}
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	s.writes.push(func() {
		if err := fn(s.meili); err != nil {
			s.log.Warn().Err(err).Str("what", what).Str("id", id).Msg("index update failed")
		}
	})
}

// Flush waits for queued Meilisearch writes to finish.
func (s *Service) Flush() {
	s.writes.wait()
}

func (s *Service) IndexPresentation(doc store.Document) {
	record := PresentationRecordOf(doc)
	s.index("presentation", doc.ID, func(ix Indexer) error { return ix.IndexPresentation(record) })
}

// RemovePresentation drops a deleted presentation and the elements it held.
func (s *Service) RemovePresentation(id string, elementIDs []string) {
	s.index("presentation", id, func(ix Indexer) error {
		if err := ix.DeletePresentation(id); err != nil {
			return err
		}
		if len(elementIDs) == 0 {
			return nil
		}
		return ix.DeleteElements(elementIDs)
	})
}

// DocumentChanged, ElementChanged, ElementRemoved and PageSaved keep the
// indexes in step with the mutation pipeline.

func (s *Service) DocumentChanged(doc store.Document) {
	s.IndexPresentation(doc)
}

func (s *Service) ElementChanged(documentID string, e store.Element) {
	record, ok := ElementRecordOf(documentID, e)
	if !ok {
		s.ElementRemoved(documentID, e.ID)
		return
	}
	s.index("element", e.ID, func(ix Indexer) error { return ix.IndexElements([]ElementRecord{record}) })
}

func (s *Service) ElementRemoved(_ string, elementID string) {
	s.index("element", elementID, func(ix Indexer) error { return ix.DeleteElements([]string{elementID}) })
}

func (s *Service) PageSaved(documentID, pageID, _ string, elements []store.Element) {
	var records []ElementRecord
	var empty []string
	for _, e := range elements {
		if record, ok := ElementRecordOf(documentID, e); ok {
			records = append(records, record)
		} else {
			empty = append(empty, e.ID)
		}
	}
	s.index("page", pageID, func(ix Indexer) error {
		if err := ix.IndexElements(records); err != nil {
			return err
		}
		if len(empty) == 0 {
			return nil
		}
		return ix.DeleteElements(empty)
	})
}

// ReindexAllFromPG pushes every searchable row from Postgres into
// Meilisearch. It runs once at startup.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	presentations, elements, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.meili.IndexPresentations(presentations); err != nil {
		s.log.Error().Err(err).Msg("reindex presentations failed")
	}
	if err := s.meili.IndexElements(elements); err != nil {
		s.log.Error().Err(err).Msg("reindex elements failed")
	}
	s.log.Info().Int("presentations", len(presentations)).Int("elements", len(elements)).Msg("search reindexed")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
