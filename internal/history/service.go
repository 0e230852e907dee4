// Package history keeps a git repository per presentation with one commit
// per explicit page save.
package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/rs/zerolog"

	"slidesync/api/internal/mutation"
	"slidesync/api/internal/store"
)

const (
	branch        = "main"
	messagePrefix = "Save page "
)

var ErrNoHistory = errors.New("no history for presentation")

// Commit is one entry of a presentation's save history.
type Commit struct {
	Hash      string    `json:"hash"`
	PageID    string    `json:"pageId"`
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// PageSnapshot is the file committed for a page save.
type PageSnapshot struct {
	PageID   string          `json:"pageId"`
	SavedBy  string          `json:"savedBy"`
	Elements []store.Payload `json:"elements"`
}

type Service struct {
	mutation.NopObserver

	baseDir string
	log     zerolog.Logger
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string, log zerolog.Logger) *Service {
	return &Service{
		baseDir: baseDir,
		log:     log.With().Str("component", "history").Logger(),
		locks:   make(map[string]*sync.Mutex),
	}
}

// PageSaved records a page save. Errors are logged; history is best effort.
func (s *Service) PageSaved(documentID, pageID, actor string, elements []store.Element) {
	if _, err := s.RecordPageSave(documentID, pageID, actor, elements); err != nil {
		s.log.Error().Err(err).Str("document_id", documentID).Str("page_id", pageID).Msg("record page save failed")
	}
}

// RecordPageSave commits pages/<pageID>.json. Saving an unchanged page
// returns the current head without a new commit.
func (s *Service) RecordPageSave(documentID, pageID, author string, elements []store.Element) (Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := s.openOrInit(documentID)
	if err != nil {
		return Commit{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Commit{}, fmt.Errorf("open worktree: %w", err)
	}

	snapshot := PageSnapshot{PageID: pageID, SavedBy: author, Elements: make([]store.Payload, 0, len(elements))}
	for _, e := range elements {
		snapshot.Elements = append(snapshot.Elements, e.Snapshot())
	}
	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Commit{}, fmt.Errorf("marshal page snapshot: %w", err)
	}

	rel := pageFile(pageID)
	root := worktree.Filesystem.Root()
	if err := os.MkdirAll(filepath.Join(root, "pages"), 0o755); err != nil {
		return Commit{}, fmt.Errorf("create pages dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(root, rel), append(payload, '\n'), 0o644); err != nil {
		return Commit{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return Commit{}, fmt.Errorf("git add %s: %w", rel, err)
	}

	status, err := worktree.Status()
	if err != nil {
		return Commit{}, fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		head, err := repo.Head()
		if err != nil {
			return Commit{}, fmt.Errorf("resolve head: %w", err)
		}
		commitObj, err := repo.CommitObject(head.Hash())
		if err != nil {
			return Commit{}, fmt.Errorf("load head commit: %w", err)
		}
		return toCommit(commitObj), nil
	}

	hash, err := worktree.Commit(messagePrefix+pageID, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@local.slidesync.dev", sanitizeEmail(author)),
			When:  time.Now(),
		},
	})
	if err != nil {
		return Commit{}, fmt.Errorf("commit page snapshot: %w", err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Commit{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommit(commitObj), nil
}

// History lists saves newest first. A presentation that was never saved has
// an empty history.
func (s *Service) History(documentID string, limit int) ([]Commit, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return []Commit{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", branch, err)
	}

	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Commit, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommit(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// Snapshot returns a page as it was saved in the given commit.
func (s *Service) Snapshot(documentID, hash, pageID string) (PageSnapshot, error) {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(s.repoPath(documentID))
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return PageSnapshot{}, ErrNoHistory
	}
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("resolve hash %s: %w", hash, err)
	}
	commitObj, err := repo.CommitObject(*resolved)
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(pageFile(pageID))
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("load %s from commit: %w", pageFile(pageID), err)
	}
	reader, err := file.Reader()
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("open snapshot reader: %w", err)
	}
	defer reader.Close()

	var snapshot PageSnapshot
	if err := json.NewDecoder(reader).Decode(&snapshot); err != nil {
		return PageSnapshot{}, fmt.Errorf("decode page snapshot: %w", err)
	}
	return snapshot, nil
}

// RemoveDocument deletes a presentation's repository.
func (s *Service) RemoveDocument(documentID string) error {
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(s.repoPath(documentID)); err != nil {
		return fmt.Errorf("remove history: %w", err)
	}
	return nil
}

func (s *Service) openOrInit(documentID string) (*git.Repository, error) {
	path := s.repoPath(documentID)
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branch))); err != nil {
		return nil, fmt.Errorf("set HEAD to %s: %w", branch, err)
	}
	return repo, nil
}

func (s *Service) repoPath(documentID string) string {
	return filepath.Join(s.baseDir, filepath.Base(documentID))
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
	return lock
}

func pageFile(pageID string) string {
	return "pages/" + filepath.Base(pageID) + ".json"
}

func toCommit(commitObj *object.Commit) Commit {
	message := strings.TrimSpace(commitObj.Message)
	return Commit{
		Hash:      commitObj.Hash.String()[:7],
		PageID:    strings.TrimPrefix(message, messagePrefix),
		Author:    commitObj.Author.Name,
		Message:   message,
		CreatedAt: commitObj.Author.When,
	}
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "user"
	}
	return string(out)
}
