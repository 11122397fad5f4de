// Package archive keeps a git history of backup payloads per user, so a
// destructive restore can always be traced back to the data it replaced.
package archive

import (
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

	"tillbook/api/internal/backup"
)

const (
	backupFile  = "backup.json"
	branchName  = "main"
	authorName  = "Tillbook"
	authorEmail = "archive@tillbook.local"
)

var (
	ErrNoHistory = errors.New("no archived backups")
	ErrNotFound  = errors.New("archived backup not found")
)

type Entry struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Commit records payload as the newest backup for userID. Identical payloads
// still produce a commit so every restore shows up in History.
func (s *Service) Commit(userID string, payload backup.Normalized, message string) (Entry, error) {
	path, err := s.repoPath(userID)
	if err != nil {
		return Entry{}, err
	}
	lock := s.userLock(path)
	lock.Lock()
	defer lock.Unlock()

	contents, err := payload.Marshal()
	if err != nil {
		return Entry{}, err
	}

	repo, fresh, err := openOrInit(path)
	if err != nil {
		return Entry{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return Entry{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, backupFile), append(contents, '\n'), 0o644); err != nil {
		return Entry{}, fmt.Errorf("write %s: %w", backupFile, err)
	}
	if _, err := worktree.Add(backupFile); err != nil {
		return Entry{}, fmt.Errorf("git add backup: %w", err)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  authorName,
			Email: authorEmail,
			When:  time.Now(),
		},
	})
	if err != nil {
		return Entry{}, fmt.Errorf("commit backup: %w", err)
	}
	if fresh {
		if err := repo.Storer.SetReference(plumbing.NewHashReference(plumbing.NewBranchReferenceName(branchName), hash)); err != nil {
			return Entry{}, fmt.Errorf("set main branch ref: %w", err)
		}
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(branchName))); err != nil {
			return Entry{}, fmt.Errorf("set HEAD to main: %w", err)
		}
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return Entry{}, fmt.Errorf("read commit object: %w", err)
	}
	return toEntry(commitObj), nil
}

// History lists archived backups, newest first. A user without an archive
// has an empty history.
func (s *Service) History(userID string, limit int) ([]Entry, error) {
	path, err := s.repoPath(userID)
	if err != nil {
		return nil, err
	}
	lock := s.userLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []Entry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}

	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]Entry, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toEntry(commitObj))
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

// Get returns the backup stored at hash, which may be abbreviated.
func (s *Service) Get(userID, hash string) (backup.Normalized, error) {
	path, err := s.repoPath(userID)
	if err != nil {
		return backup.Normalized{}, err
	}
	lock := s.userLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return backup.Normalized{}, ErrNoHistory
	}
	if err != nil {
		return backup.Normalized{}, fmt.Errorf("open repo: %w", err)
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return backup.Normalized{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if errors.Is(err, plumbing.ErrObjectNotFound) {
		return backup.Normalized{}, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	if err != nil {
		return backup.Normalized{}, fmt.Errorf("read commit %s: %w", hash, err)
	}
	file, err := commitObj.File(backupFile)
	if err != nil {
		return backup.Normalized{}, fmt.Errorf("load %s from commit: %w", backupFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return backup.Normalized{}, fmt.Errorf("read %s: %w", backupFile, err)
	}
	return backup.Migrate([]byte(contents))
}

func openOrInit(path string) (*git.Repository, bool, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, false, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, false, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, false, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, false, fmt.Errorf("init repo: %w", err)
	}
	return repo, true, nil
}

func (s *Service) repoPath(userID string) (string, error) {
	name := sanitizeUserID(userID)
	if name == "" {
		return "", fmt.Errorf("archive: invalid user id %q", userID)
	}
	return filepath.Join(s.baseDir, name), nil
}

func (s *Service) userLock(path string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[path]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[path] = lock
	return lock
}

func sanitizeUserID(input string) string {
	var b strings.Builder
	for _, r := range input {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '@':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	name := strings.Trim(b.String(), ".")
	return name
}

func toEntry(commitObj *object.Commit) Entry {
	return Entry{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		CreatedAt: commitObj.Author.When,
	}
}

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, fmt.Errorf("%w: %s (%v)", ErrNotFound, hash, err)
	}
	return *resolved, nil
}
