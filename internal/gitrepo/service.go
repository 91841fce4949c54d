// Package gitrepo keeps every wiki page revision as a commit in one git
// repository, one markdown file per page.
package gitrepo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"gopkg.in/yaml.v3"

	"lineage/api/internal/store"
)

var (
	ErrInvalidSlug      = errors.New("invalid page slug")
	ErrPageNotFound     = errors.New("wiki page has no revisions")
	ErrRevisionNotFound = errors.New("wiki revision not found")
)

const pagesDir = "pages"

// Page is the content of one revision.
type Page struct {
	Title string
	Body  string
}

type frontMatter struct {
	Title string `yaml:"title"`
}

type Service struct {
	dir  string
	mu   sync.Mutex
	repo *git.Repository
	now  func() time.Time
}

func New(dir string) *Service {
	return &Service{dir: dir, now: time.Now}
}

// open returns the repository, creating it on first use. Callers hold s.mu.
func (s *Service) open() (*git.Repository, error) {
	if s.repo != nil {
		return s.repo, nil
	}
	repo, err := git.PlainOpen(s.dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return nil, fmt.Errorf("create wiki repo dir: %w", err)
		}
		repo, err = git.PlainInit(s.dir, false)
		if err != nil {
			return nil, fmt.Errorf("init wiki repo: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open wiki repo: %w", err)
	}
	s.repo = repo
	return repo, nil
}

func pagePath(slug string) (string, error) {
	if slug == "" || strings.ContainsAny(slug, `/\`) || strings.HasPrefix(slug, ".") {
		return "", ErrInvalidSlug
	}
	return path.Join(pagesDir, slug+".md"), nil
}

// SavePage commits a new revision of slug. Saving identical content returns
// the current revision without committing.
func (s *Service) SavePage(slug string, page Page, author, message string) (store.CommitInfo, error) {
	rel, err := pagePath(slug)
	if err != nil {
		return store.CommitInfo{}, err
	}
	payload, err := encodePage(page)
	if err != nil {
		return store.CommitInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return store.CommitInfo{}, err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}

	abs := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(rel))
	if existing, err := os.ReadFile(abs); err == nil && bytes.Equal(existing, payload) {
		if latest, err := s.history(repo, rel, 1); err == nil && len(latest) == 1 {
			return latest[0], nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return store.CommitInfo{}, fmt.Errorf("create pages dir: %w", err)
	}
	if err := os.WriteFile(abs, payload, 0o644); err != nil {
		return store.CommitInfo{}, fmt.Errorf("write %s: %w", rel, err)
	}
	if _, err := worktree.Add(rel); err != nil {
		return store.CommitInfo{}, fmt.Errorf("git add %s: %w", rel, err)
	}
	if strings.TrimSpace(message) == "" {
		message = "Update " + page.Title
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  author,
			Email: fmt.Sprintf("%s@lineage.local", sanitizeEmail(author)),
			When:  s.now(),
		},
	})
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("commit %s: %w", rel, err)
	}
	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return store.CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj, rel), nil
}

// History lists the revisions touching slug, newest first.
func (s *Service) History(slug string, limit int) ([]store.CommitInfo, error) {
	rel, err := pagePath(slug)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return nil, err
	}
	items, err := s.history(repo, rel, limit)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrPageNotFound
	}
	return items, nil
}

func (s *Service) history(repo *git.Repository, rel string, limit int) ([]store.CommitInfo, error) {
	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	fileName := rel
	iter, err := repo.Log(&git.LogOptions{From: head.Hash(), FileName: &fileName})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]store.CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj, rel))
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

// PageAt returns slug's content as of the revision hash (full or abbreviated).
func (s *Service) PageAt(slug, hash string) (Page, store.CommitInfo, error) {
	rel, err := pagePath(slug)
	if err != nil {
		return Page{}, store.CommitInfo{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	repo, err := s.open()
	if err != nil {
		return Page{}, store.CommitInfo{}, err
	}
	resolved, err := resolveHash(repo, hash)
	if err != nil {
		return Page{}, store.CommitInfo{}, err
	}
	commitObj, err := repo.CommitObject(resolved)
	if err != nil {
		return Page{}, store.CommitInfo{}, ErrRevisionNotFound
	}
	file, err := commitObj.File(rel)
	if err != nil {
		return Page{}, store.CommitInfo{}, ErrRevisionNotFound
	}
	contents, err := file.Contents()
	if err != nil {
		return Page{}, store.CommitInfo{}, fmt.Errorf("read %s at %s: %w", rel, hash, err)
	}
	page, err := decodePage([]byte(contents))
	if err != nil {
		return Page{}, store.CommitInfo{}, err
	}
	return page, toCommitInfo(commitObj, rel), nil
}

func encodePage(page Page) ([]byte, error) {
	header, err := yaml.Marshal(frontMatter{Title: page.Title})
	if err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n")
	buf.WriteString(page.Body)
	if !strings.HasSuffix(page.Body, "\n") {
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

func decodePage(raw []byte) (Page, error) {
	text := string(raw)
	if !strings.HasPrefix(text, "---\n") {
		return Page{Body: strings.TrimSuffix(text, "\n")}, nil
	}
	header, body, ok := strings.Cut(text[len("---\n"):], "\n---\n")
	if !ok {
		return Page{}, errors.New("decode page: unterminated front matter")
	}
	var fm frontMatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Page{}, fmt.Errorf("decode front matter: %w", err)
	}
	return Page{Title: fm.Title, Body: strings.TrimSuffix(body, "\n")}, nil
}

func toCommitInfo(commitObj *object.Commit, rel string) store.CommitInfo {
	info := store.CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
	if stats, err := commitObj.Stats(); err == nil {
		for _, stat := range stats {
			if stat.Name == rel {
				info.Added = stat.Addition
				info.Removed = stat.Deletion
			}
		}
	}
	return info
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

func resolveHash(repo *git.Repository, hash string) (plumbing.Hash, error) {
	if len(hash) == 40 {
		return plumbing.NewHash(hash), nil
	}
	resolved, err := repo.ResolveRevision(plumbing.Revision(hash))
	if err != nil {
		return plumbing.ZeroHash, ErrRevisionNotFound
	}
	return *resolved, nil
}
