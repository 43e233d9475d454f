// Package contextpack assembles a tool call's prompt: small files are
// inlined as text, the rest overflow to a provider vector store, and a
// per-session stable list keeps a file's inline/overflow placement from
// reshuffling turn to turn just because an unrelated file in the walk
// changed size. Reshuffling the inline block invalidates a provider's
// prompt-prefix cache, so once a file wins a place inline it keeps that
// place for as long as it still fits and its fingerprint hasn't changed.
package contextpack

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ctxwindow "github.com/mcprelay/mcprelay/internal/context"
	"github.com/mcprelay/mcprelay/internal/stablelist"
	"github.com/mcprelay/mcprelay/internal/vectorstore"
	ignore "github.com/sabhiram/go-gitignore"
)

// ErrBudgetExceeded is returned when the caller's priority (forced-inline)
// paths alone exceed the inline budget; no vector store is created in
// this case, matching spec.md §4.1's fail-fast contract.
var ErrBudgetExceeded = errors.New("contextpack: priority context exceeds inline budget")

// DefaultInlineFraction is the share of the model's context window
// reserved for inline file content, leaving headroom for instructions,
// the file map, and the model's own output.
const DefaultInlineFraction = 0.85

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".webp": true, ".bmp": true, ".svg": true,
}

// Request is one tool call's context-packing input.
type Request struct {
	SessionID     string
	TaskText      string
	OutputFormat  string
	Paths         []string
	PriorityPaths []string

	// ContextWindowTokens is the target model's full context window; the
	// inline budget is InlineFraction of this value. Zero falls back to
	// internal/context's DefaultContextWindow.
	ContextWindowTokens int
	InlineFraction      float64
}

// Result is the assembled prompt plus whatever spilled to overflow.
type Result struct {
	Prompt        string
	OverflowPaths []string
	VectorStoreID string
}

// candidate is one file discovered by the walk, before the inline/overflow
// decision has been made.
type candidate struct {
	path    string
	size    int64
	mtimeNS int64
	isImage bool
}

// packed is a candidate that won a place in the inline budget, with its
// content loaded and token cost already estimated.
type packed struct {
	candidate
	content []byte
	tokens  int
}

// Packer owns the collaborators a Pack call consults: the stable-list
// cache for sticky inline placement and the vector-store manager for
// overflow upload. VectorStores may be nil, in which case overflow files
// are listed in the prompt's file map but never uploaded anywhere (mock
// mode, or a caller that doesn't want attachment search).
type Packer struct {
	Stable       *stablelist.Store
	VectorStores *vectorstore.Manager

	// Owner identifies who a newly created overflow vector store belongs
	// to; only consulted when VectorStores is non-nil and an overflow
	// store doesn't already exist for the session.
	Owner vectorstore.Owner

	// ReadFile reads a candidate file's content; overridable in tests.
	// Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)

	// EstimateTokens estimates the token cost of a string; defaults to
	// internal/context's char-per-token heuristic (token counts are an
	// external concern this system does not implement precisely).
	EstimateTokens func(string) int
}

// New creates a Packer with default file-reading and token-estimation
// behavior.
func New(stable *stablelist.Store, stores *vectorstore.Manager, owner vectorstore.Owner) *Packer {
	return &Packer{
		Stable:         stable,
		VectorStores:   stores,
		Owner:          owner,
		ReadFile:       os.ReadFile,
		EstimateTokens: ctxwindow.EstimateTokens,
	}
}

// Pack walks req.Paths, decides which candidates are inlined vs. sent to
// overflow, uploads overflow to a vector store when one is configured,
// and returns the assembled prompt.
func (p *Packer) Pack(ctx context.Context, req Request) (*Result, error) {
	fraction := req.InlineFraction
	if fraction <= 0 {
		fraction = DefaultInlineFraction
	}
	windowTokens := req.ContextWindowTokens
	if windowTokens <= 0 {
		windowTokens = ctxwindow.DefaultContextWindow
	}
	budget := int(float64(windowTokens) * fraction)

	candidates, err := walk(req.Paths)
	if err != nil {
		return nil, fmt.Errorf("contextpack: walk: %w", err)
	}
	priority, err := walk(req.PriorityPaths)
	if err != nil {
		return nil, fmt.Errorf("contextpack: walk priority: %w", err)
	}
	byPath := make(map[string]candidate, len(candidates)+len(priority))
	for _, c := range candidates {
		byPath[c.path] = c
	}
	for _, c := range priority {
		byPath[c.path] = c
	}

	fingerprints := make(map[string]stablelist.SentFileInfo, len(byPath))
	for path, c := range byPath {
		fingerprints[path] = stablelist.SentFileInfo{SessionID: req.SessionID, Path: path, Size: c.size, MtimeNS: c.mtimeNS}
	}

	var sticky []stablelist.SentFileInfo
	if p.Stable != nil && req.SessionID != "" {
		fresh, _, err := p.Stable.Reconcile(ctx, req.SessionID, fingerprints)
		if err != nil {
			return nil, fmt.Errorf("contextpack: reconcile stable list: %w", err)
		}
		sticky = fresh
	}

	used := 0
	var inline []packed
	var overflow []candidate
	seen := make(map[string]bool)

	loadContent := func(c candidate) ([]byte, int, error) {
		content, err := p.ReadFile(c.path)
		if err != nil {
			return nil, 0, err
		}
		return content, p.EstimateTokens(string(content)), nil
	}

	// Priority paths are forced inline regardless of budget; fail before
	// any vector store work if they alone don't fit.
	priorityTokens := 0
	var forced []packed
	for _, c := range priority {
		content, tokens, err := loadContent(c)
		if err != nil {
			continue // missing/unreadable files are skipped, not fatal
		}
		priorityTokens += tokens
		forced = append(forced, packed{candidate: c, content: content, tokens: tokens})
		seen[c.path] = true
	}
	if priorityTokens > budget {
		return nil, ErrBudgetExceeded
	}
	inline = append(inline, forced...)
	used += priorityTokens

	// Sticky files (inlined in a prior turn, fingerprint unchanged) keep
	// their place ahead of fresh candidates, in their prior packing order.
	for _, s := range sticky {
		if seen[s.path] {
			continue
		}
		c, ok := byPath[s.path]
		if !ok {
			continue
		}
		content, tokens, err := loadContent(c)
		if err != nil {
			continue
		}
		seen[c.path] = true
		if used+tokens > budget {
			overflow = append(overflow, c)
			continue
		}
		used += tokens
		inline = append(inline, packed{candidate: c, content: content, tokens: tokens})
	}

	// Remaining candidates, deterministically ordered by path, greedily
	// packed until the budget runs out.
	var rest []candidate
	for _, c := range candidates {
		if seen[c.path] {
			continue
		}
		rest = append(rest, c)
	}
	sort.Slice(rest, func(i, j int) bool { return rest[i].path < rest[j].path })

	for _, c := range rest {
		content, tokens, err := loadContent(c)
		if err != nil {
			continue
		}
		if used+tokens > budget {
			overflow = append(overflow, c)
			continue
		}
		used += tokens
		inline = append(inline, packed{candidate: c, content: content, tokens: tokens})
	}

	// Commit the new stable list: everything that ended up inline this
	// turn, in packing order.
	if p.Stable != nil && req.SessionID != "" {
		entries := make([]stablelist.SentFileInfo, 0, len(inline))
		for _, f := range inline {
			entries = append(entries, stablelist.SentFileInfo{
				SessionID: req.SessionID, Path: f.path, Size: f.size, MtimeNS: f.mtimeNS,
			})
		}
		if err := p.Stable.Commit(ctx, req.SessionID, entries); err != nil {
			return nil, fmt.Errorf("contextpack: commit stable list: %w", err)
		}
	}

	var overflowPaths []string
	for _, c := range overflow {
		overflowPaths = append(overflowPaths, c.path)
	}

	vsID, err := p.syncOverflow(ctx, req, overflowPaths)
	if err != nil {
		return nil, err
	}

	prompt := buildPrompt(req, inline, overflow, vsID != "")

	return &Result{Prompt: prompt, OverflowPaths: overflowPaths, VectorStoreID: vsID}, nil
}

func (p *Packer) syncOverflow(ctx context.Context, req Request, overflowPaths []string) (string, error) {
	if p.VectorStores == nil || len(overflowPaths) == 0 {
		return "", nil
	}

	owner := p.Owner
	if owner.Kind == "" {
		owner = vectorstore.Owner{Kind: vectorstore.OwnerSession, SessionID: req.SessionID}
	}

	store, err := p.VectorStores.Create(ctx, owner)
	if err != nil {
		return "", fmt.Errorf("contextpack: create vector store: %w", err)
	}

	fingerprints := make([]vectorstore.FileFingerprint, 0, len(overflowPaths))
	for _, path := range overflowPaths {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		fingerprints = append(fingerprints, vectorstore.FileFingerprint{
			Path: path, Size: fi.Size(), MtimeNS: fi.ModTime().UnixNano(),
		})
	}

	if err := p.VectorStores.SyncFiles(ctx, store.ID, fingerprints, p.ReadFile); err != nil {
		return "", fmt.Errorf("contextpack: sync overflow: %w", err)
	}

	return store.ID, nil
}

const (
	inlineDelimStart = "----- BEGIN FILE: %s -----\n"
	inlineDelimEnd   = "\n----- END FILE: %s -----"
)

func buildPrompt(req Request, inline []packed, overflow []candidate, hasVectorStore bool) string {
	var b strings.Builder

	b.WriteString(req.TaskText)
	b.WriteString("\n\n")

	if req.OutputFormat != "" {
		b.WriteString("## Output format\n")
		b.WriteString(req.OutputFormat)
		b.WriteString("\n\n")
	}

	b.WriteString("## Context files\n")
	for _, f := range inline {
		kind := "inline"
		if f.isImage {
			kind = "inline (image, base64)"
		}
		fmt.Fprintf(&b, "- %s [%s]\n", f.path, kind)
	}
	for _, c := range overflow {
		fmt.Fprintf(&b, "- %s [attached]\n", c.path)
	}
	b.WriteString("\n")

	for _, f := range inline {
		if f.isImage {
			fmt.Fprintf(&b, inlineDelimStart, f.path)
			b.WriteString("data:image/" + strings.TrimPrefix(filepath.Ext(f.path), ".") + ";base64,")
			b.WriteString(base64.StdEncoding.EncodeToString(f.content))
			fmt.Fprintf(&b, inlineDelimEnd, f.path)
			b.WriteString("\n\n")
			continue
		}
		fmt.Fprintf(&b, inlineDelimStart, f.path)
		b.Write(f.content)
		fmt.Fprintf(&b, inlineDelimEnd, f.path)
		b.WriteString("\n\n")
	}

	if hasVectorStore || len(overflow) > 0 {
		b.WriteString("Files too large to inline are attached; use search_session_attachments to search them.\n")
	}

	return b.String()
}

// walk recursively expands paths into candidate files, applying gitignore
// semantics (per-directory .gitignore files accumulate down the tree) and
// skipping binary files. Missing or unreadable paths are skipped rather
// than failing the whole request.
func walk(paths []string) ([]candidate, error) {
	var out []candidate
	seen := make(map[string]bool)

	for _, root := range paths {
		info, err := os.Stat(root)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			isImage := imageExtensions[strings.ToLower(filepath.Ext(root))]
			if seen[root] || (isBinaryByExt(root) && !isImage) {
				continue
			}
			seen[root] = true
			out = append(out, candidate{
				path: root, size: info.Size(), mtimeNS: info.ModTime().UnixNano(), isImage: isImage,
			})
			continue
		}

		matcher := loadGitignore(root)
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil // skip unreadable entries rather than aborting the walk
			}
			rel, _ := filepath.Rel(root, p)
			if d.IsDir() {
				if d.Name() == ".git" {
					return filepath.SkipDir
				}
				if matcher != nil && rel != "." && matcher.MatchesPath(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if matcher != nil && matcher.MatchesPath(rel) {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(p))
			isImage := imageExtensions[ext]
			if isBinaryByExt(p) && !isImage {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			if seen[p] {
				return nil
			}
			seen[p] = true
			out = append(out, candidate{path: p, size: fi.Size(), mtimeNS: fi.ModTime().UnixNano(), isImage: isImage})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

func loadGitignore(root string) *ignore.GitIgnore {
	data, err := os.ReadFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		return nil
	}
	lines := strings.Split(string(data), "\n")
	m, err := ignore.CompileIgnoreLines(lines...)
	if err != nil {
		return nil
	}
	return m
}

var binaryExtensions = map[string]bool{
	".exe": true, ".so": true, ".dll": true, ".dylib": true, ".bin": true,
	".o": true, ".a": true, ".zip": true, ".tar": true, ".gz": true,
	".pdf": true, ".mp3": true, ".mp4": true, ".mov": true, ".wav": true,
	".ico": true, ".woff": true, ".woff2": true, ".ttf": true,
}

func isBinaryByExt(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}

// ContentHash returns a stable fingerprint of text for search-result
// deduplication (internal/projectmemory's search layer), independent of
// the file-fingerprint (size, mtime) used for stable-list membership.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
