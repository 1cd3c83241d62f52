package diffview

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/codefionn/intentest/internal/logger"
	"github.com/google/uuid"
	"github.com/pmezard/go-difflib/difflib"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// ErrNoDiff is returned by DiffAt while the history holds fewer than two
// entries.
var ErrNoDiff = errors.New("diffview: need at least two versions to diff")

const diffContext = 3

// CodeFile is one version of a test in the history.
type CodeFile struct {
	Name    string
	Suffix  string // e.g. ".java"
	Content string
}

// Diff is the comparison of two consecutive history entries.
type Diff struct {
	Index    int // index of the left side
	Title    string
	LeftID   string
	RightID  string
	LeftURI  string
	RightURI string
	Unified  string
	Stat     godiff.Stat
}

// Empty reports whether both sides are identical.
func (d *Diff) Empty() bool {
	return d.Unified == ""
}

// Player keeps the history of a test through one generation session: the
// referable test first, then every generated version.
type Player struct {
	mu        sync.Mutex
	sessionID string
	history   []CodeFile
	store     *Store
}

// NewPlayer creates a player writing its diff sides into store. A nil store
// gets a private one.
func NewPlayer(store *Store) *Player {
	if store == nil {
		store = NewStore()
	}
	return &Player{
		sessionID: uuid.NewString(),
		store:     store,
	}
}

// SessionID identifies the player in the ids of its files.
func (p *Player) SessionID() string {
	return p.sessionID
}

// Store returns the store holding the diff sides.
func (p *Player) Store() *Store {
	return p.store
}

// Len returns the number of versions in the history.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// History returns a copy of all versions.
func (p *Player) History() []CodeFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]CodeFile(nil), p.history...)
}

// Label names history entry idx: Ref for the first, Gen-N after it.
func Label(idx int) string {
	if idx <= 0 {
		return "Ref"
	}
	return fmt.Sprintf("Gen-%d", idx)
}

// AppendHistory adds a version and returns its diff against the previous
// one. The first version yields a nil diff.
func (p *Player) AppendHistory(code, name, suffix string) (*Diff, error) {
	p.mu.Lock()
	p.history = append(p.history, CodeFile{Name: name, Suffix: suffix, Content: code})
	n := len(p.history)
	p.mu.Unlock()

	logger.Debug("diffview: %s appended %s (%d bytes)", p.sessionID, Label(n-1), len(code))
	if n < 2 {
		return nil, nil
	}
	return p.DiffAt(n - 2)
}

// DiffAt compares entry idx with entry idx+1. idx is clamped to the valid
// range. Both sides are stored read-only under ids named after the newer
// entry.
func (p *Player) DiffAt(idx int) (*Diff, error) {
	p.mu.Lock()
	if len(p.history) < 2 {
		p.mu.Unlock()
		return nil, ErrNoDiff
	}
	idx = max(0, min(idx, len(p.history)-2))
	left, right := p.history[idx], p.history[idx+1]
	p.mu.Unlock()

	base := right.Name + right.Suffix
	d := &Diff{
		Index:   idx,
		Title:   Label(idx) + " → " + Label(idx+1),
		LeftID:  fmt.Sprintf("%s?id=%s&rank=0", base, p.sessionID),
		RightID: fmt.Sprintf("%s?id=%s&rank=1", base, p.sessionID),
	}
	d.LeftURI = URI(d.LeftID)
	d.RightURI = URI(d.RightID)

	p.store.Put(d.LeftID, []byte(left.Content), true)
	p.store.Put(d.RightID, []byte(right.Content), true)

	unified, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(left.Content),
		B:        difflib.SplitLines(right.Content),
		FromFile: Label(idx) + "/" + base,
		ToFile:   Label(idx+1) + "/" + base,
		Context:  diffContext,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to diff %s: %w", d.Title, err)
	}
	d.Unified = unified

	if unified != "" {
		fd, err := godiff.ParseFileDiff([]byte(unified))
		if err != nil {
			return nil, fmt.Errorf("failed to parse diff %s: %w", d.Title, err)
		}
		d.Stat = fd.Stat()
	}
	return d, nil
}

// Summary renders the title and statistics on one line.
func (d *Diff) Summary() string {
	var b strings.Builder
	b.WriteString(d.Title)
	if d.Empty() {
		b.WriteString(" (no changes)")
		return b.String()
	}
	fmt.Fprintf(&b, " (+%d -%d ~%d)", d.Stat.Added, d.Stat.Deleted, d.Stat.Changed)
	return b.String()
}
