package diffview

import (
	"regexp"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/codefionn/intentest/internal/logger"
	"github.com/codefionn/intentest/internal/syntax"
	"github.com/codefionn/intentest/internal/testerclient"
)

var classNameRegex = regexp.MustCompile(`\bclass\s+([A-Za-z_]\w*)`)

// Tracker follows the message history of a session and feeds the test
// versions it contains into a Player: the referable test from the generation
// prompt and the generated test from every reply to a generation or CodeQL
// prompt.
type Tracker struct {
	mu          sync.Mutex
	player      *Player
	defaultName string
	seen        map[uint64]struct{}
	latest      string
}

// NewTracker creates a tracker for player. defaultName names versions that
// do not declare a class.
func NewTracker(player *Player, defaultName string) *Tracker {
	if defaultName == "" {
		defaultName = "GeneratedTest"
	}
	return &Tracker{
		player:      player,
		defaultName: defaultName,
		seen:        make(map[uint64]struct{}),
	}
}

// Player returns the player fed by the tracker.
func (t *Tracker) Player() *Player {
	return t.player
}

// Latest returns the most recent generated test, if any.
func (t *Tracker) Latest() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest
}

// Observe scans a message batch. Batches may repeat earlier units; versions
// already recorded are skipped. The diffs of new versions are returned in
// order.
func (t *Tracker) Observe(batch []testerclient.Message) ([]*Diff, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var diffs []*Diff
	for i, msg := range batch {
		if msg.Role == "assistant" || !syntax.ShouldGenTestPrompt(msg.Content) {
			continue
		}

		if syntax.IsGenTestPrompt(msg.Content) {
			if ref, ok := syntax.ExtractRefTestCode(msg.Content); ok {
				d, err := t.record("ref", stripInfoString(ref))
				if err != nil {
					return diffs, err
				}
				if d != nil {
					diffs = append(diffs, d)
				}
			}
		}

		if i+1 >= len(batch) || batch[i+1].Role == "user" {
			continue
		}
		gen, ok := syntax.ExtractGenTestCode(batch[i+1].Content)
		if !ok {
			continue
		}
		d, err := t.record("gen", gen)
		if err != nil {
			return diffs, err
		}
		t.latest = gen
		if d != nil {
			diffs = append(diffs, d)
		}
	}
	return diffs, nil
}

// stripInfoString drops the language tag a fenced block may start with.
func stripInfoString(code string) string {
	first, rest, ok := strings.Cut(code, "\n")
	if ok && syntax.IsSupported(strings.TrimSpace(first)) {
		return rest
	}
	return code
}

func (t *Tracker) record(kind, code string) (*Diff, error) {
	h := xxhash.New()
	_, _ = h.WriteString(kind)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(code)
	sum := h.Sum64()
	if _, ok := t.seen[sum]; ok {
		return nil, nil
	}
	t.seen[sum] = struct{}{}

	name := t.defaultName
	if m := classNameRegex.FindStringSubmatch(code); m != nil {
		name = m[1]
	}
	suffix := syntax.LangSuffix(syntax.DetectCodeLang(code))

	logger.Debug("diffview: new %s version %s%s (%016x)", kind, name, suffix, sum)
	return t.player.AppendHistory(code, name, suffix)
}
