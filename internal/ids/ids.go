// Package ids mints the hierarchical identifiers used for users, chat sessions,
// prompts and agent steps.
//
// Every child id embeds a key derived from its parent id plus a sequence scoped to
// that parent:
//
//	UID00001                user (sequence) or UIDK7X2M9Q (random)
//	CSID1-001               chat session of user UID00001
//	PID1001-0001            prompt of session CSID1-001
//	AST10010001-00000001    step of prompt PID1001-0001
//
// Ids are primary keys in the store. Inserts that lose a race fail with
// ErrCollision and Mint regenerates the id and tries again.
package ids

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"time"

	"agentchat/internal/apperr"
)

type Kind string

const (
	KindUser    Kind = "user"
	KindSession Kind = "session"
	KindPrompt  Kind = "prompt"
	KindStep    Kind = "step"
)

type Strategy string

const (
	StrategySequence Strategy = "sequence"
	StrategyRandom   Strategy = "random"
)

var (
	ErrCollision      = errors.New("identifier already taken")
	ErrExhausted      = errors.New("no free identifier found")
	ErrParentNotFound = apperr.NotFound("parent record not found")
)

type spec struct {
	prefix string
	width  int
	parent Kind
}

var specs = map[Kind]spec{
	KindUser:    {prefix: "UID", width: 5},
	KindSession: {prefix: "CSID", width: 3, parent: KindUser},
	KindPrompt:  {prefix: "PID", width: 4, parent: KindSession},
	KindStep:    {prefix: "AST", width: 8, parent: KindPrompt},
}

var patterns = map[Kind]*regexp.Regexp{
	KindUser:    regexp.MustCompile(`^UID[A-Z0-9]{4,9}$`),
	KindSession: regexp.MustCompile(`^CSID[A-Z0-9]+-\d{3,}$`),
	KindPrompt:  regexp.MustCompile(`^PID[A-Z0-9]+-\d{4,}$`),
	KindStep:    regexp.MustCompile(`^AST[A-Z0-9]+-\d{8,}$`),
}

// Valid reports whether id has the shape of the given kind.
func Valid(kind Kind, id string) bool {
	re, ok := patterns[kind]
	return ok && re.MatchString(id)
}

// Parent returns the kind whose id a child of kind embeds. Users have no parent.
func Parent(kind Kind) (Kind, bool) {
	s, ok := specs[kind]
	if !ok || s.parent == "" {
		return "", false
	}
	return s.parent, true
}

// Catalog answers the existence and count queries the generator needs. The store
// implements it with one table per kind.
type Catalog interface {
	Exists(ctx context.Context, kind Kind, id string) (bool, error)
	CountChildren(ctx context.Context, kind Kind, parentID string) (int64, error)
}

// Locker serializes mint+insert for one parent across processes.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

type Config struct {
	Catalog     Catalog
	Strategy    Strategy
	Locker      Locker
	LockTTL     time.Duration
	MaxAttempts int
	MaxProbes   int
	OnCollision func(kind Kind)
	Now         func() time.Time
	IntN        func(n int) int
}

type Generator struct {
	catalog     Catalog
	strategy    Strategy
	locker      Locker
	lockTTL     time.Duration
	maxAttempts int
	maxProbes   int
	onCollision func(kind Kind)
	now         func() time.Time
	intN        func(n int) int
}

func New(cfg Config) *Generator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategySequence
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.MaxProbes < 1 {
		cfg.MaxProbes = 16
	}
	if cfg.OnCollision == nil {
		cfg.OnCollision = func(Kind) {}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.IntN == nil {
		cfg.IntN = rand.IntN
	}
	return &Generator{
		catalog:     cfg.Catalog,
		strategy:    cfg.Strategy,
		locker:      cfg.Locker,
		lockTTL:     cfg.LockTTL,
		maxAttempts: cfg.MaxAttempts,
		maxProbes:   cfg.MaxProbes,
		onCollision: cfg.OnCollision,
		now:         cfg.Now,
		intN:        cfg.IntN,
	}
}

// Next returns a fresh id for kind under parentID. It does not persist anything:
// two calls without an insert in between may return the same value under the
// sequence strategy.
func (g *Generator) Next(ctx context.Context, kind Kind, parentID string) (string, error) {
	out, err := g.NextN(ctx, kind, parentID, 1)
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// NextN returns n distinct ids for kind under parentID, in sequence order.
func (g *Generator) NextN(ctx context.Context, kind Kind, parentID string, n int) ([]string, error) {
	s, ok := specs[kind]
	if !ok {
		return nil, fmt.Errorf("unknown id kind %q", kind)
	}
	if n < 1 {
		return []string{}, nil
	}

	key, err := g.parentKey(ctx, kind, s, parentID)
	if err != nil {
		return nil, err
	}

	if g.strategy == StrategyRandom {
		return g.random(ctx, kind, s, key, n)
	}

	count, err := g.catalog.CountChildren(ctx, kind, parentID)
	if err != nil {
		return nil, fmt.Errorf("count %s rows: %w", kind, err)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = format(s, key, fmt.Sprintf("%0*d", s.width, count+int64(i)+1))
	}
	return out, nil
}

// Mint generates an id and hands it to insert. When insert fails with
// ErrCollision the id is regenerated, up to the configured attempts.
func (g *Generator) Mint(ctx context.Context, kind Kind, parentID string, insert func(ctx context.Context, id string) error) (string, error) {
	out, err := g.MintN(ctx, kind, parentID, 1, func(ctx context.Context, ids []string) error {
		return insert(ctx, ids[0])
	})
	if err != nil {
		return "", err
	}
	return out[0], nil
}

// MintN is Mint for a batch of n ids inserted together.
func (g *Generator) MintN(ctx context.Context, kind Kind, parentID string, n int, insert func(ctx context.Context, ids []string) error) ([]string, error) {
	if n < 1 {
		return []string{}, nil
	}

	release, err := g.lock(ctx, kind, parentID)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 1; ; attempt++ {
		out, err := g.NextN(ctx, kind, parentID, n)
		if err != nil {
			return nil, err
		}
		err = insert(ctx, out)
		if err == nil {
			return out, nil
		}
		if !errors.Is(err, ErrCollision) || attempt >= g.maxAttempts {
			return nil, err
		}
		g.onCollision(kind)
	}
}

func (g *Generator) lock(ctx context.Context, kind Kind, parentID string) (func(), error) {
	if g.locker == nil {
		return func() {}, nil
	}
	scope := parentID
	if scope == "" {
		scope = "root"
	}
	release, err := g.locker.Acquire(ctx, "ids:"+string(kind)+":"+scope, g.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("lock %s parent %s: %w", kind, scope, err)
	}
	return release, nil
}

func (g *Generator) parentKey(ctx context.Context, kind Kind, s spec, parentID string) (string, error) {
	if s.parent == "" {
		return "", nil
	}
	parentID = strings.TrimSpace(parentID)
	if parentID == "" {
		return "", fmt.Errorf("%s id requires a %s parent", kind, s.parent)
	}
	ok, err := g.catalog.Exists(ctx, s.parent, parentID)
	if err != nil {
		return "", fmt.Errorf("check %s %s: %w", s.parent, parentID, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %s %s", ErrParentNotFound, s.parent, parentID)
	}
	return KeyOf(s.parent, parentID), nil
}

// KeyOf derives the parent-embedded key for children of id. Sequence user ids
// collapse to their integer value (UID00042 -> 42); random user ids keep their
// suffix; session and prompt ids drop their prefix and dashes.
func KeyOf(kind Kind, id string) string {
	s, ok := specs[kind]
	if !ok {
		return id
	}
	rest := strings.ReplaceAll(strings.TrimPrefix(id, s.prefix), "-", "")
	if kind == KindUser && len(rest) == s.width {
		if n, err := strconv.ParseInt(rest, 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
	}
	return strings.ToUpper(rest)
}

const base36 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func (g *Generator) random(ctx context.Context, kind Kind, s spec, key string, n int) ([]string, error) {
	out := make([]string, 0, n)
	seen := make(map[string]struct{}, n)
	for len(out) < n {
		id, err := g.probe(ctx, kind, s, key, seen)
		if err != nil {
			return nil, err
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (g *Generator) probe(ctx context.Context, kind Kind, s spec, key string, seen map[string]struct{}) (string, error) {
	for i := 0; i < g.maxProbes; i++ {
		id := format(s, key, g.randomSuffix(kind, s))
		if _, dup := seen[id]; dup {
			continue
		}
		taken, err := g.catalog.Exists(ctx, kind, id)
		if err != nil {
			return "", fmt.Errorf("probe %s %s: %w", kind, id, err)
		}
		if !taken {
			return id, nil
		}
		g.onCollision(kind)
	}
	return "", fmt.Errorf("%w: %s after %d probes", ErrExhausted, kind, g.maxProbes)
}

// randomSuffix returns a base36 day bucket plus five random base36 characters for
// users and random digits of the kind's width for children.
func (g *Generator) randomSuffix(kind Kind, s spec) string {
	var b strings.Builder
	if kind == KindUser {
		day := g.now().UTC().Unix() / 86400
		b.WriteByte(base36[(day/36)%36])
		b.WriteByte(base36[day%36])
		for i := 0; i < 5; i++ {
			b.WriteByte(base36[g.intN(36)])
		}
		return b.String()
	}
	for i := 0; i < s.width; i++ {
		b.WriteByte(byte('0' + g.intN(10)))
	}
	return b.String()
}

func format(s spec, key, suffix string) string {
	if s.parent == "" {
		return s.prefix + suffix
	}
	return s.prefix + key + "-" + suffix
}
