// Package assign decides which filter applies to an identity when a request
// does not name one. The mode picks the policy: a sticky random pick per
// identity, a pick per day, a pick per session, or a fresh pick for every
// message. Identities may also pin a filter, opt out of filtering or opt
// out of model processing.
package assign

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teilomillet/quill/config"
	"github.com/teilomillet/quill/server/filter"
)

// Mode is an assignment policy.
type Mode string

const (
	Disabled      Mode = config.ModeDisabled
	Manual        Mode = config.ModeManual
	DailyRandom   Mode = config.ModeDailyRandom
	SessionRandom Mode = config.ModeSessionRandom
	Chaos         Mode = config.ModeChaos
)

// Description is a human readable summary of m.
func (m Mode) Description() string {
	switch m {
	case Disabled:
		return "filtering is switched off"
	case Manual:
		return "identities keep one filter until they pick another"
	case DailyRandom:
		return "a random filter per identity per day"
	case SessionRandom:
		return "a random filter per identity per session"
	case Chaos:
		return "a random filter for every message"
	default:
		return ""
	}
}

// ParseMode validates name.
func ParseMode(name string) (Mode, error) {
	if !config.IsValidMode(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, name)
	}
	return Mode(name), nil
}

var (
	// ErrInvalidMode is returned for an unknown mode name.
	ErrInvalidMode = errors.New("invalid assignment mode")
	// ErrDisabled is returned by Resolve while the mode is disabled.
	ErrDisabled = errors.New("filter assignment is disabled")
	// ErrIdentityDisabled is returned by Resolve for an identity that
	// switched filtering off.
	ErrIdentityDisabled = errors.New("filtering is disabled for this identity")
	// ErrModelDenied is returned by Resolve for an identity that opted out
	// of model processing.
	ErrModelDenied = errors.New("identity does not allow model processing")
	// ErrNoFilter is returned when no filter is enabled and the default
	// filter is missing.
	ErrNoFilter = errors.New("no filter available")
	// ErrFilterDisabled is returned when pinning a disabled filter.
	ErrFilterDisabled = errors.New("filter is disabled")
	// ErrRerollUnsupported is returned by Reroll outside the daily and
	// session modes.
	ErrRerollUnsupported = errors.New("reroll needs daily_random or session_random mode")
)

// Unfiltered reports whether err means the message should pass through
// untransformed.
func Unfiltered(err error) bool {
	return errors.Is(err, ErrDisabled) || errors.Is(err, ErrIdentityDisabled) || errors.Is(err, ErrModelDenied)
}

// idleAfter is how long an identity without explicit settings is kept.
const idleAfter = 48 * time.Hour

// Catalog is the filter source.
type Catalog interface {
	Get(name string) (filter.Definition, bool)
	Enabled() []filter.Definition
}

type state struct {
	disabled    bool
	modelDenied bool
	pinned      string
	assigned    string
	day         string
	resolved    uint64
	last        string
	seen        time.Time
}

func (s *state) explicit() bool {
	return s.disabled || s.modelDenied || s.pinned != ""
}

// Stats describes one identity.
type Stats struct {
	Identity     string    `json:"identity"`
	Mode         Mode      `json:"mode"`
	Enabled      bool      `json:"enabled"`
	ModelAllowed bool      `json:"model_allowed"`
	Filter       string    `json:"filter,omitempty"`
	Pinned       bool      `json:"pinned"`
	AssignedDate string    `json:"assigned_date,omitempty"`
	Resolved     uint64    `json:"resolved"`
	LastFilter   string    `json:"last_filter,omitempty"`
	LastSeen     time.Time `json:"last_seen"`
}

// Assigner holds per-identity assignment state. All methods are safe for
// concurrent use.
type Assigner struct {
	catalog Catalog
	logger  *zap.Logger
	now     func() time.Time

	mu       sync.Mutex
	rng      *rand.Rand
	mode     Mode
	fallback string
	loc      *time.Location
	states   map[string]*state
}

// Option configures an Assigner.
type Option func(*Assigner)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Assigner) { a.now = now }
}

// WithRand sets the random source used for picks.
func WithRand(r *rand.Rand) Option {
	return func(a *Assigner) { a.rng = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assigner) { a.logger = l }
}

// New creates an assigner drawing from catalog.
func New(cfg config.AssignConfig, catalog Catalog, opts ...Option) (*Assigner, error) {
	a := &Assigner{
		catalog: catalog,
		logger:  zap.NewNop(),
		now:     time.Now,
		states:  make(map[string]*state),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.rng == nil {
		a.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if err := a.Apply(cfg); err != nil {
		return nil, err
	}
	return a, nil
}

// Apply switches to the mode, default filter and timezone of cfg.
func (a *Assigner) Apply(cfg config.AssignConfig) error {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("assign timezone: %w", err)
	}

	a.mu.Lock()
	a.fallback = filter.NormalizeName(cfg.DefaultFilter)
	a.loc = loc
	a.mu.Unlock()

	a.SetMode(mode)
	return nil
}

// Mode returns the current mode.
func (a *Assigner) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// SetMode changes the mode. Random picks made under the previous mode are
// dropped; pinned filters and opt-outs survive.
func (a *Assigner) SetMode(mode Mode) {
	a.mu.Lock()
	old := a.mode
	if old == mode {
		a.mu.Unlock()
		return
	}
	a.mode = mode
	for _, st := range a.states {
		st.assigned = ""
		st.day = ""
	}
	a.mu.Unlock()

	if old != "" {
		a.logger.Info("assignment mode changed",
			zap.String("from", string(old)),
			zap.String("to", string(mode)),
		)
	}
}

// Resolve returns the filter for identity's next message. It fails with an
// error matched by Unfiltered when the message should not be transformed.
func (a *Assigner) Resolve(identity string) (filter.Definition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode == Disabled {
		return filter.Definition{}, ErrDisabled
	}
	st := a.state(identity)
	st.seen = a.now()
	if st.disabled {
		return filter.Definition{}, ErrIdentityDisabled
	}
	if st.modelDenied {
		return filter.Definition{}, ErrModelDenied
	}

	def, err := a.resolve(st)
	if err != nil {
		return filter.Definition{}, err
	}
	st.resolved++
	st.last = def.Name
	return def, nil
}

func (a *Assigner) resolve(st *state) (filter.Definition, error) {
	if st.pinned != "" {
		if def, ok := a.usable(st.pinned); ok {
			return def, nil
		}
		a.logger.Debug("pinned filter no longer usable", zap.String("filter", st.pinned))
		st.pinned = ""
	}

	switch a.mode {
	case Chaos:
		return a.pick()
	case DailyRandom:
		today := a.today()
		if def, ok := a.usable(st.assigned); ok && st.day == today {
			return def, nil
		}
		def, err := a.pick()
		if err != nil {
			return def, err
		}
		st.assigned, st.day = def.Name, today
		return def, nil
	default:
		if def, ok := a.usable(st.assigned); ok {
			return def, nil
		}
		def, err := a.pick()
		if err != nil {
			return def, err
		}
		st.assigned = def.Name
		return def, nil
	}
}

// Reroll replaces identity's daily or session pick and clears its pinned
// filter.
func (a *Assigner) Reroll(identity string) (filter.Definition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.mode != DailyRandom && a.mode != SessionRandom {
		return filter.Definition{}, fmt.Errorf("%w: mode is %s", ErrRerollUnsupported, a.mode)
	}
	def, err := a.pick()
	if err != nil {
		return def, err
	}
	st := a.state(identity)
	st.pinned = ""
	st.assigned = def.Name
	if a.mode == DailyRandom {
		st.day = a.today()
	}
	a.logger.Debug("filter rerolled", zap.String("identity", identity), zap.String("filter", def.Name))
	return def, nil
}

// EndSession forgets identity's session pick. In manual mode the pinned
// filter and the enabled flag are reset too. Daily picks are kept.
func (a *Assigner) EndSession(identity string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.states[identity]
	if !ok {
		return
	}
	switch a.mode {
	case DailyRandom:
	case Manual:
		st.assigned = ""
		st.pinned = ""
		st.disabled = false
	default:
		st.assigned = ""
	}
}

// Pin fixes identity's filter regardless of the mode.
func (a *Assigner) Pin(identity, name string) (filter.Definition, error) {
	def, ok := a.catalog.Get(name)
	if !ok {
		return def, fmt.Errorf("%w: %s", filter.ErrNotFound, name)
	}
	if !def.Enabled {
		return def, fmt.Errorf("%w: %s", ErrFilterDisabled, def.Name)
	}

	a.mu.Lock()
	a.state(identity).pinned = def.Name
	a.mu.Unlock()
	return def, nil
}

// Unpin removes identity's pinned filter.
func (a *Assigner) Unpin(identity string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st, ok := a.states[identity]; ok {
		st.pinned = ""
	}
}

// UnpinAll removes every pinned filter and returns how many were removed.
func (a *Assigner) UnpinAll() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, st := range a.states {
		if st.pinned != "" {
			st.pinned = ""
			n++
		}
	}
	return n
}

// SetEnabled switches filtering on or off for identity.
func (a *Assigner) SetEnabled(identity string, enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(identity).disabled = !enabled
}

// SetModelAllowed records whether identity's messages may be sent to the
// model. Identities are allowed until they opt out.
func (a *Assigner) SetModelAllowed(identity string, allowed bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state(identity).modelDenied = !allowed
}

// Forget drops all state of identity.
func (a *Assigner) Forget(identity string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.states[identity]
	delete(a.states, identity)
	return ok
}

// Stats describes identity. Unknown identities get the defaults.
func (a *Assigner) Stats(identity string) Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.states[identity]
	if !ok {
		st = &state{}
	}
	return a.stats(identity, st)
}

// All describes every known identity, sorted by identity.
func (a *Assigner) All() []Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Stats, 0, len(a.states))
	for id, st := range a.states {
		out = append(out, a.stats(id, st))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out
}

// Sweep drops identities idle for two days that carry no explicit setting.
func (a *Assigner) Sweep() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	cutoff := a.now().Add(-idleAfter)
	n := 0
	for id, st := range a.states {
		if !st.explicit() && st.seen.Before(cutoff) {
			delete(a.states, id)
			n++
		}
	}
	return n
}

func (a *Assigner) stats(identity string, st *state) Stats {
	s := Stats{
		Identity:     identity,
		Mode:         a.mode,
		Enabled:      a.mode != Disabled && !st.disabled,
		ModelAllowed: !st.modelDenied,
		Pinned:       st.pinned != "",
		AssignedDate: st.day,
		Resolved:     st.resolved,
		LastFilter:   st.last,
		LastSeen:     st.seen,
	}
	switch {
	case st.pinned != "":
		s.Filter = st.pinned
	case a.mode != Chaos:
		s.Filter = st.assigned
	}
	return s
}

func (a *Assigner) state(identity string) *state {
	st, ok := a.states[identity]
	if !ok {
		st = &state{seen: a.now()}
		a.states[identity] = st
	}
	return st
}

func (a *Assigner) usable(name string) (filter.Definition, bool) {
	if name == "" {
		return filter.Definition{}, false
	}
	def, ok := a.catalog.Get(name)
	return def, ok && def.Enabled
}

// pick draws an enabled filter. With none enabled it falls back to the
// default filter.
func (a *Assigner) pick() (filter.Definition, error) {
	defs := a.catalog.Enabled()
	if len(defs) == 0 {
		if def, ok := a.catalog.Get(a.fallback); ok {
			return def, nil
		}
		return filter.Definition{}, ErrNoFilter
	}
	return defs[a.rng.IntN(len(defs))], nil
}

func (a *Assigner) today() string {
	return a.now().In(a.loc).Format(time.DateOnly)
}
