package draft

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"condor/registry"
)

var (
	// ErrWalletRequired parks a platform advance until a wallet is bound.
	ErrWalletRequired = errors.New("wallet connection required")
	// ErrSubmitInFlight guards against duplicate submissions.
	ErrSubmitInFlight = errors.New("submission already in flight")
	// ErrNotReview is returned when submission is attempted off the review step.
	ErrNotReview = errors.New("draft is not ready for submission")
	// ErrAlreadySubmitted rejects mutations of a submitted draft.
	ErrAlreadySubmitted = errors.New("draft already submitted")
)

// ValidationError blocks a step transition. It is rendered inline by the
// gateway, never thrown as a fault.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func validationErrorf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// BalanceReader resolves the cached balance for a wallet/token pair.
// Unknown balances read as "0".
type BalanceReader interface {
	Get(wallet, symbol string) string
}

// ChartNotifier is told which pair/timeframe the condition editor is looking
// at. Rendering happens out of band; the session only supplies parameters.
type ChartNotifier interface {
	ShowChart(pair, timeframe string)
}

// Session owns one draft. All mutations are serialized through its mutex,
// mirroring the single-threaded event loop the wizard originally ran on.
type Session struct {
	mu sync.Mutex

	id        uuid.UUID
	draft     Draft
	step      Step
	wallet    string
	updatedAt time.Time

	pendingAdvance bool
	creating       bool
	percentWarning bool

	lastChartPair      string
	lastChartTimeframe string

	balances BalanceReader
	charts   ChartNotifier
	now      func() time.Time
}

func newSession(balances BalanceReader, charts ChartNotifier, now func() time.Time) *Session {
	if now == nil {
		now = time.Now
	}
	s := &Session{
		id:       uuid.New(),
		step:     StepPlatformSelect,
		balances: balances,
		charts:   charts,
		now:      now,
	}
	s.draft = NewDraft(now())
	s.updatedAt = now()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// View is an immutable snapshot of the session for rendering.
type View struct {
	ID              string  `json:"id"`
	Step            Step    `json:"step"`
	Wallet          string  `json:"wallet,omitempty"`
	Draft           Draft   `json:"draft"`
	TotalPercentage float64 `json:"total_percentage"`
	PercentWarning  bool    `json:"percent_warning"`
	AwaitingWallet  bool    `json:"awaiting_wallet"`
	Creating        bool    `json:"creating"`
}

// Snapshot renders the current session state.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		ID:              s.id.String(),
		Step:            s.step,
		Wallet:          s.wallet,
		Draft:           s.draft.Clone(),
		TotalPercentage: TotalPercentage(s.draft.Outputs),
		PercentWarning:  s.percentWarning,
		AwaitingWallet:  s.pendingAdvance,
		Creating:        s.creating,
	}
}

// LastUpdated reports the most recent mutation time, for idle expiry.
func (s *Session) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

func (s *Session) touch() {
	s.updatedAt = s.now()
}

func (s *Session) mutable() error {
	if s.step == StepSubmitted {
		return ErrAlreadySubmitted
	}
	if s.creating {
		return ErrSubmitInFlight
	}
	return nil
}

// SetPlatform chooses the venue. Re-selecting resets every downstream field.
func (s *Session) SetPlatform(platform Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if platform != PlatformEVM && platform != PlatformCore {
		return validationErrorf("unknown platform %q", platform)
	}
	if s.draft.Platform == platform {
		return nil
	}
	created := s.draft.CreatedAt
	s.draft = NewDraft(created)
	s.draft.Platform = platform
	s.lastChartPair = ""
	s.lastChartTimeframe = ""
	s.percentWarning = false
	s.touch()
	return nil
}

// SetInput configures the input token and amount. If the token currently
// appears in the outputs it is removed there, so a swap can never feed
// itself.
func (s *Session) SetInput(token registry.Token, amount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	s.draft.InputToken = &token
	s.draft.InputAmount = strings.TrimSpace(amount)
	filtered := s.draft.Outputs[:0]
	for _, split := range s.draft.Outputs {
		if split.Token.Symbol == token.Symbol {
			continue
		}
		filtered = append(filtered, split)
	}
	s.draft.Outputs = filtered
	s.touch()
	return nil
}

// SetOutputs replaces the split list.
func (s *Session) SetOutputs(outputs []OutputSplit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if len(outputs) > MaxOutputs {
		return validationErrorf("at most %d output tokens allowed", MaxOutputs)
	}
	seen := make(map[string]struct{}, len(outputs))
	for _, split := range outputs {
		if _, dup := seen[split.Token.Symbol]; dup {
			return validationErrorf("duplicate output token %s", split.Token.Symbol)
		}
		seen[split.Token.Symbol] = struct{}{}
		if s.draft.InputToken != nil && split.Token.Symbol == s.draft.InputToken.Symbol {
			return validationErrorf("output token %s matches the input token", split.Token.Symbol)
		}
	}
	s.draft.Outputs = append([]OutputSplit{}, outputs...)
	if PercentagesComplete(s.draft.Outputs) {
		s.percentWarning = false
	}
	s.touch()
	return nil
}

// RemoveOutput drops one split. The percentage entry goes with the token;
// there is no orphaned allocation left behind.
func (s *Session) RemoveOutput(symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	filtered := s.draft.Outputs[:0]
	for _, split := range s.draft.Outputs {
		if split.Token.Symbol == normalized {
			continue
		}
		filtered = append(filtered, split)
	}
	s.draft.Outputs = filtered
	if PercentagesComplete(s.draft.Outputs) {
		s.percentWarning = false
	}
	s.touch()
	return nil
}

// SetConditionType selects the trigger variant and clears configuration
// belonging to a previously selected variant.
func (s *Session) SetConditionType(conditionType ConditionType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if _, ok := ParseConditionType(string(conditionType)); !ok {
		return validationErrorf("unknown condition type %q", conditionType)
	}
	if s.draft.ConditionType != conditionType {
		s.draft.OHLCV = nil
		s.lastChartPair = ""
		s.lastChartTimeframe = ""
	}
	s.draft.ConditionType = conditionType
	s.touch()
	return nil
}

// UpdateCondition merges the OHLCV trigger configuration and forwards the
// pair/timeframe to the chart collaborator, coalescing repeats.
func (s *Session) UpdateCondition(cond OHLCVCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	if s.draft.ConditionType != ConditionOHLCVTrigger {
		return validationErrorf("condition configuration requires the ohlcv_trigger type")
	}
	cond.Pair = strings.TrimSpace(cond.Pair)
	cond.Timeframe = strings.TrimSpace(cond.Timeframe)
	s.draft.OHLCV = &cond
	s.notifyChartLocked()
	s.touch()
	return nil
}

// SetOrderLifetime records the backend-side expiry duration string.
func (s *Session) SetOrderLifetime(lifetime string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(lifetime)
	if trimmed != "" {
		if _, err := time.ParseDuration(trimmed); err != nil {
			return validationErrorf("invalid order lifetime %q", lifetime)
		}
	}
	s.draft.OrderLifetime = trimmed
	s.touch()
	return nil
}

// BindWallet attaches the connected wallet. A parked platform advance
// resumes automatically once the wallet arrives.
func (s *Session) BindWallet(wallet string) (resumed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	trimmed := strings.TrimSpace(wallet)
	if trimmed == "" {
		return false, validationErrorf("wallet address required")
	}
	s.wallet = trimmed
	s.touch()
	if s.pendingAdvance && s.step == StepPlatformSelect {
		if gateErr := s.gateLocked(); gateErr == nil {
			s.advanceLocked()
			s.pendingAdvance = false
			return true, nil
		}
	}
	return false, nil
}

// Wallet returns the bound wallet address.
func (s *Session) Wallet() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wallet
}

// Advance moves one step forward if the current step's gate passes.
func (s *Session) Advance() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.step, err
	}
	if s.step == StepReview {
		return s.step, ErrNotReview
	}
	if err := s.gateLocked(); err != nil {
		if errors.Is(err, ErrWalletRequired) {
			s.pendingAdvance = true
		}
		var vErr *ValidationError
		if errors.As(err, &vErr) && s.step == StepPairSelect && !PercentagesComplete(s.draft.Outputs) {
			s.percentWarning = true
		}
		return s.step, err
	}
	s.advanceLocked()
	s.touch()
	return s.step, nil
}

// Back moves one step backward unconditionally. Downstream state is kept
// except where an explicit reset applies.
func (s *Session) Back() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.mutable(); err != nil {
		return s.step, err
	}
	idx := stepIndex(s.step)
	if idx <= 0 {
		return s.step, nil
	}
	s.step = stepOrder[idx-1]
	s.pendingAdvance = false
	s.touch()
	return s.step, nil
}

func (s *Session) advanceLocked() {
	idx := stepIndex(s.step)
	if idx < 0 || idx >= len(stepOrder)-1 {
		return
	}
	s.step = stepOrder[idx+1]
	if s.step == StepConditionConfigure {
		s.notifyChartLocked()
	}
}

func (s *Session) gateLocked() error {
	switch s.step {
	case StepPlatformSelect:
		if s.draft.Platform == PlatformNone {
			return validationErrorf("platform selection required")
		}
		if s.wallet == "" {
			return ErrWalletRequired
		}
		return nil
	case StepPairSelect:
		if s.draft.InputToken == nil {
			return validationErrorf("input token required")
		}
		if !IsInputValid(s.draft.InputAmount) {
			return validationErrorf("input amount must be a positive number")
		}
		if !IsOutputValid(s.draft.Outputs) {
			return validationErrorf("at least one output token with a positive percentage required")
		}
		if !PercentagesComplete(s.draft.Outputs) {
			return validationErrorf("output percentages sum to %.2f, expected 100", TotalPercentage(s.draft.Outputs))
		}
		if s.draft.Platform == PlatformEVM {
			balance := "0"
			if s.balances != nil {
				balance = s.balances.Get(s.wallet, s.draft.InputToken.Symbol)
			}
			if !IsBalanceSufficient(s.draft.InputAmount, balance) {
				return validationErrorf("insufficient %s balance", s.draft.InputToken.Symbol)
			}
		}
		return nil
	case StepConditionType:
		if s.draft.ConditionType == ConditionNone {
			return validationErrorf("condition type required")
		}
		return nil
	case StepConditionConfigure:
		if !IsConditionComplete(s.draft.ConditionType, s.draft.OHLCV) {
			return validationErrorf("condition configuration incomplete")
		}
		return nil
	default:
		return validationErrorf("cannot advance from %s", s.step)
	}
}

func (s *Session) notifyChartLocked() {
	if s.charts == nil || s.draft.OHLCV == nil {
		return
	}
	pair := s.draft.OHLCV.Pair
	timeframe := s.draft.OHLCV.Timeframe
	if pair == "" || timeframe == "" {
		return
	}
	if pair == s.lastChartPair && timeframe == s.lastChartTimeframe {
		return
	}
	s.lastChartPair = pair
	s.lastChartTimeframe = timeframe
	s.charts.ShowChart(pair, timeframe)
}

// SubmitFunc delivers the composed draft to the order backend.
type SubmitFunc func(ctx context.Context, wallet string, d Draft) error

// Submit serializes and delivers the draft exactly once. While the call is
// in flight further submissions are rejected; on failure the draft is left
// intact on the review step for retry.
func (s *Session) Submit(ctx context.Context, fn SubmitFunc) error {
	if fn == nil {
		return fmt.Errorf("submit function required")
	}
	s.mu.Lock()
	if s.step == StepSubmitted {
		s.mu.Unlock()
		return ErrAlreadySubmitted
	}
	if s.step != StepReview {
		s.mu.Unlock()
		return ErrNotReview
	}
	if s.creating {
		s.mu.Unlock()
		return ErrSubmitInFlight
	}
	s.creating = true
	wallet := s.wallet
	snapshot := s.draft.Clone()
	s.mu.Unlock()

	err := fn(ctx, wallet, snapshot)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.creating = false
	s.touch()
	if err != nil {
		return err
	}
	s.step = StepSubmitted
	return nil
}

// Reset starts a fresh draft in the same session, keeping the bound wallet.
// Used for "create another" after a successful submission.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = NewDraft(s.now())
	s.step = StepPlatformSelect
	s.pendingAdvance = false
	s.percentWarning = false
	s.creating = false
	s.lastChartPair = ""
	s.lastChartTimeframe = ""
	s.touch()
}
