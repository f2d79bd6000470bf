package gate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/rs/zerolog"

	"dyzen-trader/internal/policy"
	"dyzen-trader/internal/sharedstate"
)

// ExitError carries the coordinator's non-zero exit status through the gate.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("coordinator exited with status %d", e.Code)
}

// Options wire the gate's collaborators.
type Options struct {
	PolicyPath string
	Channel    *sharedstate.Channel
	Mode       string
	// WorkerCommand is the argv used to start the coordinator, typically the
	// current binary with the run subcommand.
	WorkerCommand []string
}

// Gate is the one-shot admission check run before every coordinator start.
type Gate struct {
	opts   Options
	logger zerolog.Logger
	now    func() time.Time
}

// New constructs a Gate.
func New(opts Options, logger zerolog.Logger) *Gate {
	return &Gate{
		opts:   opts,
		logger: logger.With().Str("component", "gate").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Check applies the fail-closed admission rules to a policy and snapshot.
// Pure; Run handles loading and bootstrap.
func Check(doc policy.Document, snap sharedstate.Snapshot, now time.Time) error {
	if now.After(doc.ValidUntil) {
		return policy.Deny("policy expired at %s", doc.ValidUntil.UTC().Format(time.RFC3339))
	}
	if doc.EmergencyStop {
		return policy.Deny("emergency_stop is true")
	}
	if snap.DailyDrawdown >= doc.MaxDailyDrawdown {
		return policy.Deny("daily drawdown %.4f exceeds limit %.4f", snap.DailyDrawdown, doc.MaxDailyDrawdown)
	}
	if snap.OpenPositions > doc.MaxOpenPositions {
		return policy.Deny("open positions %d exceed limit %d", snap.OpenPositions, doc.MaxOpenPositions)
	}
	return nil
}

// Run performs the admission check and, on success, starts the coordinator
// as a child process, blocking until it exits and propagating its status.
func (g *Gate) Run(ctx context.Context) error {
	g.logger.Info().Str("policy", g.opts.PolicyPath).Msg("starting admission checks")

	doc, err := policy.Load(g.opts.PolicyPath)
	if err != nil {
		return err
	}

	snap, loaded := g.opts.Channel.Read(g.opts.Mode)
	if !loaded {
		// First deploy or corrupt file: persist the conservative default so
		// the next gate run reads a well-formed snapshot.
		g.logger.Warn().Msg("shared state missing or corrupt; bootstrapping default snapshot")
		if err := g.opts.Channel.Write(snap); err != nil {
			g.logger.Warn().Err(err).Msg("failed to persist bootstrap snapshot")
		}
	}

	if err := Check(doc, snap, g.now()); err != nil {
		return err
	}

	g.logger.Info().
		Str("policy_version", doc.PolicyVersion).
		Int("open_positions", snap.OpenPositions).
		Float64("daily_drawdown", snap.DailyDrawdown).
		Msg("admission checks passed; starting coordinator")

	return g.spawn(ctx)
}

func (g *Gate) spawn(ctx context.Context) error {
	if len(g.opts.WorkerCommand) == 0 {
		return errors.New("gate: worker command not configured")
	}

	cmd := exec.CommandContext(ctx, g.opts.WorkerCommand[0], g.opts.WorkerCommand[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("start coordinator: %w", err)
	}
	return nil
}

// WorkerSelfCommand builds the argv that re-invokes this binary with the
// given subcommand and arguments.
func WorkerSelfCommand(args ...string) ([]string, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return append([]string{exe}, args...), nil
}
