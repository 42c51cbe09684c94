package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/streamtune/pkg/config"
	"github.com/openfroyo/streamtune/pkg/engine"
	"github.com/openfroyo/streamtune/pkg/harness"
	"github.com/openfroyo/streamtune/pkg/policy"
	"github.com/openfroyo/streamtune/pkg/stores"
	"github.com/openfroyo/streamtune/pkg/techniques"
	"github.com/openfroyo/streamtune/pkg/telemetry"
)

func newTuneCommand() *cobra.Command {
	var (
		trials    int
		seed      int64
		sessionID string
	)

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Run a tuning session",
		Long: `Run a tuning session against the configured harness.

The default configuration is evaluated first. After that the configured
techniques are asked for candidates in turn; when none of them has a fresh
candidate, greedy mutation is tried. The session ends when the trial budget
is spent, when nothing fresh is left to try, or on interrupt.

Every trial is recorded in the store. Failing candidates are kept with the
harness diagnostic so they can be replayed.`,
		Example: `  # Tune with the settings in ./streamtune.yaml
  streamtune tune

  # Override the trial budget and the random seed
  streamtune tune --trials 50 --seed 7

  # Print the summary as JSON
  streamtune tune --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			settings, err := loadSettings(ctx)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("trials") {
				settings.Tuning.Trials = trials
			}
			if cmd.Flags().Changed("seed") {
				settings.Tuning.Seed = seed
			}
			if sessionID == "" {
				sessionID = uuid.NewString()
			}

			tel, err := telemetry.NewTelemetry(telemetryConfig(settings, cmd.Root().Version))
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := tel.Shutdown(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
			if err := tel.StartMetricsServer(); err != nil {
				return err
			}
			ctx = tel.WithContext(ctx)

			summary, runErr := runSession(ctx, tel, settings, sessionID)
			if summary == nil {
				return runErr
			}

			if jsonOutput {
				if err := printJSON(summary); err != nil {
					return err
				}
			} else {
				printSummary(summary)
			}

			if errors.Is(runErr, context.Canceled) {
				return nil
			}
			return runErr
		},
	}

	cmd.Flags().IntVar(&trials, "trials", 0, "maximum number of trials (overrides settings)")
	cmd.Flags().Int64Var(&seed, "seed", 0, "random seed (overrides settings)")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "session id (random when empty)")

	return cmd
}

// runSession wires the harness, policies, store and techniques together and
// runs one session. The returned summary is nil only when the session could
// not be started.
func runSession(ctx context.Context, tel *telemetry.Telemetry, settings *config.Settings, sessionID string) (*engine.Summary, error) {
	logger := tel.Logger.Zerolog()
	program := settings.Tuning.Program

	transport, err := harness.NewExecTransport(settings.HarnessConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create harness transport: %w", err)
	}

	configuration, err := loadConfiguration(settings)
	if err != nil {
		return nil, err
	}

	options, err := loadRuntimeOptions(ctx, settings)
	if err != nil {
		return nil, err
	}

	policies, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	policies.SetProgram(program)
	if len(settings.Policies) > 0 {
		if err := policies.LoadPolicies(ctx, settings.Policies); err != nil {
			return nil, fmt.Errorf("failed to load policies: %w", err)
		}
		if err := policies.Watch(ctx, settings.Policies); err != nil {
			logger.Warn().Err(err).Msg("Policy hot reload disabled")
		}
	}

	store, err := openStore(ctx, settings.Store.Path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	metadata, err := json.Marshal(map[string]interface{}{
		"settings":      settings.Source,
		"configuration": settings.Tuning.Configuration,
		"trials":        settings.Tuning.Trials,
		"seed":          settings.Tuning.Seed,
		"techniques":    settings.Tuning.Techniques,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session metadata: %w", err)
	}
	now := time.Now().UTC()
	if err := store.CreateSession(ctx, &stores.Session{
		ID:        sessionID,
		Program:   program,
		Status:    stores.SessionStatusRunning,
		StartedAt: now,
		Metadata:  string(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	history := stores.NewSessionHistory(store, sessionID)

	adapter, err := engine.NewSearchAdapter(configuration, engine.AdapterConfig{
		Transport:      transport,
		RuntimeOptions: options,
		Admission:      &publishingAdmission{next: policies, events: tel.Events, sessionID: sessionID},
		Failures:       history,
		Metrics:        tel.Metrics,
		Logger:         logger,
		Timeout:        settings.Harness.Timeout.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create search adapter: %w", err)
	}

	searchTechniques, fallback, err := buildTechniques(settings)
	if err != nil {
		return nil, err
	}

	ctx = telemetry.WithSessionContext(ctx, sessionID, program, settings.Tuning.Trials)
	session, err := engine.NewSession(adapter, engine.SessionConfig{
		ID:         sessionID,
		Trials:     settings.Tuning.Trials,
		Techniques: searchTechniques,
		Fallback:   fallback,
		History:    history,
		Metrics:    tel.Metrics,
		Logger:     logger,
		OnTrial:    telemetry.TrialObserver(ctx),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	summary, runErr := session.Run(ctx)
	telemetry.EndSessionContext(ctx, summary, runErr)

	status := stores.SessionStatusCompleted
	var errMsg *string
	switch {
	case errors.Is(runErr, context.Canceled):
		status = stores.SessionStatusCancelled
	case runErr != nil:
		status = stores.SessionStatusFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	var bestID *string
	if summary.Best != nil {
		bestID = &summary.Best.ID
	}
	// The run context may be cancelled already
	if err := store.UpdateSessionStatus(context.Background(), sessionID, status, bestID, errMsg); err != nil {
		logger.Error().Err(err).Msg("Failed to update session status")
	}

	return summary, runErr
}

// buildTechniques builds the configured techniques and the greedy mutation
// fallback. Both share one generator seeded from the settings.
func buildTechniques(settings *config.Settings) ([]engine.Technique, engine.Technique, error) {
	seed := settings.Tuning.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	opts := techniques.Options{
		Rand:              rand.New(rand.NewSource(seed)),
		AffinityParameter: settings.Tuning.AffinityParameter,
		Seeds:             seedStores(settings),
	}

	names := append([]string{}, settings.Tuning.Techniques...)
	for _, prefix := range settings.Tuning.ForcePrefixes {
		names = append(names, "force-true:"+prefix)
	}

	registry := techniques.DefaultRegistry()
	built, err := registry.Build(names, opts)
	if err != nil {
		return nil, nil, err
	}
	fallback, err := registry.Build([]string{techniques.NameGreedyMutation}, opts)
	if err != nil {
		return nil, nil, err
	}
	return built, fallback[0], nil
}

// publishingAdmission publishes an event for every rejected candidate.
type publishingAdmission struct {
	next      engine.Admission
	events    *telemetry.EventPublisher
	sessionID string
}

func (a *publishingAdmission) Admit(ctx context.Context, candidate engine.Store, params []engine.Parameter) (*engine.AdmissionDecision, error) {
	decision, err := a.next.Admit(ctx, candidate, params)
	if err != nil || decision.Allowed {
		return decision, err
	}
	if err := a.events.PublishPolicyRejected(a.sessionID, "admission", strings.Join(decision.Reasons, "; ")); err != nil {
		telemetry.FromContext(ctx).WithError(err).Warn("Failed to publish event")
	}
	return decision, nil
}

func printSummary(summary *engine.Summary) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", styleTitle.Render("Session"), summary.SessionID)
	fmt.Fprintf(&b, "%d trials", summary.Trials)
	for _, outcome := range []engine.Outcome{engine.OutcomeOK, engine.OutcomeError, engine.OutcomeTimeout} {
		fmt.Fprintf(&b, ", %d %s", summary.Outcomes[outcome], outcomeStyle(outcome).Render(string(outcome)))
	}
	if summary.Exhausted {
		b.WriteString("\n" + styleMuted.Render("Search space exhausted before the trial budget was spent"))
	}
	if summary.Best == nil {
		b.WriteString("\n" + styleError.Render("No candidate ran successfully"))
	} else {
		best := summary.Best
		fmt.Fprintf(&b, "\n%s %gs (trial %d, %s)", styleTitle.Render("Best time:"), best.Result.Time, best.Sequence, best.Technique)
		if len(best.Result.LaunchFlags) > 0 {
			fmt.Fprintf(&b, "\n%s %s", styleTitle.Render("Launch flags:"), strings.Join(best.Result.LaunchFlags, " "))
		}
	}
	fmt.Println(styleSummary.Render(b.String()))
}
