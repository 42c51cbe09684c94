package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/streamtune/pkg/config"
	"github.com/openfroyo/streamtune/pkg/engine"
	"github.com/openfroyo/streamtune/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate settings, configuration and policies",
		Long: `Validate everything a tuning session would load, without running the harness.

This command checks:
  - Settings syntax and schema conformance (CUE schema for .cue files)
  - That the program's configuration document decodes
  - The runtime option script and its option records
  - Admission policies (OPA/rego)
  - That parameter names are unique across configuration and options`,
		Example: `  # Validate ./streamtune.yaml
  streamtune validate

  # Validate a CUE settings file
  streamtune validate --config tune.cue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			log.Debug().Str("settings", settingsPath).Msg("Validating settings")

			settings, err := loadSettings(ctx)
			if err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					for _, ve := range verrs {
						printFailed("%s", ve.String())
					}
					return fmt.Errorf("%d settings errors", len(verrs))
				}
				return err
			}
			printOK("Settings: %s", settings.Source)

			configuration, err := loadConfiguration(settings)
			if err != nil {
				return err
			}
			params := configuration.AllParameters()
			printOK("Configuration: %s (%d parameters)", settings.Tuning.Configuration, len(params))

			options, err := loadRuntimeOptions(ctx, settings)
			if err != nil {
				return err
			}
			if settings.RuntimeOptions != "" {
				printOK("Runtime options: %s (%d options)", settings.RuntimeOptions, len(options))
			}

			adapter, err := engine.NewSearchAdapter(configuration, engine.AdapterConfig{
				Transport:      noTransport{},
				RuntimeOptions: options,
			})
			if err != nil {
				return err
			}

			policies, err := policy.NewEngine(log.Logger)
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			if len(settings.Policies) > 0 {
				if err := policies.LoadPolicies(ctx, settings.Policies); err != nil {
					return fmt.Errorf("failed to load policies: %w", err)
				}
			}
			printOK("Policies: %d loaded", len(policies.ListPolicies()))

			// Admission of the default candidate catches policies that can
			// never pass
			policies.SetProgram(settings.Tuning.Program)
			decision, err := policies.Admit(ctx, adapter.DefaultCandidate(), adapter.Parameters())
			if err != nil {
				return fmt.Errorf("failed to evaluate policies: %w", err)
			}
			if !decision.Allowed {
				for _, reason := range decision.Reasons {
					printFailed("Default candidate rejected: %s", reason)
				}
				return fmt.Errorf("default candidate is rejected by policy")
			}
			printOK("Default candidate admitted")

			return nil
		},
	}

	return cmd
}

// noTransport stands in for the harness where nothing is delivered.
type noTransport struct{}

func (noTransport) Deliver(_ context.Context, _ *engine.Request) (*engine.Response, error) {
	return nil, errors.New("no harness configured")
}
