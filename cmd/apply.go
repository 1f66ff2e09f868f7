// File: cmd/apply.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dmage20/linkedin-job-agent/api/schemas"
	"github.com/dmage20/linkedin-job-agent/internal/config"
	"github.com/dmage20/linkedin-job-agent/internal/content"
	"github.com/dmage20/linkedin-job-agent/internal/llmclient"
	"github.com/dmage20/linkedin-job-agent/internal/observability"
	"github.com/dmage20/linkedin-job-agent/internal/orchestrator"
	"github.com/dmage20/linkedin-job-agent/internal/policy"
	"github.com/dmage20/linkedin-job-agent/internal/profile"
	"github.com/dmage20/linkedin-job-agent/internal/protocol"
	"github.com/dmage20/linkedin-job-agent/internal/safety"
	"github.com/dmage20/linkedin-job-agent/internal/store"
	"github.com/dmage20/linkedin-job-agent/internal/triage"
)

// newApplyCmd creates and configures the `apply` command.
func newApplyCmd() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply [job-url]",
		Short: "Runs one automated application against the given job posting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			logger := observability.GetLogger()

			jobURL := args[0]
			jobTitle, _ := cmd.Flags().GetString("job-title")
			company, _ := cmd.Flags().GetString("company")
			autoConfirm, _ := cmd.Flags().GetBool("auto-confirm")

			prof, err := profile.Load(cfg.Profile.Path)
			if err != nil {
				return fmt.Errorf("failed to load applicant profile: %w", err)
			}

			components, err := initializeApplyComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			// Every gate must pass before the browser driver even starts.
			if err := components.Guard.CheckBeforeApplication(ctx, jobURL); err != nil {
				return fmt.Errorf("safety check refused the application: %w", err)
			}

			// The stop file interrupts a run already in flight.
			watcher, err := safety.NewStopWatcher(cfg.Safety.EmergencyStopFile, logger)
			if err != nil {
				return fmt.Errorf("failed to start emergency stop watcher: %w", err)
			}
			go func() {
				_ = watcher.Run(ctx)
			}()
			go func() {
				select {
				case <-watcher.Stopped():
					logger.Warn("Emergency stop activated; cancelling the task.")
					cancel()
				case <-ctx.Done():
				}
			}()

			if err := components.Client.Start(ctx); err != nil {
				return fmt.Errorf("failed to start browser driver: %w", err)
			}

			taskID := uuid.NewString()

			// The cover letter is optional collateral; a generation failure
			// must not block the application.
			var coverLetter string
			if jobTitle != "" || company != "" {
				letterCtx, letterCancel := context.WithTimeout(ctx, time.Minute)
				coverLetter, err = components.Generator.CoverLetter(letterCtx, *prof, jobTitle, company, "")
				letterCancel()
				if err != nil {
					logger.Warn("Cover letter generation failed; continuing without one.", zap.Error(err))
					coverLetter = ""
				}
			}

			appID := uuid.NewString()
			if components.Store != nil {
				rec := schemas.ApplicationRecord{
					ID:          appID,
					ProfileID:   prof.Email,
					JobURL:      jobURL,
					JobTitle:    jobTitle,
					Company:     company,
					Status:      schemas.StatusPending,
					CoverLetter: coverLetter,
					SessionID:   taskID,
				}
				if err := components.Store.CreateApplication(ctx, rec); err != nil {
					return fmt.Errorf("failed to record pending application: %w", err)
				}
			}

			triager, err := triage.NewEngine(cfg.Triage, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize triage engine: %w", err)
			}

			gate := newConsoleGate(cmd.InOrStdin(), cmd.OutOrStdout(), autoConfirm)
			paced := &pacedDriver{driver: components.Driver, guard: components.Guard}

			var sink schemas.DecisionSink
			if components.Store != nil {
				sink = components.Store
			}
			orch, err := orchestrator.New(cfg.Orchestrator, logger, paced, triager, components.Policy, gate, sink)
			if err != nil {
				return fmt.Errorf("failed to create orchestrator: %w", err)
			}

			tc := schemas.TaskContext{
				TaskID:      taskID,
				JobURL:      jobURL,
				JobTitle:    jobTitle,
				Company:     company,
				Profile:     *prof,
				CoverLetter: coverLetter,
			}

			result, runErr := orch.Run(ctx, tc)
			components.noteOutcome(ctx, logger, appID, result, runErr)

			switch result.State {
			case schemas.TaskSubmitted:
				fmt.Fprintf(cmd.OutOrStdout(), "\nApplication submitted after %d steps.\n", result.Iterations)
				return nil
			case schemas.TaskPaused:
				fmt.Fprintf(cmd.OutOrStdout(), "\nApplication paused: %s\nFinish it manually in the browser.\n", result.Reason)
				return nil
			default:
				if errors.Is(runErr, context.Canceled) {
					return fmt.Errorf("application aborted by interrupt")
				}
				return fmt.Errorf("application failed: %s: %w", result.Reason, runErr)
			}
		},
	}

	applyCmd.Flags().String("job-title", "", "Job title, used for the cover letter and the audit record.")
	applyCmd.Flags().String("company", "", "Company name, used for the cover letter and the audit record.")
	applyCmd.Flags().Bool("auto-confirm", false, "Skip the interactive submit confirmation. Use with care.")

	return applyCmd
}

// pacedDriver enforces the minimum delay between mutating actions. Snapshots
// are free; everything that changes the page waits its turn first.
type pacedDriver struct {
	driver schemas.DriverClient
	guard  *safety.Guard
}

var _ schemas.DriverClient = (*pacedDriver)(nil)

func (p *pacedDriver) Snapshot(ctx context.Context) (schemas.Snapshot, error) {
	return p.driver.Snapshot(ctx)
}

func (p *pacedDriver) Navigate(ctx context.Context, url string) error {
	if err := p.guard.PaceAction(ctx); err != nil {
		return err
	}
	return p.driver.Navigate(ctx, url)
}

func (p *pacedDriver) Click(ctx context.Context, ref string) error {
	if err := p.guard.PaceAction(ctx); err != nil {
		return err
	}
	return p.driver.Click(ctx, ref)
}

func (p *pacedDriver) Type(ctx context.Context, ref, text string) error {
	if err := p.guard.PaceAction(ctx); err != nil {
		return err
	}
	return p.driver.Type(ctx, ref, text)
}

func (p *pacedDriver) SelectOption(ctx context.Context, ref, value string) error {
	if err := p.guard.PaceAction(ctx); err != nil {
		return err
	}
	return p.driver.SelectOption(ctx, ref, value)
}

func (p *pacedDriver) UploadFile(ctx context.Context, ref, path string) error {
	if err := p.guard.PaceAction(ctx); err != nil {
		return err
	}
	return p.driver.UploadFile(ctx, ref, path)
}

func (p *pacedDriver) Scroll(ctx context.Context, direction string) error {
	if err := p.guard.PaceAction(ctx); err != nil {
		return err
	}
	return p.driver.Scroll(ctx, direction)
}

func (p *pacedDriver) Epoch() uint64 { return p.driver.Epoch() }

// applyComponents holds the initialized services for one apply run.
type applyComponents struct {
	DBPool    *pgxpool.Pool
	Store     *store.Store
	Guard     *safety.Guard
	Client    *protocol.Client
	Driver    *protocol.Driver
	Policy    schemas.Policy
	Generator *content.Generator
}

// Shutdown closes the driver subprocess and the database pool.
func (ac *applyComponents) Shutdown() {
	if ac.Client != nil {
		if err := ac.Client.Close(); err != nil {
			observability.GetLogger().Warn("Error during driver shutdown", zap.Error(err))
		}
	}
	if ac.DBPool != nil {
		ac.DBPool.Close()
	}
}

// noteOutcome feeds the result back into the audit trail and the failure
// cooldown.
func (ac *applyComponents) noteOutcome(ctx context.Context, logger *zap.Logger, appID string, result orchestrator.Result, runErr error) {
	switch result.State {
	case schemas.TaskSubmitted:
		ac.Guard.NoteSuccess()
	case schemas.TaskFailed:
		ac.Guard.NoteFailure(ctx, "")
	}

	if ac.Store == nil {
		return
	}
	var status schemas.ApplicationStatus
	switch result.State {
	case schemas.TaskSubmitted:
		status = schemas.StatusSubmitted
	case schemas.TaskPaused:
		status = schemas.StatusPaused
	default:
		status = schemas.StatusError
	}
	reason := result.Reason
	if runErr != nil && reason == "" {
		reason = runErr.Error()
	}
	if err := ac.Store.UpdateApplicationStatus(ctx, appID, status, reason); err != nil {
		logger.Warn("Failed to update application status.", zap.Error(err))
	}
}

// initializeApplyComponents handles dependency injection for one apply run.
// The database is optional: without one the agent runs with in-memory safety
// state and no audit trail.
func initializeApplyComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*applyComponents, error) {
	components := &applyComponents{}

	// 1. Database and store (optional).
	if cfg.Database.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		dbStore, err := store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize store: %w", err)
		}
		if err := dbStore.EnsureSchema(ctx); err != nil {
			return components, err
		}
		components.Store = dbStore
	} else {
		logger.Warn("No database configured; volume caps and the audit trail are disabled.")
	}

	// 2. Safety guard.
	var audit safety.AuditStore
	if components.Store != nil {
		audit = components.Store
	}
	guard, err := safety.NewGuard(cfg.Safety, audit, logger)
	if err != nil {
		return components, err
	}
	components.Guard = guard

	// 3. Browser driver protocol client.
	client, err := protocol.NewClient(cfg.Driver, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create protocol client: %w", err)
	}
	components.Client = client

	driver, err := protocol.NewDriver(client, logger)
	if err != nil {
		return components, err
	}
	components.Driver = driver

	// 4. LLM router, policy and content generation.
	router, err := llmclient.NewRouterFromConfig(cfg.LLM, logger)
	if err != nil {
		return components, fmt.Errorf("failed to create LLM router: %w", err)
	}

	pol, err := policy.NewLLMPolicy(router, cfg.Orchestrator.DecideTimeout, logger)
	if err != nil {
		return components, err
	}
	components.Policy = pol

	generator, err := content.NewGenerator(router, logger)
	if err != nil {
		return components, err
	}
	components.Generator = generator

	return components, nil
}
