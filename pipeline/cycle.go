package pipeline

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/rs/zerolog"
)

// Stage is one pipeline step. ArenaStage additionally reports whether the
// candidate was promoted, which gates the upload stage.
type Stage func(ctx context.Context) error

type ArenaStage func(ctx context.Context) (promoted bool, err error)

// ControllerConfig bounds the cycle loop.
type ControllerConfig struct {
	Cycles   int // 0 means forever
	Forever  bool
	Interval time.Duration
	OnError  time.Duration
}

// Controller runs the stages of each cycle in fixed order. Stage errors are
// recorded in the status file and the cycle continues; only the operator
// stops an infinite loop.
type Controller struct {
	cfg     ControllerConfig
	status  *StatusWriter
	webhook *Webhook
	log     zerolog.Logger

	SelfPlay   Stage
	Distill    Stage
	Arena      ArenaStage
	Upload     Stage
	BookImport Stage
}

func NewController(cfg ControllerConfig, status *StatusWriter, webhook *Webhook, log zerolog.Logger) *Controller {
	return &Controller{cfg: cfg, status: status, webhook: webhook, log: log}
}

// Run loops cycles until the configured count is reached or the context
// ends. It never propagates a stage error as its own failure.
func (c *Controller) Run(ctx context.Context) error {
	cycle := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		cycle++
		hadError := c.runCycle(ctx, cycle)

		if !c.cfg.Forever && c.cfg.Cycles > 0 && cycle >= c.cfg.Cycles {
			return nil
		}

		delay := c.cfg.Interval
		if hadError {
			delay = c.cfg.OnError
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
}

// runCycle executes the stage sequence, reporting per-stage status. It
// returns whether any stage failed.
func (c *Controller) runCycle(ctx context.Context, cycle int) bool {
	c.log.Info().Int("cycle", cycle).Msg("cycle start")
	c.updateStatus(map[string]any{
		"ts":    time.Now().UnixMilli(),
		"cycle": cycle,
		"phase": "self_play",
		"error": nil,
	})

	hadError := false
	fail := func(phase string, err error) {
		hadError = true
		c.log.Error().Err(err).Str("phase", phase).Int("cycle", cycle).Msg("stage failed")
		c.updateStatus(map[string]any{"error": fmt.Sprintf("%s: %v", phase, err)})
		c.postWebhook("stage_error", phase, cycle, err)
	}

	runStage := func(phase string, stage Stage) bool {
		if stage == nil {
			return true
		}
		c.updateStatus(map[string]any{"phase": phase, "ts": time.Now().UnixMilli()})
		c.postWebhook("stage_start", phase, cycle, nil)
		if err := stage(ctx); err != nil {
			fail(phase, err)
			return false
		}
		c.postWebhook("stage_done", phase, cycle, nil)
		return true
	}

	runStage("self_play", c.SelfPlay)
	runStage("distill", c.Distill)

	promoted := false
	if c.Arena != nil {
		c.updateStatus(map[string]any{"phase": "arena", "ts": time.Now().UnixMilli()})
		c.postWebhook("stage_start", "arena", cycle, nil)
		p, err := c.Arena(ctx)
		if err != nil {
			fail("arena", err)
		} else {
			promoted = p
			c.updateStatus(map[string]any{"arena": map[string]any{"promoted": p}})
			c.postWebhook("stage_done", "arena", cycle, nil)
		}
	}

	if promoted {
		runStage("upload", c.Upload)
	}

	// Opening-book import failures are logged but never fatal to the cycle.
	if c.BookImport != nil {
		c.updateStatus(map[string]any{"phase": "book_import", "ts": time.Now().UnixMilli()})
		if err := c.BookImport(ctx); err != nil {
			c.log.Warn().Err(err).Int("cycle", cycle).Msg("book import failed")
			c.postWebhook("stage_error", "book_import", cycle, err)
		}
	}

	c.updateStatus(map[string]any{"phase": "idle", "ts": time.Now().UnixMilli()})
	c.log.Info().Int("cycle", cycle).Bool("had_error", hadError).Msg("cycle done")
	return hadError
}

func (c *Controller) updateStatus(patch map[string]any) {
	if c.status == nil {
		return
	}
	if err := c.status.Update(patch); err != nil {
		c.log.Warn().Err(err).Msg("status update failed")
	}
}

func (c *Controller) postWebhook(event, phase string, cycle int, err error) {
	if werr := c.webhook.Post(event, phase, cycle, err); werr != nil {
		c.log.Warn().Err(werr).Msg("webhook post failed")
	}
}

// CommandStage wraps a shell command line as a pipeline stage, the hook for
// the external distillation driver and upload tooling.
func CommandStage(command string) Stage {
	if command == "" {
		return nil
	}
	return func(ctx context.Context) error {
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("%s: %w (output: %s)", command, err, truncate(string(out), 512))
		}
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
