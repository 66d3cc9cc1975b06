package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/greese/imaginary-home-sub000/internal/command"
	"github.com/greese/imaginary-home-sub000/internal/controller/persist"
)

const (
	// parkInterval bounds how long a parked worker waits before re-checking
	// the running flag and the configuration file, even without a wake.
	parkInterval = 5 * time.Second

	// schedulerTick is the scheduler loop's fixed re-check interval.
	schedulerTick = time.Second

	// stateDirPermissions is the permission mode for the state directory.
	stateDirPermissions = 0750
)

// Controller owns the durable command queue and schedule and the workers
// that drain them.
type Controller struct {
	configPath   string
	queuePath    string
	schedulePath string

	executor Executor
	sink     ResultSink
	logger   Logger

	// mu guards cfg, queue, schedule, and running.
	mu          sync.Mutex
	cfg         Config
	configMtime time.Time
	queue       []CommandList
	schedule    []ScheduledCommandList
	running     bool

	queueWake chan struct{}
	schedWake chan struct{}

	workers    sync.WaitGroup
	cancelWork context.CancelFunc
}

// New creates a controller over the state documents in stateDir, loading
// any queue and schedule that survived the previous run.
func New(stateDir string, executor Executor, sink ResultSink, logger Logger) (*Controller, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	// A fresh install has no state directory yet; every accepted batch
	// must be persistable before it is acknowledged.
	if err := os.MkdirAll(stateDir, stateDirPermissions); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	c := &Controller{
		configPath:   filepath.Join(stateDir, ConfigFile),
		queuePath:    filepath.Join(stateDir, QueueFile),
		schedulePath: filepath.Join(stateDir, ScheduleFile),
		executor:     executor,
		sink:         sink,
		logger:       logger,
		queueWake:    make(chan struct{}, 1),
		schedWake:    make(chan struct{}, 1),
	}

	if err := persist.Load(c.configPath, &c.cfg); err != nil {
		return nil, err
	}
	if info, err := os.Stat(c.configPath); err == nil {
		c.configMtime = info.ModTime()
	}
	if err := persist.Load(c.queuePath, &c.queue); err != nil {
		return nil, err
	}
	if err := persist.Load(c.schedulePath, &c.schedule); err != nil {
		return nil, err
	}
	sortSchedule(c.schedule)

	c.logger.Info("controller state loaded",
		"queued_batches", len(c.queue),
		"scheduled_batches", len(c.schedule),
		"services", len(c.cfg.Services),
	)
	return c, nil
}

// Config returns a copy of the current configuration document.
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Start launches the queue worker and the scheduler loop.
func (c *Controller) Start(ctx context.Context) {
	workCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	c.running = true
	c.cancelWork = cancel
	c.mu.Unlock()

	c.workers.Add(2)
	go c.drainLoop(workCtx)
	go c.schedulerLoop(workCtx)
}

// QueueCommands appends a batch to the immediate FIFO, persists the queue,
// and wakes the queue worker. Returns ErrShutDown once shutdown has begun.
func (c *Controller) QueueCommands(batch CommandList) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return ErrShutDown
	}

	c.queue = append(c.queue, batch)
	if err := persist.Save(c.queuePath, c.queue); err != nil {
		c.queue = c.queue[:len(c.queue)-1]
		return err
	}

	wake(c.queueWake)
	c.logger.Debug("batch queued", "service_id", batch.ServiceID, "commands", len(batch.Commands))
	return nil
}

// ScheduleCommands inserts a batch into the time-ordered schedule, persists
// it, and wakes the scheduler. A missing schedule id is generated.
//
// Returns ErrPastSchedule when executeAfter has already passed and
// ErrShutDown once shutdown has begun.
func (c *Controller) ScheduleCommands(batch ScheduledCommandList) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return "", ErrShutDown
	}
	if !batch.ExecuteAfter.After(time.Now()) {
		return "", ErrPastSchedule
	}
	if batch.ScheduleID == "" {
		batch.ScheduleID = uuid.NewString()
	}

	previous := c.schedule
	c.schedule = append(append([]ScheduledCommandList{}, c.schedule...), batch)
	sortSchedule(c.schedule)

	if err := persist.Save(c.schedulePath, c.schedule); err != nil {
		c.schedule = previous
		return "", err
	}

	wake(c.schedWake)
	c.logger.Debug("batch scheduled",
		"schedule_id", batch.ScheduleID,
		"service_id", batch.ServiceID,
		"execute_after", batch.ExecuteAfter,
	)
	return batch.ScheduleID, nil
}

// CancelScheduledCommands removes the first scheduled batch containing any
// of the given command ids and re-persists the schedule.
//
// Returns ErrScheduleNotFound when no batch matches.
func (c *Controller) CancelScheduledCommands(ids ...string) error {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, batch := range c.schedule {
		if !batchContains(batch, wanted) {
			continue
		}

		previous := c.schedule
		c.schedule = append(append([]ScheduledCommandList{}, c.schedule[:i]...), c.schedule[i+1:]...)
		if err := persist.Save(c.schedulePath, c.schedule); err != nil {
			c.schedule = previous
			return err
		}

		c.logger.Info("scheduled batch cancelled", "schedule_id", batch.ScheduleID)
		return nil
	}
	return ErrScheduleNotFound
}

// Shutdown stops intake, persists still-queued batches, and waits up to
// gracePeriod for in-flight work before force-cancelling what remains.
func (c *Controller) Shutdown(gracePeriod time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	wake(c.queueWake)
	wake(c.schedWake)
	saveErr := persist.Save(c.queuePath, c.queue)
	cancel := c.cancelWork
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(gracePeriod):
		c.logger.Warn("grace period elapsed, cancelling outstanding work")
		if cancel != nil {
			cancel()
		}
		<-done
	}
	if cancel != nil {
		cancel()
	}

	c.logger.Info("controller stopped")
	if saveErr != nil {
		return fmt.Errorf("persisting queue during shutdown: %w", saveErr)
	}
	return nil
}

// drainLoop pops immediate batches in FIFO order, persisting the shortened
// queue before executing each batch to completion.
func (c *Controller) drainLoop(ctx context.Context) {
	defer c.workers.Done()

	for {
		c.mu.Lock()
		for c.running && len(c.queue) == 0 && ctx.Err() == nil {
			c.maybeReloadConfigLocked()
			c.mu.Unlock()

			select {
			case <-ctx.Done():
			case <-c.queueWake:
			case <-time.After(parkInterval):
			}

			c.mu.Lock()
		}
		if !c.running || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}

		batch := c.queue[0]
		c.queue = append([]CommandList{}, c.queue[1:]...)
		if err := persist.Save(c.queuePath, c.queue); err != nil {
			c.logger.Error("persisting queue after pop", "error", err)
		}
		c.mu.Unlock()

		c.runBatch(ctx, batch.ServiceID, batch.Commands)
	}
}

// schedulerLoop pops schedule entries as they come due, persisting the
// shortened schedule before execution so a popped batch is never replayed.
func (c *Controller) schedulerLoop(ctx context.Context) {
	defer c.workers.Done()

	for {
		c.mu.Lock()
		if !c.running || ctx.Err() != nil {
			c.mu.Unlock()
			return
		}

		if len(c.schedule) > 0 && !c.schedule[0].ExecuteAfter.After(time.Now()) {
			batch := c.schedule[0]
			c.schedule = append([]ScheduledCommandList{}, c.schedule[1:]...)
			if err := persist.Save(c.schedulePath, c.schedule); err != nil {
				c.logger.Error("persisting schedule after pop", "error", err)
			}
			c.mu.Unlock()

			c.logger.Info("scheduled batch due",
				"schedule_id", batch.ScheduleID,
				"service_id", batch.ServiceID,
				"commands", len(batch.Commands),
			)
			c.runBatch(ctx, batch.ServiceID, batch.Commands)
			continue
		}
		c.mu.Unlock()

		select {
		case <-ctx.Done():
		case <-c.schedWake:
		case <-time.After(schedulerTick):
		}
	}
}

// runBatch executes every command in a batch concurrently and posts one
// result each, including synthetic failures for unparseable payloads. It
// returns only when the whole batch has completed or been cancelled.
func (c *Controller) runBatch(ctx context.Context, serviceID string, commands []QueuedCommand) {
	var wg sync.WaitGroup
	for _, queued := range commands {
		cmd, err := command.Parse(queued.Payload)
		if err != nil {
			c.logger.Warn("command payload rejected", "service_id", serviceID, "error", err)
			c.postResult(ctx, serviceID, Result{
				CommandID: resultID(queued, command.Command{}),
				Success:   false,
				Message:   err.Error(),
			})
			continue
		}
		if queued.TimeoutSeconds > 0 {
			cmd.Timeout = time.Duration(queued.TimeoutSeconds) * time.Second
		}

		wg.Add(1)
		go func(queued QueuedCommand, cmd command.Command) {
			defer wg.Done()

			start := time.Now()
			changed, execErr := c.executor.Execute(ctx, cmd)

			result := Result{
				CommandID:  resultID(queued, cmd),
				Success:    execErr == nil,
				Changed:    changed,
				Duration:   time.Since(start),
				SystemID:   cmd.SystemID,
				Capability: cmd.Capability,
			}
			if execErr != nil {
				result.Message = execErr.Error()
				c.logger.Warn("command failed",
					"command_id", result.CommandID,
					"system_id", cmd.SystemID,
					"error", execErr,
				)
			}
			c.postResult(ctx, serviceID, result)
		}(queued, cmd)
	}
	wg.Wait()
}

// postResult hands one result to the sink, if any is configured.
func (c *Controller) postResult(ctx context.Context, serviceID string, result Result) {
	if c.sink == nil {
		return
	}
	c.sink.PostResult(ctx, serviceID, result)
}

// maybeReloadConfigLocked re-reads the configuration document when its
// mtime has moved. Callers must hold c.mu.
func (c *Controller) maybeReloadConfigLocked() {
	info, err := os.Stat(c.configPath)
	if err != nil || info.ModTime().Equal(c.configMtime) {
		return
	}

	var cfg Config
	if err := persist.Load(c.configPath, &cfg); err != nil {
		c.logger.Error("reloading configuration", "error", err)
		return
	}
	c.cfg = cfg
	c.configMtime = info.ModTime()
	c.logger.Info("configuration reloaded", "services", len(cfg.Services), "systems", len(cfg.Systems))
}

// resultID prefers the cloud-assigned pending id over the runtime id.
func resultID(queued QueuedCommand, cmd command.Command) string {
	if queued.ID != "" {
		return queued.ID
	}
	if cmd.ID != "" {
		return cmd.ID
	}
	return uuid.NewString()
}

// batchContains reports whether any command in the batch carries one of
// the wanted ids.
func batchContains(batch ScheduledCommandList, wanted map[string]bool) bool {
	if wanted[batch.ScheduleID] {
		return true
	}
	for _, queued := range batch.Commands {
		if wanted[queued.ID] {
			return true
		}
	}
	return false
}

// sortSchedule orders entries by (ExecuteAfter, ScheduleID) ascending.
func sortSchedule(schedule []ScheduledCommandList) {
	sort.SliceStable(schedule, func(i, j int) bool {
		if !schedule[i].ExecuteAfter.Equal(schedule[j].ExecuteAfter) {
			return schedule[i].ExecuteAfter.Before(schedule[j].ExecuteAfter)
		}
		return schedule[i].ScheduleID < schedule[j].ScheduleID
	})
}

// wake signals a worker without blocking when a wake is already pending.
func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
