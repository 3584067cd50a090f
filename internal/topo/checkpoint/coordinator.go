// Copyright 2021-2024 EMQ Technologies Co., Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package checkpoint

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/internal/topo/node/metric"
	"github.com/lf-edge/barrierflow/internal/topo/state"
	"github.com/lf-edge/barrierflow/pkg/api"
	"github.com/lf-edge/barrierflow/pkg/errorx"
	"github.com/lf-edge/barrierflow/pkg/infra"
	"github.com/lf-edge/barrierflow/pkg/timex"
	"github.com/lf-edge/barrierflow/pkg/tracer"
)

type pendingCheckpoint struct {
	checkpointId   int64
	triggerTime    time.Time
	isDiscarded    bool
	notYetAckTasks map[string]bool
	handles        map[string]string
	span           trace.Span
}

func newPendingCheckpoint(checkpointId int64, tasksToWaitFor []string, triggerTime time.Time) *pendingCheckpoint {
	pc := &pendingCheckpoint{
		checkpointId: checkpointId,
		triggerTime:  triggerTime,
		handles:      make(map[string]string, len(tasksToWaitFor)),
	}
	nyat := make(map[string]bool, len(tasksToWaitFor))
	for _, r := range tasksToWaitFor {
		nyat[r] = true
	}
	pc.notYetAckTasks = nyat
	return pc
}

// ack returns false for a duplicated ack or an ack from an unknown task
func (c *pendingCheckpoint) ack(opId string, handle string) bool {
	if c.isDiscarded {
		return false
	}
	if _, ok := c.notYetAckTasks[opId]; !ok {
		return false
	}
	delete(c.notYetAckTasks, opId)
	c.handles[opId] = handle
	return true
}

func (c *pendingCheckpoint) isFullyAck() bool {
	return len(c.notYetAckTasks) == 0
}

func (c *pendingCheckpoint) finalize(now time.Time) *completedCheckpoint {
	return &completedCheckpoint{
		checkpointId: c.checkpointId,
		triggerTime:  c.triggerTime,
		completeTime: now,
		handles:      c.handles,
	}
}

func (c *pendingCheckpoint) dispose(reason string) {
	c.isDiscarded = true
	if c.span != nil {
		c.span.SetStatus(codes.Error, reason)
		c.span.End()
	}
}

type completedCheckpoint struct {
	checkpointId int64
	triggerTime  time.Time
	completeTime time.Time
	handles      map[string]string
}

type checkpointStore struct {
	maxNum      int
	checkpoints []*completedCheckpoint
}

func (s *checkpointStore) add(c *completedCheckpoint) {
	s.checkpoints = append(s.checkpoints, c)
	if len(s.checkpoints) > s.maxNum {
		s.checkpoints = s.checkpoints[1:]
	}
}

func (s *checkpointStore) getLatest() *completedCheckpoint {
	if len(s.checkpoints) > 0 {
		return s.checkpoints[len(s.checkpoints)-1]
	}
	return nil
}

// Coordinator owns all checkpoint records of a rule. The records are only accessed by its own goroutine,
// triggers, acks and failures are sent to it as signals.
type Coordinator struct {
	tasksToTrigger       []SourceTask
	tasksToWaitFor       []string
	listeners            []CheckpointListener
	pendingCheckpoints   map[int64]*pendingCheckpoint
	completedCheckpoints *checkpointStore
	ruleId               string
	baseInterval         time.Duration
	maxConcurrent        int
	// stop after that many completed checkpoints. 0 means never
	target    int
	selector  ModeSelector
	ticker    *clock.Ticker
	signal    chan *Signal
	done      chan struct{}
	store     state.Store
	ctx       api.StreamContext
	stat      *metric.CheckpointStat
	activated atomic.Bool
	// owned by the loop
	nextId   int64
	finished bool
	// inspection
	mu            sync.RWMutex
	completeCount int
}

// NewCoordinator creates the coordinator and installs a responder in every task.
// Tasks implementing CheckpointListener are registered as listeners.
func NewCoordinator(ruleId string, sources []SourceTask, operators []NonSourceTask, sinks []NonSourceTask, qos api.Qos, store state.Store, c *conf.CheckpointConf, target int, ctx api.StreamContext) *Coordinator {
	logger := ctx.GetLogger()
	logger.Infof("create new coordinator for rule %s", ruleId)
	retained := c.Retained
	if retained <= 0 {
		retained = 3
	}
	coord := &Coordinator{
		pendingCheckpoints: make(map[int64]*pendingCheckpoint),
		completedCheckpoints: &checkpointStore{
			maxNum: retained,
		},
		ruleId:        ruleId,
		baseInterval:  time.Duration(c.Interval) * time.Millisecond,
		maxConcurrent: c.MaxConcurrent,
		target:        target,
		selector:      NewModeSelector(c),
		signal:        make(chan *Signal, 1024),
		done:          make(chan struct{}),
		store:         store,
		ctx:           ctx,
		stat:          metric.NewCheckpointStat(ruleId),
	}
	for _, r := range sources {
		r.SetResponder(NewResponderExecutor(coord, r, store, coord.stat))
		coord.tasksToTrigger = append(coord.tasksToTrigger, r)
		coord.register(r)
	}
	for _, tasks := range [][]NonSourceTask{operators, sinks} {
		for _, r := range tasks {
			re := NewResponderExecutor(coord, r, store, coord.stat)
			r.SetBarrierHandler(createBarrierHandler(re, r.GetInputs(), qos, coord.stat))
			coord.register(r)
		}
	}
	return coord
}

func createBarrierHandler(re Responder, inputs []InputChannel, qos api.Qos, stat *metric.CheckpointStat) BarrierHandler {
	if qos == api.AtLeastOnce {
		return NewBarrierTracker(re, len(inputs))
	} else if qos == api.ExactlyOnce {
		return NewBarrierAligner(re, inputs, stat)
	} else {
		return nil
	}
}

func (c *Coordinator) register(t StreamTask) {
	c.tasksToWaitFor = append(c.tasksToWaitFor, t.GetName())
	if l, ok := t.(CheckpointListener); ok {
		c.listeners = append(c.listeners, l)
	}
}

// AddListener must be called before Activate
func (c *Coordinator) AddListener(l CheckpointListener) {
	c.listeners = append(c.listeners, l)
}

// SetModeSelector overrides the mode from the checkpoint conf. It must be called before Activate
func (c *Coordinator) SetModeSelector(s ModeSelector) {
	c.selector = s
}

// Activate starts the coordinator loop. With a positive interval, a checkpoint is triggered at each tick.
func (c *Coordinator) Activate() error {
	if !c.activated.CompareAndSwap(false, true) {
		return fmt.Errorf("coordinator of rule %s is already activated", c.ruleId)
	}
	logger := c.ctx.GetLogger()
	logger.Infof("Start checkpoint coordinator for rule %s at %d with mode %s", c.ruleId, timex.GetNowInMilli(), c.selector)
	var tc <-chan time.Time
	if c.baseInterval > 0 {
		c.ticker = timex.GetTicker(c.baseInterval)
		tc = c.ticker.C
	}
	go func() {
		err := infra.SafeRun(func() error {
			defer close(c.done)
			defer c.stop("coordinator stopped")
			for {
				select {
				case <-tc:
					if _, err := c.trigger(); err != nil {
						if errorx.IsTriggerRejected(err) {
							logger.Debug(err)
						} else {
							logger.Infof("Trigger checkpoint error: %v", err)
						}
					}
				case s := <-c.signal:
					switch s.Message {
					case STOP:
						logger.Debug("Stop checkpoint scheduler")
						return nil
					case TRIGGER:
						id, err := c.trigger()
						s.reply <- triggerResult{checkpointId: id, err: err}
					case ACK:
						c.ack(s)
					case DEC:
						logger.Debugf("Receive dec from %s for checkpoint %d, cancel it: %v", s.OpId, s.CheckpointId, s.Reason)
						c.cancel(s.CheckpointId, fmt.Sprintf("declined by %s: %v", s.OpId, s.Reason))
					}
				case <-c.ctx.Done():
					logger.Infoln("Cancelling coordinator....")
					return nil
				}
			}
		})
		if err != nil {
			logger.Error(err)
		}
	}()
	return nil
}

func (c *Coordinator) Deactivate() error {
	return c.send(&Signal{Message: STOP})
}

// Done is closed when the coordinator loop exits
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// TriggerCheckpoint triggers a checkpoint at once and returns its id
func (c *Coordinator) TriggerCheckpoint() (int64, error) {
	reply := make(chan triggerResult, 1)
	if err := c.send(&Signal{Message: TRIGGER, reply: reply}); err != nil {
		return 0, err
	}
	select {
	case r := <-reply:
		return r.checkpointId, r.err
	case <-c.done:
		return 0, errorx.New("coordinator stopped")
	}
}

func (c *Coordinator) Acknowledge(taskId string, checkpointId int64, handle string) {
	if err := c.send(&Signal{Message: ACK, Barrier: Barrier{CheckpointId: checkpointId, OpId: taskId}, Handle: handle}); err != nil {
		c.ctx.GetLogger().Debugf("Drop ack of %s for checkpoint %d: %v", taskId, checkpointId, err)
	}
}

func (c *Coordinator) ReportFailure(taskId string, checkpointId int64, reason error) {
	if err := c.send(&Signal{Message: DEC, Barrier: Barrier{CheckpointId: checkpointId, OpId: taskId}, Reason: reason}); err != nil {
		c.ctx.GetLogger().Debugf("Drop failure of %s for checkpoint %d: %v", taskId, checkpointId, err)
	}
}

func (c *Coordinator) send(s *Signal) error {
	if !c.activated.Load() {
		return errorx.New("coordinator is not activated")
	}
	select {
	case c.signal <- s:
		return nil
	case <-c.done:
		return errorx.New("coordinator stopped")
	}
}

func (c *Coordinator) trigger() (int64, error) {
	logger := c.ctx.GetLogger()
	if c.finished {
		return 0, errorx.New(fmt.Sprintf("coordinator finished after %d completed checkpoints", c.target))
	}
	if c.maxConcurrent > 0 && len(c.pendingCheckpoints) >= c.maxConcurrent {
		c.stat.IncRejected()
		return 0, errorx.NewTriggerRejected(len(c.pendingCheckpoints))
	}
	c.nextId++
	checkpointId := c.nextId
	mode, timeout := c.selector.Select()
	checkpoint := newPendingCheckpoint(checkpointId, c.tasksToWaitFor, timex.GetNow())
	_, checkpoint.span = tracer.GetTracer().Start(c.ctx, fmt.Sprintf("checkpoint_%d", checkpointId), trace.WithAttributes(
		tracer.RuleAttr(c.ruleId),
		attribute.Int64("checkpoint.id", checkpointId),
		attribute.String("checkpoint.mode", mode.String()),
		attribute.Int64("checkpoint.alignment_timeout_ms", timeout.Milliseconds()),
	))
	logger.Debugf("Create checkpoint %d", checkpointId)
	c.pendingCheckpoints[checkpointId] = checkpoint
	c.stat.IncTriggered()
	// Let the sources send out a barrier
	for _, r := range c.tasksToTrigger {
		b := &Barrier{
			CheckpointId:     checkpointId,
			OpId:             r.GetName(),
			Mode:             mode,
			AlignmentTimeout: timeout,
		}
		if err := r.InjectBarrier(b); err != nil {
			logger.Infof("Fail to trigger checkpoint for source %s with error %v, cancel it", r.GetName(), err)
			c.cancel(checkpointId, err.Error())
			return checkpointId, err
		}
	}
	return checkpointId, nil
}

func (c *Coordinator) ack(s *Signal) {
	logger := c.ctx.GetLogger()
	logger.Debugf("Receive ack from %s for checkpoint %d", s.OpId, s.CheckpointId)
	checkpoint, ok := c.pendingCheckpoints[s.CheckpointId]
	if !ok {
		logger.Debugf("Receive ack from %s for non existing checkpoint %d", s.OpId, s.CheckpointId)
		return
	}
	if !checkpoint.ack(s.OpId, s.Handle) {
		logger.Debugf("Ignore ack from %s for checkpoint %d", s.OpId, s.CheckpointId)
		return
	}
	if checkpoint.isFullyAck() {
		c.complete(s.CheckpointId)
	}
}

func (c *Coordinator) cancel(checkpointId int64, reason string) {
	logger := c.ctx.GetLogger()
	checkpoint, ok := c.pendingCheckpoints[checkpointId]
	if !ok {
		logger.Debugf("Cancel for non existing checkpoint %d. Just ignored", checkpointId)
		return
	}
	delete(c.pendingCheckpoints, checkpointId)
	checkpoint.dispose(reason)
	c.stat.IncAborted()
	if err := c.store.Discard(checkpointId); err != nil {
		logger.Warnf("Discard checkpoint %d error: %v", checkpointId, err)
	}
	for _, l := range c.listeners {
		l.NotifyCheckpointAborted(checkpointId)
	}
}

func (c *Coordinator) complete(checkpointId int64) {
	logger := c.ctx.GetLogger()
	ccp, ok := c.pendingCheckpoints[checkpointId]
	if !ok {
		logger.Infof("Cannot find checkpoint %d to complete", checkpointId)
		return
	}
	if err := c.store.Complete(checkpointId); err != nil {
		logger.Infof("Cannot save checkpoint %d due to storage error: %v", checkpointId, err)
		c.cancel(checkpointId, err.Error())
		return
	}
	now := timex.GetNow()
	delete(c.pendingCheckpoints, checkpointId)
	c.mu.Lock()
	c.completedCheckpoints.add(ccp.finalize(now))
	c.completeCount++
	count := c.completeCount
	c.mu.Unlock()
	c.stat.IncCompleted(now.Sub(ccp.triggerTime))
	if ccp.span != nil {
		ccp.span.SetAttributes(attribute.Int("checkpoint.acks", len(ccp.handles)))
		ccp.span.End()
	}
	// Drop the previous pendingCheckpoints
	for _, cid := range c.pendingIds() {
		if cid < checkpointId {
			c.cancel(cid, fmt.Sprintf("subsumed by checkpoint %d", checkpointId))
		}
	}
	logger.Debugf("Totally complete checkpoint %d", checkpointId)
	for _, l := range c.listeners {
		l.NotifyCheckpointComplete(checkpointId)
	}
	if c.target > 0 && count >= c.target {
		logger.Infof("Complete %d checkpoints, stop triggering", count)
		c.finished = true
		if c.ticker != nil {
			c.ticker.Stop()
		}
		c.abortAll("target reached")
	}
}

func (c *Coordinator) stop(reason string) {
	if c.ticker != nil {
		c.ticker.Stop()
	}
	c.abortAll(reason)
}

func (c *Coordinator) abortAll(reason string) {
	for _, cid := range c.pendingIds() {
		c.cancel(cid, reason)
	}
}

func (c *Coordinator) pendingIds() []int64 {
	ids := make([]int64, 0, len(c.pendingCheckpoints))
	for cid := range c.pendingCheckpoints {
		ids = append(ids, cid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// GetCompleteCount returns the number of completed checkpoints
func (c *Coordinator) GetCompleteCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completeCount
}

// GetLatest returns the latest completed checkpoint id or 0 if none
func (c *Coordinator) GetLatest() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if l := c.completedCheckpoints.getLatest(); l != nil {
		return l.checkpointId
	}
	return 0
}

// GetHandles returns the snapshot handles of a retained completed checkpoint
func (c *Coordinator) GetHandles(checkpointId int64) (map[string]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, cp := range c.completedCheckpoints.checkpoints {
		if cp.checkpointId == checkpointId {
			return cp.handles, true
		}
	}
	return nil, false
}

func (c *Coordinator) IsActivated() bool {
	return c.activated.Load()
}
