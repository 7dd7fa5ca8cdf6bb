package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/flowion/flowion/pkg/eventbus"
	"github.com/flowion/flowion/pkg/events"
	"github.com/flowion/flowion/pkg/models"
	"github.com/flowion/flowion/pkg/protocol"
	"github.com/flowion/flowion/pkg/template"
)

const noInstance = -1

type msgKind int

const (
	msgStart msgKind = iota
	msgCompletion
	msgResume
)

type mailboxMsg struct {
	kind     msgKind
	nodeID   string
	instance int
	external bool
	payload  protocol.CallbackPayload
	input    map[string]any
	reply    chan error
}

// instanceSet tracks the parallel branch instances a splitter fanned out
// through one downstream node. Instances never appear in the run's node-state
// map; the node carries one aggregate state and the per-instance bookkeeping
// lives here.
type instanceSet struct {
	count   int
	done    int
	seen    []bool
	outputs []any
	errs    []string
}

// collectorState tracks fan-in progress per upstream source. expected is -1
// until the source has fired, because a splitter upstream widens the count
// only once its item array is known.
type collectorState struct {
	received map[string]int
	expected map[string]int
}

// coordinator is the single writer for one run's node states. All mutations
// flow through its mailbox and are applied by its goroutine, so a duplicated
// or out-of-order callback can never race a legitimate one.
type coordinator struct {
	executor *Executor
	run      *models.Run
	graph    *models.ExecutionGraph
	logger   *slog.Logger

	mailbox chan mailboxMsg
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}

	fired      map[string]bool
	instances  map[string]*instanceSet
	collectors map[string]*collectorState
	startedAt  time.Time
	finished   bool
}

func (e *Executor) newCoordinator(run *models.Run, compiled *models.ExecutionGraph) *coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &coordinator{
		executor:   e,
		run:        run,
		graph:      compiled,
		logger:     e.logger.With("run_id", run.ID, "flow_id", run.FlowID),
		mailbox:    make(chan mailboxMsg, 64),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		fired:      make(map[string]bool),
		instances:  make(map[string]*instanceSet),
		collectors: make(map[string]*collectorState),
		startedAt:  time.Now().UTC(),
	}
}

func (c *coordinator) start() {
	go c.loop()
}

func (c *coordinator) stop() {
	c.cancel()
	<-c.done
}

// rehydrate rebuilds in-memory bookkeeping from persisted node states, so a
// callback arriving for a run without a live coordinator still lands on
// consistent state.
func (c *coordinator) rehydrate() {
	for id, state := range c.run.NodeStates {
		if state.StartedAt != nil || state.Status != models.NodeStatusPending {
			c.fired[id] = true
		}

		node := c.graph.Node(id)
		if node == nil || node.Kind != models.NodeKindCollector {
			continue
		}

		cs := c.ensureCollector(id)
		instanced := make(map[string]bool)

		for key := range state.UpstreamOutputs {
			source, _, wasInstanced := strings.Cut(key, ":")
			cs.received[source]++

			if wasInstanced {
				instanced[source] = true
			}
		}

		// Plain upstream sources expect exactly one contribution. Splitter
		// instance counts are not recoverable from persisted state, so those
		// edges stay unresolved.
		for source, n := range cs.received {
			if n == 1 && !instanced[source] {
				cs.expected[source] = 1
			}
		}
	}
}

func (c *coordinator) loop() {
	defer close(c.done)
	defer c.drainMailbox()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.mailbox:
			err := c.handle(msg)
			if msg.reply != nil {
				msg.reply <- err
			}

			if c.finished {
				c.executor.remove(c.run.ID)

				return
			}
		}
	}
}

// submit delivers a message to the coordinator and waits for the outcome.
func (c *coordinator) submit(ctx context.Context, msg mailboxMsg) error {
	msg.reply = make(chan error, 1)

	select {
	case c.mailbox <- msg:
	case <-c.done:
		return c.finishedError(msg)
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-msg.reply:
		return err
	case <-c.done:
		// The loop exited after accepting the message. A reply sent just
		// before shutdown still wins.
		select {
		case err := <-msg.reply:
			return err
		default:
			return c.finishedError(msg)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drainMailbox replies to messages that were accepted but never handled, so
// a submit racing run shutdown cannot wait forever.
func (c *coordinator) drainMailbox() {
	for {
		select {
		case msg := <-c.mailbox:
			if msg.reply != nil {
				msg.reply <- c.finishedError(msg)
			}
		default:
			return
		}
	}
}

// deliver hands an internal completion to the mailbox without waiting. A
// completion racing run shutdown is dropped: the run already reached a
// terminal status, so it would be discarded as a duplicate anyway.
func (c *coordinator) deliver(msg mailboxMsg) {
	select {
	case c.mailbox <- msg:
	case <-c.done:
		c.logger.Debug("Dropping completion for finished run", "node_id", msg.nodeID)
	}
}

func (c *coordinator) finishedError(msg mailboxMsg) error {
	if msg.kind == msgCompletion {
		c.logger.Info("Callback for finished run ignored", "node_id", msg.nodeID)

		return ErrDuplicateCallback
	}

	return ErrRunFinished
}

func (c *coordinator) handle(msg mailboxMsg) error {
	if c.finished {
		return c.finishedError(msg)
	}

	var err error

	switch msg.kind {
	case msgStart:
		c.fireEntries()
	case msgCompletion:
		err = c.handleCompletion(msg)
	case msgResume:
		err = c.handleResume(msg)
	}

	c.afterChange()

	return err
}

func (c *coordinator) fireEntries() {
	for _, id := range c.graph.EntryNodes {
		c.fire(id, c.run.Input)
	}
}

func (c *coordinator) handleCompletion(msg mailboxMsg) error {
	if msg.instance != noInstance {
		return c.handleInstanceCompletion(msg)
	}

	state := c.run.State(msg.nodeID)
	if state == nil || state.Status != models.NodeStatusRunning {
		// Expected under at-least-once delivery: log and discard without
		// touching state, so downstream fires exactly once.
		level := slog.LevelDebug
		if msg.external {
			level = slog.LevelInfo
		}

		c.logger.Log(c.ctx, level, "Callback for node not running ignored",
			"node_id", msg.nodeID, "status", stateStatus(state))

		return ErrDuplicateCallback
	}

	if msg.payload.Status == protocol.CallbackCompleted {
		c.completeNode(msg.nodeID, msg.payload.Output)
	} else {
		c.failNode(msg.nodeID, msg.payload.Error)
	}

	return nil
}

func (c *coordinator) handleInstanceCompletion(msg mailboxMsg) error {
	set := c.instances[msg.nodeID]
	if set == nil || msg.instance >= set.count || set.seen[msg.instance] {
		c.logger.Debug("Instance completion ignored", "node_id", msg.nodeID, "instance", msg.instance)

		return ErrDuplicateCallback
	}

	set.seen[msg.instance] = true

	if msg.payload.Status == protocol.CallbackCompleted {
		set.outputs[msg.instance] = msg.payload.Output
	} else {
		set.errs[msg.instance] = msg.payload.Error
	}

	set.done++
	if set.done < set.count {
		return nil
	}

	var failures []string

	for idx, errMsg := range set.errs {
		if errMsg != "" {
			failures = append(failures, fmt.Sprintf("instance %d: %s", idx, errMsg))
		}
	}

	if len(failures) > 0 {
		c.failNode(msg.nodeID, strings.Join(failures, "; "))

		return nil
	}

	c.completeInstanced(msg.nodeID, set.outputs)

	return nil
}

func (c *coordinator) handleResume(msg mailboxMsg) error {
	state := c.run.State(msg.nodeID)
	if state == nil || state.Status != models.NodeStatusWaitingForInput {
		return fmt.Errorf("node %s: %w", msg.nodeID, ErrNotWaiting)
	}

	var output any = msg.input
	if msg.input == nil {
		output = map[string]any{}
	}

	c.completeNode(msg.nodeID, output)

	return nil
}

// fire starts a node. The input is the merged, edge-mapped output of its
// completed predecessors, or the run input for entry nodes.
func (c *coordinator) fire(nodeID string, input map[string]any) {
	node := c.graph.Node(nodeID)
	if node == nil {
		return
	}

	c.fired[nodeID] = true

	state := c.ensureState(nodeID)
	now := time.Now().UTC()
	state.StartedAt = &now
	state.Status = models.NodeStatusRunning

	c.publish(events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent),
		RunID:     c.run.ID,
		NodeID:    nodeID,
	})

	switch node.Kind {
	case models.NodeKindGate:
		c.fireGate(node)
	case models.NodeKindSplitter:
		c.fireSplitter(node, input)
	case models.NodeKindCollector:
		// Collectors are fired through their fan-in quota, never directly.
		c.failNode(nodeID, "collector node fired without upstream contributions")
	case models.NodeKindWorker:
		c.dispatchWorker(node, input, noInstance)
	default:
		c.failNode(nodeID, fmt.Sprintf("unknown node kind %q", node.Kind))
	}
}

func (c *coordinator) fireGate(node *models.ExecutionNode) {
	state := c.run.State(node.ID)
	state.Status = models.NodeStatusWaitingForInput

	prompt := ""
	if config, err := models.DecodeNodeConfig(models.NodeKindGate, node.Config); err == nil {
		prompt = config.(*models.GateConfig).Prompt
	}

	c.publish(events.NodeWaiting{
		BaseEvent: events.NewBaseEvent(events.NodeWaitingEvent),
		RunID:     c.run.ID,
		NodeID:    node.ID,
		Prompt:    prompt,
	})
}

// fireSplitter completes the splitter with its item array and fans each item
// out as a parallel branch instance through every journey successor.
func (c *coordinator) fireSplitter(node *models.ExecutionNode, input map[string]any) {
	items, err := c.splitterItems(node, input)
	if err != nil {
		c.failNode(node.ID, err.Error())

		return
	}

	c.completeNode(node.ID, items)
}

func (c *coordinator) splitterItems(node *models.ExecutionNode, input map[string]any) ([]any, error) {
	config, err := models.DecodeNodeConfig(models.NodeKindSplitter, node.Config)
	if err != nil {
		return nil, err
	}

	itemsField := config.(*models.SplitterConfig).ItemsField

	var raw any = input

	if itemsField != "" {
		raw, err = template.Render(itemsField, input)
		if err != nil {
			return nil, fmt.Errorf("splitter items expression: %w", err)
		}
	} else if len(input) == 1 {
		// A single-key input unwraps to its value, the common shape after
		// one upstream delivered an array under its node ID.
		for _, v := range input {
			raw = v
		}
	}

	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("splitter input is %T, not an array", raw)
	}

	return items, nil
}

// dispatchWorker creates the node's worker and runs it off the coordinator
// goroutine. Sync and pseudo-async workers deliver their completion back
// through the mailbox; async workers only acknowledge dispatch and the node
// stays running until the external callback arrives.
func (c *coordinator) dispatchWorker(node *models.ExecutionNode, input map[string]any, instance int) {
	config, err := models.DecodeNodeConfig(models.NodeKindWorker, node.Config)
	if err != nil {
		c.applyDispatchFailure(node.ID, instance, err.Error())

		return
	}

	workerConfig := config.(*models.WorkerConfig)

	convention, err := c.executor.registry.Convention(node.WorkerType)
	if err != nil {
		c.applyDispatchFailure(node.ID, instance, err.Error())

		return
	}

	if instance != noInstance && convention == models.ConventionAsync {
		// The callback URL addresses (runId, nodeId) and cannot name a
		// branch instance, so async workers cannot run inside splitter
		// branches.
		c.applyDispatchFailure(node.ID, instance, "async workers are not supported inside splitter branches")

		return
	}

	worker, err := c.executor.registry.CreateWorker(c.ctx, node.WorkerType, workerConfig.Settings)
	if err != nil {
		c.applyDispatchFailure(node.ID, instance, err.Error())

		return
	}

	request := protocol.WorkerRequest{
		RunID:       c.run.ID,
		NodeID:      node.ID,
		Config:      workerConfig.Settings,
		Input:       input,
		CallbackURL: protocol.CallbackURL(c.executor.callbackBase, c.run.ID, node.ID),
	}

	if convention == models.ConventionAsync && workerConfig.TimeoutSeconds > 0 {
		timeout := time.Duration(workerConfig.TimeoutSeconds) * time.Second

		time.AfterFunc(timeout, func() {
			c.deliver(mailboxMsg{
				kind:     msgCompletion,
				nodeID:   node.ID,
				instance: instance,
				payload: protocol.CallbackPayload{
					Status: protocol.CallbackFailed,
					Error:  fmt.Sprintf("no callback within %s", timeout),
				},
			})
		})
	}

	go func() {
		output, err := worker.Execute(c.ctx, request, c.logger)

		if convention == models.ConventionAsync {
			if err == nil {
				// Dispatch acknowledged; the completion arrives later at
				// the callback URL.
				return
			}
		}

		payload := protocol.CallbackPayload{Status: protocol.CallbackCompleted, Output: output}
		if err != nil {
			payload = protocol.CallbackPayload{Status: protocol.CallbackFailed, Error: err.Error()}
		}

		c.deliver(mailboxMsg{
			kind:     msgCompletion,
			nodeID:   node.ID,
			instance: instance,
			payload:  payload,
		})
	}()
}

// applyDispatchFailure records a failure detected before the worker ever ran.
func (c *coordinator) applyDispatchFailure(nodeID string, instance int, errMsg string) {
	if instance == noInstance {
		c.failNode(nodeID, errMsg)

		return
	}

	c.deliver(mailboxMsg{
		kind:     msgCompletion,
		nodeID:   nodeID,
		instance: instance,
		payload:  protocol.CallbackPayload{Status: protocol.CallbackFailed, Error: errMsg},
	})
}

// completeNode finalizes a successful node and advances the run: entity
// movement, system edges, then downstream firing.
func (c *coordinator) completeNode(nodeID string, output any) {
	node := c.graph.Node(nodeID)
	state := c.ensureState(nodeID)

	now := time.Now().UTC()
	state.Status = models.NodeStatusCompleted
	state.Output = output
	state.Error = ""
	state.CompletedAt = &now

	durationMs := int64(0)
	if state.StartedAt != nil {
		durationMs = now.Sub(*state.StartedAt).Milliseconds()
	}

	c.publish(events.NodeCompleted{
		BaseEvent:  events.NewBaseEvent(events.NodeCompletedEvent),
		RunID:      c.run.ID,
		NodeID:     nodeID,
		Output:     output,
		DurationMs: durationMs,
	})

	c.applyMovement(node, true)
	c.fireSystemEdges(node, output)

	if node.Kind == models.NodeKindSplitter {
		items, _ := output.([]any)
		c.fanOut(node, items)

		return
	}

	c.advance(nodeID, output)
}

// completeInstanced finalizes a node whose instances all succeeded. The
// aggregate output is the ordered slice of instance outputs.
func (c *coordinator) completeInstanced(nodeID string, outputs []any) {
	node := c.graph.Node(nodeID)
	state := c.ensureState(nodeID)

	now := time.Now().UTC()
	state.Status = models.NodeStatusCompleted
	state.Output = outputs
	state.CompletedAt = &now

	c.publish(events.NodeCompleted{
		BaseEvent: events.NewBaseEvent(events.NodeCompletedEvent),
		RunID:     c.run.ID,
		NodeID:    nodeID,
		Output:    outputs,
	})

	c.applyMovement(node, true)
	c.fireSystemEdges(node, outputs)
	c.fanOut(node, outputs)
}

// fanOut carries instanced execution downstream: collectors receive one
// contribution per instance, other nodes run once per instance.
func (c *coordinator) fanOut(node *models.ExecutionNode, items []any) {
	for _, edge := range c.graph.OutboundEdges[node.ID] {
		if edge.Type != models.EdgeTypeJourney {
			continue
		}

		target := c.graph.Node(edge.Target)
		if target == nil {
			continue
		}

		if target.Kind == models.NodeKindCollector {
			c.contributeInstances(edge, node.ID, items)

			continue
		}

		c.fireInstances(target, edge, node.ID, items)
	}
}

// fireInstances starts one branch instance of target per item. Zero items
// short-circuits to an empty completed aggregate so downstream fan-in still
// resolves.
func (c *coordinator) fireInstances(target *models.ExecutionNode, edge models.CompiledEdge, sourceID string, items []any) {
	if c.fired[target.ID] {
		return
	}

	c.fired[target.ID] = true

	state := c.ensureState(target.ID)
	now := time.Now().UTC()
	state.StartedAt = &now
	state.Status = models.NodeStatusRunning

	c.publish(events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent),
		RunID:     c.run.ID,
		NodeID:    target.ID,
	})

	if target.Kind != models.NodeKindWorker {
		c.failNode(target.ID, fmt.Sprintf("splitter branches support worker nodes only, got %q", target.Kind))

		return
	}

	if len(items) == 0 {
		c.completeInstanced(target.ID, []any{})

		return
	}

	c.instances[target.ID] = &instanceSet{
		count:   len(items),
		seen:    make([]bool, len(items)),
		outputs: make([]any, len(items)),
		errs:    make([]string, len(items)),
	}

	// Downstream collectors learn the branch width now, so persisted fan-in
	// counters show the real quota while instances are still in flight.
	for _, out := range c.graph.OutboundEdges[target.ID] {
		if out.Type != models.EdgeTypeJourney {
			continue
		}

		successor := c.graph.Node(out.Target)
		if successor == nil || successor.Kind != models.NodeKindCollector {
			continue
		}

		c.ensureCollector(out.Target).expected[target.ID] = len(items)
		c.checkCollector(out.Target)
	}

	for idx, item := range items {
		input, err := instanceInput(edge, item)
		if err != nil {
			c.applyDispatchFailure(target.ID, idx, err.Error())

			continue
		}

		c.dispatchWorker(target, input, idx)
	}
}

// advance fires every journey successor of a completed node that has all its
// predecessors completed, and contributes to downstream collectors.
func (c *coordinator) advance(nodeID string, output any) {
	for _, edge := range c.graph.OutboundEdges[nodeID] {
		if edge.Type != models.EdgeTypeJourney {
			continue
		}

		target := c.graph.Node(edge.Target)
		if target == nil {
			continue
		}

		if target.Kind == models.NodeKindCollector {
			c.contribute(edge, nodeID, output)

			continue
		}

		c.maybeFire(target)
	}
}

func (c *coordinator) maybeFire(target *models.ExecutionNode) {
	if c.fired[target.ID] {
		return
	}

	for _, pred := range c.graph.Predecessors(target.ID) {
		state := c.run.State(pred)
		if state == nil || state.Status != models.NodeStatusCompleted {
			return
		}
	}

	c.fire(target.ID, c.assembleInput(target.ID))
}

// assembleInput merges the edge-mapped outputs of the node's completed
// predecessors. Map-shaped contributions merge key-wise; anything else lands
// under the source node's ID.
func (c *coordinator) assembleInput(nodeID string) map[string]any {
	preds := c.graph.Predecessors(nodeID)
	if len(preds) == 0 {
		return c.run.Input
	}

	sort.Strings(preds)

	input := make(map[string]any)

	for _, pred := range preds {
		state := c.run.State(pred)
		if state == nil || state.Status != models.NodeStatusCompleted {
			continue
		}

		value := state.Output

		edge, ok := c.graph.JourneyEdge(pred, nodeID)
		if ok && len(edge.Mapping) > 0 {
			mapped, err := template.RenderMapping(edge.Mapping, value)
			if err != nil {
				c.logger.Warn("Edge mapping failed, passing output through",
					"edge_id", edge.ID, "error", err)
			} else {
				input = merge(input, mapped)

				continue
			}
		}

		if m, ok := value.(map[string]any); ok {
			input = merge(input, m)
		} else {
			input[pred] = value
		}
	}

	return input
}

// contribute records one upstream completion on a collector and fires it when
// every inbound edge has delivered its full quota.
func (c *coordinator) contribute(edge models.CompiledEdge, sourceID string, output any) {
	cs := c.ensureCollector(edge.Target)
	cs.expected[sourceID] = 1

	c.addContribution(edge, keyFor(sourceID, noInstance), sourceID, output)
	c.checkCollector(edge.Target)
}

// contributeInstances records one contribution per branch instance, keyed
// source:index. An empty instance list resolves the edge at zero so the
// collector is not stuck waiting for contributions that will never come.
func (c *coordinator) contributeInstances(edge models.CompiledEdge, sourceID string, outputs []any) {
	cs := c.ensureCollector(edge.Target)
	cs.expected[sourceID] = len(outputs)

	for idx, output := range outputs {
		c.addContribution(edge, keyFor(sourceID, idx), sourceID, output)
	}

	c.checkCollector(edge.Target)
}

func (c *coordinator) addContribution(edge models.CompiledEdge, key, sourceID string, output any) {
	state := c.ensureState(edge.Target)
	if state.UpstreamOutputs == nil {
		state.UpstreamOutputs = make(map[string]any)
	}

	if _, exists := state.UpstreamOutputs[key]; exists {
		c.logger.Debug("Duplicate collector contribution ignored", "node_id", edge.Target, "key", key)

		return
	}

	value := output

	if len(edge.Mapping) > 0 {
		mapped, err := template.RenderMapping(edge.Mapping, output)
		if err != nil {
			c.logger.Warn("Edge mapping failed, passing output through",
				"edge_id", edge.ID, "error", err)
		} else {
			value = mapped
		}
	}

	cs := c.ensureCollector(edge.Target)
	cs.received[sourceID]++
	state.UpstreamOutputs[key] = value
}

// checkCollector recomputes the fan-in counters and fires the collector when
// the received count equals the expected count with every edge resolved.
func (c *coordinator) checkCollector(collectorID string) {
	state := c.ensureState(collectorID)
	cs := c.ensureCollector(collectorID)

	received := 0
	expected := 0
	allKnown := true

	for _, source := range c.graph.Predecessors(collectorID) {
		received += cs.received[source]

		quota, known := cs.expected[source]
		if !known || quota < 0 {
			allKnown = false
			expected++ // placeholder, keeps received <= expected

			continue
		}

		expected += quota
	}

	state.UpstreamCompleted = received
	state.ExpectedUpstream = expected

	if !allKnown || received != expected || c.fired[collectorID] {
		return
	}

	c.fireCollector(collectorID)
}

func (c *coordinator) fireCollector(collectorID string) {
	node := c.graph.Node(collectorID)
	state := c.ensureState(collectorID)

	c.fired[collectorID] = true
	now := time.Now().UTC()
	state.StartedAt = &now

	c.publish(events.NodeStarted{
		BaseEvent: events.NewBaseEvent(events.NodeStartedEvent),
		RunID:     c.run.ID,
		NodeID:    collectorID,
	})

	output := collectorOutput(node, state)

	c.completeNode(collectorID, output)
}

func collectorOutput(node *models.ExecutionNode, state *models.NodeState) any {
	flatten := false
	if config, err := models.DecodeNodeConfig(models.NodeKindCollector, node.Config); err == nil {
		flatten = config.(*models.CollectorConfig).FlattenOutputs
	}

	if !flatten {
		outputs := make(map[string]any, len(state.UpstreamOutputs))
		for key, value := range state.UpstreamOutputs {
			outputs[key] = value
		}

		return outputs
	}

	keys := make([]string, 0, len(state.UpstreamOutputs))
	for key := range state.UpstreamOutputs {
		keys = append(keys, key)
	}

	// Instance keys sort numerically within a source, so flattened output
	// preserves the splitter's item order.
	sort.Slice(keys, func(i, j int) bool {
		si, ii := splitKey(keys[i])
		sj, ij := splitKey(keys[j])

		if si != sj {
			return si < sj
		}

		return ii < ij
	})

	flat := make([]any, 0, len(keys))
	for _, key := range keys {
		flat = append(flat, state.UpstreamOutputs[key])
	}

	return flat
}

// failNode records a failure. Downstream journey successors starve and the
// run-level status derivation marks the branch dead; sibling branches are
// unaffected.
func (c *coordinator) failNode(nodeID string, errMsg string) {
	node := c.graph.Node(nodeID)
	state := c.ensureState(nodeID)

	now := time.Now().UTC()
	state.Status = models.NodeStatusFailed
	state.Error = errMsg
	state.CompletedAt = &now

	c.logger.Warn("Node failed", "node_id", nodeID, "error", errMsg)

	c.publish(events.NodeFailed{
		BaseEvent: events.NewBaseEvent(events.NodeFailedEvent),
		RunID:     c.run.ID,
		NodeID:    nodeID,
		Error:     errMsg,
	})

	c.applyMovement(node, false)
}

// fireSystemEdges runs each outbound system edge as a detached side effect.
// They touch no node state, gate nothing, and a panic or failure in one is
// isolated from the run.
func (c *coordinator) fireSystemEdges(node *models.ExecutionNode, output any) {
	for _, edge := range c.graph.OutboundEdges[node.ID] {
		if edge.Type != models.EdgeTypeSystem {
			continue
		}

		go c.runSystemEdge(edge, output)
	}
}

func (c *coordinator) runSystemEdge(edge models.CompiledEdge, output any) {
	logger := c.logger.With("edge_id", edge.ID, "target", edge.Target)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("System edge panicked", "panic", r)
		}
	}()

	target := c.graph.Node(edge.Target)
	if target == nil || target.Kind != models.NodeKindWorker {
		logger.Warn("System edge target is not a worker node, skipping")

		return
	}

	input := map[string]any{}

	if len(edge.Mapping) > 0 {
		mapped, err := template.RenderMapping(edge.Mapping, output)
		if err != nil {
			logger.Warn("System edge mapping failed", "error", err)

			return
		}

		input = mapped
	} else if m, ok := output.(map[string]any); ok {
		input = m
	}

	config, err := models.DecodeNodeConfig(models.NodeKindWorker, target.Config)
	if err != nil {
		logger.Warn("System edge target config invalid", "error", err)

		return
	}

	worker, err := c.executor.registry.CreateWorker(c.ctx, target.WorkerType, config.(*models.WorkerConfig).Settings)
	if err != nil {
		logger.Warn("System edge worker unavailable", "error", err)

		return
	}

	_, err = worker.Execute(c.ctx, protocol.WorkerRequest{
		RunID:  c.run.ID,
		NodeID: target.ID,
		Config: config.(*models.WorkerConfig).Settings,
		Input:  input,
	}, logger)
	if err != nil {
		logger.Warn("System edge worker failed", "error", err)

		return
	}

	logger.Debug("System edge completed")
}

func (c *coordinator) applyMovement(node *models.ExecutionNode, success bool) {
	if node == nil || node.EntityMovement == nil || c.run.EntityID == "" || c.executor.mover == nil {
		return
	}

	target := node.EntityMovement.OnSuccess
	if !success {
		target = node.EntityMovement.OnFailure
	}

	if target == nil {
		return
	}

	err := c.executor.mover.ApplyMovement(c.ctx, c.run.EntityID, c.run.ID, target, success)
	if err != nil {
		c.logger.Warn("Entity movement failed",
			"entity_id", c.run.EntityID, "node_id", node.ID, "error", err)
	}
}

// afterChange persists the run and closes the coordinator once the derived
// status is terminal.
func (c *coordinator) afterChange() {
	c.run.UpdatedAt = time.Now().UTC()

	err := c.executor.persistence.Runs().Save(context.WithoutCancel(c.ctx), c.run)
	if err != nil {
		c.logger.Error("Failed to persist run", "error", err)
	}

	switch c.run.Status(c.graph) {
	case models.RunStatusCompleted:
		c.publish(events.RunCompleted{
			BaseEvent:  events.NewBaseEvent(events.RunCompletedEvent),
			RunID:      c.run.ID,
			FlowID:     c.run.FlowID,
			Duration:   time.Since(c.startedAt),
			NodesFired: len(c.run.NodeStates),
		})

		c.finished = true
	case models.RunStatusFailed:
		c.publish(events.RunFailed{
			BaseEvent:   events.NewBaseEvent(events.RunFailedEvent),
			RunID:       c.run.ID,
			FlowID:      c.run.FlowID,
			FailedNodes: c.run.FailedNodes(),
			Duration:    time.Since(c.startedAt),
		})

		c.finished = true
	case models.RunStatusRunning:
	}
}

func (c *coordinator) ensureState(nodeID string) *models.NodeState {
	state := c.run.State(nodeID)
	if state == nil {
		state = &models.NodeState{Status: models.NodeStatusPending}
		c.run.NodeStates[nodeID] = state
	}

	return state
}

func (c *coordinator) ensureCollector(collectorID string) *collectorState {
	cs := c.collectors[collectorID]
	if cs == nil {
		cs = &collectorState{
			received: make(map[string]int),
			expected: make(map[string]int),
		}
		c.collectors[collectorID] = cs
	}

	return cs
}

func (c *coordinator) publish(event eventbus.Event) {
	c.executor.publish(c.ctx, c.run.ID, event)
}

func instanceInput(edge models.CompiledEdge, item any) (map[string]any, error) {
	if len(edge.Mapping) > 0 {
		return template.RenderMapping(edge.Mapping, item)
	}

	if m, ok := item.(map[string]any); ok {
		return m, nil
	}

	return map[string]any{"item": item}, nil
}

func splitKey(key string) (string, int) {
	source, suffix, ok := strings.Cut(key, ":")
	if !ok {
		return key, noInstance
	}

	idx := 0
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return key, noInstance
		}

		idx = idx*10 + int(r-'0')
	}

	return source, idx
}

func keyFor(sourceID string, instance int) string {
	if instance == noInstance {
		return sourceID
	}

	return fmt.Sprintf("%s:%d", sourceID, instance)
}

func stateStatus(state *models.NodeState) models.NodeStatus {
	if state == nil {
		return models.NodeStatusPending
	}

	return state.Status
}

func merge(dst, src map[string]any) map[string]any {
	for k, v := range src {
		dst[k] = v
	}

	return dst
}
