package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/controlplane/pkg/clock"
	"github.com/cuemby/controlplane/pkg/eventbus"
	"github.com/cuemby/controlplane/pkg/log"
	"github.com/cuemby/controlplane/pkg/metrics"
)

// Deserializer turns a raw bus message into a pipeline Event.
type Deserializer func(eventbus.Message) (Event, error)

// Filter drops events the pipeline should not window at all.
type Filter func(Event) bool

// Sink receives a window's final (or late-updated) snapshot.
type Sink func(WindowSnapshot)

// DeadLetter receives a message the pipeline could not process.
type DeadLetter func(eventbus.Message, error)

// sourceLocation is the topic/partition pair a recorded offset came from,
// kept alongside the "topic:partition" checkpoint key so Commit can target
// the real eventbus partition rather than the composite string.
type sourceLocation struct {
	Topic     string
	Partition string
}

// Config parameterizes a StreamProcessor.
type Config struct {
	Topics             []string
	ConsumerGroup      string
	ConsumerName       string
	Workers            int
	Windows            []WindowConfig
	Watermark          WatermarkPolicy
	CheckpointInterval time.Duration
	DataDir            string

	Deserialize Deserializer
	Filter      Filter
	Sink        Sink
	SideOutput  Sink
	DeadLetter  DeadLetter
}

const defaultCheckpointInterval = 10 * time.Second

// StreamProcessor runs the full Event Stream Processor pipeline: Source ->
// Deserialize -> Filter -> AssignWindows -> Worker Pool -> Aggregate ->
// Checkpoint -> Sink/DeadLetter, consuming from an eventbus.EventBus.
type StreamProcessor struct {
	cfg    Config
	bus    eventbus.EventBus
	clock  clock.Clock
	stream eventbus.MessageStream

	windows     *WindowManager
	watermark   *WatermarkTracker
	state       *StateStore
	checkpoints *CheckpointStore
	pool        *workerPool

	offsetsMu        sync.Mutex
	sourceOffsets    map[string]string
	sourcePartitions map[string]sourceLocation

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a StreamProcessor. When cfg.DataDir is empty no durable
// checkpoint store is opened and no checkpoints are written (tests
// typically leave it empty and inspect in-memory state directly).
func New(bus eventbus.EventBus, c clock.Clock, cfg Config) (*StreamProcessor, error) {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = defaultCheckpointInterval
	}
	if cfg.Deserialize == nil {
		return nil, fmt.Errorf("stream: Config.Deserialize is required")
	}

	windows := NewWindowManager()
	for _, w := range cfg.Windows {
		windows.Configure(w)
	}

	p := &StreamProcessor{
		cfg:           cfg,
		bus:           bus,
		clock:         c,
		windows:       windows,
		watermark:     NewWatermarkTracker(cfg.Watermark),
		state:         NewStateStore(),
		sourceOffsets:    make(map[string]string),
		sourcePartitions: make(map[string]sourceLocation),
		stopCh:           make(chan struct{}),
	}

	if cfg.DataDir != "" {
		store, err := NewCheckpointStore(cfg.DataDir)
		if err != nil {
			return nil, err
		}
		p.checkpoints = store
	}

	return p, nil
}

// Start subscribes to the configured topics and begins consuming,
// windowing and checkpointing until Stop is called.
func (p *StreamProcessor) Start(ctx context.Context) error {
	stream, err := p.bus.Subscribe(ctx, p.cfg.Topics, eventbus.SubscribeOptions{
		ConsumerGroup: p.cfg.ConsumerGroup,
		ConsumerName:  p.cfg.ConsumerName,
		StartID:       "0",
		BlockFor:      5 * time.Second,
	})
	if err != nil {
		return err
	}
	p.stream = stream
	p.pool = newWorkerPool(p.cfg.Workers)

	p.wg.Add(3)
	go p.consumeLoop()
	go p.emitLoop()
	go p.checkpointLoop()
	return nil
}

// Stop stops consuming, waits for the workers to finish every queued task
// (there is no drain timeout), writes a final checkpoint and closes the
// underlying subscription.
func (p *StreamProcessor) Stop() error {
	close(p.stopCh)
	p.wg.Wait()
	if p.pool != nil {
		p.pool.stop()
	}
	if p.checkpoints != nil {
		if err := p.writeCheckpoint(); err != nil {
			log.Errorf("stream processor final checkpoint failed", err)
		}
	}
	if p.stream != nil {
		return p.stream.Close()
	}
	return nil
}

func (p *StreamProcessor) consumeLoop() {
	defer p.wg.Done()
	for {
		select {
		case msg, ok := <-p.stream.Messages():
			if !ok {
				return
			}
			p.pool.submit(func() { p.handle(msg) })
		case err := <-p.stream.Errors():
			log.Errorf("stream processor consume error", err)
		case <-p.stopCh:
			return
		}
	}
}

func (p *StreamProcessor) handle(msg eventbus.Message) {
	ev, err := p.cfg.Deserialize(msg)
	if err != nil {
		metrics.StreamRecordsTotal.WithLabelValues("deserialize_error").Inc()
		if p.cfg.DeadLetter != nil {
			p.cfg.DeadLetter(msg, err)
		}
		return
	}
	if p.cfg.Filter != nil && !p.cfg.Filter(ev) {
		metrics.StreamRecordsTotal.WithLabelValues("filtered").Inc()
		return
	}

	source := msg.Topic + ":" + msg.Partition
	p.watermark.Observe(source, ev.Timestamp)
	p.recordOffset(source, msg.Topic, msg.Partition, msg.Offset)

	for _, cfg := range p.cfg.Windows {
		assignments, err := p.windows.Assign(ev.Key, ev, cfg.Name)
		if err != nil {
			continue
		}
		for _, a := range assignments {
			if p.windows.Emitted(a.WindowID) {
				snap, sideOutput, apply := p.windows.HandleLate(a, ev)
				metrics.StreamLateRecordsTotal.WithLabelValues(string(cfg.LateDataPolicy)).Inc()
				if sideOutput && p.cfg.SideOutput != nil {
					p.cfg.SideOutput(snap)
				}
				if apply && p.cfg.Sink != nil {
					p.cfg.Sink(snap)
				}
				continue
			}
			p.windows.Ingest(a, ev)
		}
	}
	metrics.StreamRecordsTotal.WithLabelValues("on_time").Inc()
}

func (p *StreamProcessor) recordOffset(source, topic, partition, offset string) {
	p.offsetsMu.Lock()
	p.sourceOffsets[source] = offset
	p.sourcePartitions[source] = sourceLocation{Topic: topic, Partition: partition}
	p.offsetsMu.Unlock()
}

// emitLoop periodically recomputes the global watermark and pushes ready
// window snapshots to the configured Sink.
func (p *StreamProcessor) emitLoop() {
	defer p.wg.Done()
	ticker := p.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			watermark := p.watermark.Global()
			if watermark.IsZero() {
				continue
			}
			for _, snap := range p.windows.EmitReady(watermark) {
				metrics.WindowsEmittedTotal.WithLabelValues(string(snap.Kind)).Inc()
				if p.cfg.Sink != nil {
					p.cfg.Sink(snap)
				}
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *StreamProcessor) checkpointLoop() {
	defer p.wg.Done()
	if p.checkpoints == nil {
		return
	}
	ticker := p.clock.NewTicker(p.cfg.CheckpointInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			if err := p.writeCheckpoint(); err != nil {
				log.Errorf("stream processor checkpoint failed", err)
			}
		case <-p.stopCh:
			_ = p.writeCheckpoint()
			return
		}
	}
}

func (p *StreamProcessor) writeCheckpoint() error {
	p.offsetsMu.Lock()
	offsets := make(map[string]string, len(p.sourceOffsets))
	for k, v := range p.sourceOffsets {
		offsets[k] = v
	}
	locations := make(map[string]sourceLocation, len(p.sourcePartitions))
	for k, v := range p.sourcePartitions {
		locations[k] = v
	}
	p.offsetsMu.Unlock()

	cp := Build(fmt.Sprintf("cp-%d", p.clock.Now().UnixNano()), p.clock.Now(), offsets, p.windows, p.state)
	if err := p.checkpoints.Save(cp); err != nil {
		return err
	}
	metrics.CheckpointsTotal.Inc()

	if p.stream != nil {
		committed := make([]eventbus.Message, 0, len(offsets))
		for source, offset := range offsets {
			loc := locations[source]
			committed = append(committed, eventbus.Message{Offset: offset, Topic: loc.Topic, Partition: loc.Partition})
		}
		return p.stream.Commit(context.Background(), committed)
	}
	return nil
}
