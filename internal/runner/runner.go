// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package runner implements the scan runner described in spec.md §4.4:
// a Scan accumulates const/function/loop/optimizer declarations, user
// actions mounted per nesting level, and hidden-name patterns, then
// drives internal/iterator to completion, forwarding every step to a
// recorder target. Grounded on qulab/scan/scanner.py and scan.py's
// assemble/main/process loop.
package runner

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/scanrec/scanrec/internal/iterator"
	"github.com/scanrec/scanrec/internal/optimize"
	"github.com/scanrec/scanrec/internal/planner"
	"github.com/scanrec/scanrec/internal/record"
	"github.com/scanrec/scanrec/internal/transport"
	"github.com/scanrec/scanrec/pkg/chunkstore"
	"github.com/scanrec/scanrec/pkg/log"
)

// maxConcurrentPromises bounds the number of in-flight futures a scan may
// schedule via Promise (spec.md §4.4/§5).
const maxConcurrentPromises = 100

// Action is a user callback mounted at one nesting level (or LevelInner
// for the innermost body), awaited once per step in which that level's
// position advances.
type Action func(kwds map[string]any) error

// LevelInner is the sentinel level for "the scan's innermost body",
// mirroring spec.md §4.4's -1 action level.
const LevelInner = -1

// Tracker mirrors qulab/scan/scan_iter.py's Tracker class, dropped by the
// distillation but cheap to carry: Init fires once when its mounted
// level opens, Update once per step at that level with the step's bound
// names and position, Feed once per leaf step with the full bindings.
type Tracker interface {
	Init() error
	Update(kwds map[string]any, vars []string, pos []int) error
	Feed(kwds map[string]any) error
}

// Target is the minimal recorder surface the runner needs — satisfied by
// both *transport.Client (daemon-backed) and *DirectTarget (the
// no-daemon local-file fallback spec.md §4.4 step 2 describes).
type Target interface {
	RecordCreate(description []byte) (string, error)
	RecordAppend(recordID string, level, step int, pos []int, variables map[string]any) error
}

// DirectTarget drives a record.Record in-process with no recorder daemon
// and no recorderdb metadata row.
type DirectTarget struct {
	backend chunkstore.AppendableBackend

	mu  sync.Mutex
	rec *record.Record
}

// NewDirectTarget returns a Target that persists directly to backend,
// bypassing the recorder daemon and its database.
func NewDirectTarget(backend chunkstore.AppendableBackend) *DirectTarget {
	return &DirectTarget{backend: backend}
}

func (t *DirectTarget) RecordCreate(description []byte) (string, error) {
	var desc record.Description
	if err := gob.NewDecoder(bytes.NewReader(description)).Decode(&desc); err != nil {
		return "", fmt.Errorf("runner: decoding description: %w", err)
	}
	id := chunkstore.NewLocationAddress()
	t.mu.Lock()
	t.rec = record.NewLocal(id, t.backend, desc)
	t.mu.Unlock()
	return id, nil
}

func (t *DirectTarget) RecordAppend(recordID string, level, step int, pos []int, variables map[string]any) error {
	t.mu.Lock()
	rec := t.rec
	t.mu.Unlock()
	if rec == nil {
		return fmt.Errorf("runner: record not created")
	}
	return rec.Append(level, step, pos, variables)
}

// Record exposes the underlying Record once RecordCreate has run, for
// Get/Keys/Export after Run returns.
func (t *DirectTarget) Record() *record.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec
}

// Connect dispatches to a recorder daemon over NATS when dsn looks like a
// URL, or to a DirectTarget backed by a local chunkstore otherwise,
// mirroring spec.md §4.4 step 2's "a connection to the recorder (socket)
// if the database is a URL, else fall back to the local file backend".
// The returned close func releases whichever resource was opened.
func Connect(dsn, subject string, backend chunkstore.AppendableBackend) (Target, func() error, error) {
	if strings.Contains(dsn, "://") {
		client, err := transport.NewClient(dsn, subject)
		if err != nil {
			return nil, nil, fmt.Errorf("runner: connecting to recorder at %s: %w", dsn, err)
		}
		return client, func() error { client.Close(); return nil }, nil
	}
	return NewDirectTarget(backend), func() error { return nil }, nil
}

// Future is a scheduled result from Promise, awaited by name when the
// iterator reaches the step that bound it.
type Future struct {
	done chan struct{}
	val  any
	err  error
}

// Await blocks until the future's function has returned.
func (f *Future) Await() (any, error) {
	<-f.done
	return f.val, f.err
}

// Scan accumulates the const/function/loop/optimizer maps, filters, user
// actions, and hidden-name patterns spec.md §4.4 describes, ready to Run
// once against a Target.
type Scan struct {
	App  string
	Tags []string

	Consts []iterator.ConstDef
	Funcs  map[string]*iterator.FuncDef
	Loops  []*iterator.LoopDef

	loopSpecs  []planner.LoopSpec
	funcSpecs  []planner.FuncSpec
	constSpecs []planner.ConstSpec

	Filter func(kwds map[string]any) (bool, error)
	Pool   iterator.Pool

	actions  map[int]Action
	trackers map[int][]Tracker

	hidePatterns    []*regexp.Regexp
	hidePatternSrcs []string

	EntryScripts map[string]string
	Env          map[string]string

	semaphore   chan struct{}
	pending     sync.WaitGroup
	pendingMu   sync.Mutex
	pendingErrs []error
}

// NewScan creates an empty Scan for app, tagged with tags.
func NewScan(app string, tags ...string) *Scan {
	return &Scan{
		App: app, Tags: tags,
		Funcs:        map[string]*iterator.FuncDef{},
		actions:      map[int]Action{},
		trackers:     map[int][]Tracker{},
		EntryScripts: map[string]string{},
		Env:          map[string]string{},
		semaphore:    make(chan struct{}, maxConcurrentPromises),
	}
}

// AddConst binds a scan-wide constant, computed once before the scan.
func (s *Scan) AddConst(name string, value any) {
	s.Consts = append(s.Consts, iterator.ConstDef{Name: name, Value: value})
	s.constSpecs = append(s.constSpecs, planner.ConstSpec{Name: name})
}

// AddLoop declares an independent-variable loop. dependsOn names the
// other loop variables its sequence factory closes over, if any.
func (s *Scan) AddLoop(names []string, seq iterator.SequenceFactory, dependsOn ...string) {
	s.Loops = append(s.Loops, &iterator.LoopDef{Names: names, NewSequence: seq})
	s.loopSpecs = append(s.loopSpecs, planner.LoopSpec{Names: names, DependsOn: dependsOn})
}

// AddOptimizerLoop declares a loop driven by an optimizer's ask/tell/
// get_result cycle instead of a fixed sequence.
func (s *Scan) AddOptimizerLoop(names []string, cfg *optimize.Config, feedback iterator.FeedbackPipe, dependsOn ...string) {
	s.Loops = append(s.Loops, &iterator.LoopDef{Names: names, Optimizer: cfg, Feedback: feedback})
	s.loopSpecs = append(s.loopSpecs, planner.LoopSpec{Names: names, DependsOn: dependsOn})
}

// AddFunc declares a derived variable, evaluated once per ready group.
func (s *Scan) AddFunc(name string, eval func(map[string]any) (any, error), dependsOn ...string) {
	s.Funcs[name] = &iterator.FuncDef{Name: name, Eval: eval}
	s.funcSpecs = append(s.funcSpecs, planner.FuncSpec{Name: name, DependsOn: dependsOn})
}

// MountAction mounts a user callback at level (LevelInner for the
// innermost body), run once per step where that level's position
// advances.
func (s *Scan) MountAction(level int, action Action) { s.actions[level] = action }

// MountTracker attaches a Tracker to level, alongside any mounted Action.
func (s *Scan) MountTracker(level int, t Tracker) {
	s.trackers[level] = append(s.trackers[level], t)
}

// Hide excludes every variable whose name matches pattern from
// record_append emission (but not from action/tracker callbacks, which
// still see the full binding set).
func (s *Scan) Hide(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("runner: compiling hide pattern %q: %w", pattern, err)
	}
	s.hidePatterns = append(s.hidePatterns, re)
	s.hidePatternSrcs = append(s.hidePatternSrcs, pattern)
	return nil
}

// Promise schedules fn on a goroutine bounded by the scan's 100-slot
// semaphore, returning a Future the iterator's step-processing loop
// awaits once the bound kwds entry is reached.
func (s *Scan) Promise(fn func() (any, error)) *Future {
	s.semaphore <- struct{}{}
	f := &Future{done: make(chan struct{})}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() { <-s.semaphore }()
		v, err := fn()
		f.val, f.err = v, err
		close(f.done)
		if err != nil {
			s.pendingMu.Lock()
			s.pendingErrs = append(s.pendingErrs, err)
			s.pendingMu.Unlock()
		}
	}()
	return f
}

// Run assembles the plan, creates the record, and drives the iterator to
// completion, returning the new record's id.
func (s *Scan) Run(ctx context.Context, target Target) (string, error) {
	plan, err := planner.Build(s.loopSpecs, s.funcSpecs, s.constSpecs)
	if err != nil {
		return "", fmt.Errorf("runner: assembling plan: %w", err)
	}

	desc := record.Description{
		App: s.App, Tags: s.Tags, Ctime: time.Now().UTC(),
		Order:        plan.Order,
		Consts:       constsMap(s.Consts),
		EntryScripts: s.EntryScripts,
		Env:          s.Env,
		HidePatterns: s.hidePatternSrcs,
	}
	var descBuf bytes.Buffer
	if err := gob.NewEncoder(&descBuf).Encode(desc); err != nil {
		return "", fmt.Errorf("runner: encoding description: %w", err)
	}

	recordID, err := target.RecordCreate(descBuf.Bytes())
	if err != nil {
		return "", fmt.Errorf("runner: record_create: %w", err)
	}
	log.Infof("runner: started record %s (app=%s)", recordID, s.App)

	icfg := &iterator.Config{
		Plan: plan, Loops: s.Loops, Funcs: s.Funcs, Consts: s.Consts,
		Filter: s.Filter, LevelMarker: true, Pool: s.Pool,
	}

	walkErr := iterator.Run(icfg, func(step iterator.Step) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		switch step.Kind {
		case iterator.KindBegin:
			return s.runInit(step.Level)
		case iterator.KindEnd:
			return nil
		default:
			return s.emit(target, recordID, step)
		}
	})
	if walkErr != nil {
		return recordID, walkErr
	}

	// Final synthetic flush step (spec.md §4.4 step 5).
	if err := target.RecordAppend(recordID, LevelInner, 0, nil, nil); err != nil {
		return recordID, fmt.Errorf("runner: final flush: %w", err)
	}

	s.pending.Wait()
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pendingErrs) > 0 {
		return recordID, fmt.Errorf("runner: %d scheduled future(s) failed, first: %w", len(s.pendingErrs), s.pendingErrs[0])
	}
	return recordID, nil
}

func (s *Scan) runInit(level int) error {
	for _, t := range s.trackers[level] {
		if err := t.Init(); err != nil {
			return fmt.Errorf("runner: tracker init at level %d: %w", level, err)
		}
	}
	return nil
}

// emit awaits any scheduled futures in the step's bindings, filters
// hidden names, sends record_append, and runs every action/tracker whose
// level's position advanced this step (levels unchanged+1..step.Level,
// shallow to deep, then the innermost-body action/trackers).
func (s *Scan) emit(target Target, recordID string, step iterator.Step) error {
	kwds, err := s.awaitFutures(step.Kwds)
	if err != nil {
		return err
	}

	variables := make(map[string]any, len(kwds))
	for k, v := range kwds {
		if s.isHidden(k) {
			continue
		}
		variables[k] = v
	}

	// A scan with no leveled loops at all yields its single body step at
	// level -1 (iterator.Run's "no leveled loops" shortcut); record.Append
	// treats a negative level as the flush signal, so clamp to 0 here —
	// there is exactly one real append in that scan, not a flush.
	level := step.Level
	if level < 0 {
		level = 0
	}
	if err := target.RecordAppend(recordID, level, step.Iteration, step.Pos, variables); err != nil {
		return fmt.Errorf("runner: record_append: %w", err)
	}

	for lvl := step.Unchanged + 1; lvl <= step.Level; lvl++ {
		if action, ok := s.actions[lvl]; ok {
			if err := action(kwds); err != nil {
				return fmt.Errorf("runner: action at level %d: %w", lvl, err)
			}
		}
		for _, t := range s.trackers[lvl] {
			if err := t.Update(kwds, step.Vars, step.Pos); err != nil {
				return fmt.Errorf("runner: tracker update at level %d: %w", lvl, err)
			}
		}
	}

	if action, ok := s.actions[LevelInner]; ok {
		if err := action(kwds); err != nil {
			return fmt.Errorf("runner: innermost action: %w", err)
		}
	}
	for _, t := range s.trackers[LevelInner] {
		if err := t.Feed(kwds); err != nil {
			return fmt.Errorf("runner: innermost tracker feed: %w", err)
		}
	}
	return nil
}

func (s *Scan) awaitFutures(kwds map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(kwds))
	for k, v := range kwds {
		if f, ok := v.(*Future); ok {
			val, err := f.Await()
			if err != nil {
				return nil, fmt.Errorf("runner: awaiting %q: %w", k, err)
			}
			out[k] = val
			continue
		}
		out[k] = v
	}
	return out, nil
}

func (s *Scan) isHidden(name string) bool {
	for _, re := range s.hidePatterns {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func constsMap(consts []iterator.ConstDef) map[string]any {
	out := make(map[string]any, len(consts))
	for _, c := range consts {
		out[c.Name] = c.Value
	}
	return out
}
