// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package runner_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/scanrec/scanrec/internal/iterator"
	"github.com/scanrec/scanrec/internal/runner"
	"github.com/scanrec/scanrec/pkg/chunkstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rangeSeq(n int) iterator.SequenceFactory {
	return func(map[string]any) (iterator.Sequence, error) {
		i := 0
		return seqFunc(func() (any, bool, error) {
			if i >= n {
				return nil, false, nil
			}
			v := i
			i++
			return v, true, nil
		}), nil
	}
}

type seqFunc func() (any, bool, error)

func (f seqFunc) Next() (any, bool, error) { return f() }

func newTarget(t *testing.T) *runner.DirectTarget {
	t.Helper()
	be, err := chunkstore.NewFSBackend(t.TempDir())
	require.NoError(t, err)
	return runner.NewDirectTarget(be)
}

func TestScanRunEmitsEveryStepAndFinalFlush(t *testing.T) {
	s := runner.NewScan("demo.sweep", "cryo")
	s.AddLoop([]string{"x"}, rangeSeq(3))

	var appended []map[string]any
	s.MountAction(runner.LevelInner, func(kwds map[string]any) error {
		appended = append(appended, kwds)
		return nil
	})

	target := newTarget(t)
	id, err := s.Run(context.Background(), target)
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Len(t, appended, 3)

	keys, err := target.Record().Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "x")
}

func TestScanHidesVariablesFromRecordButNotActions(t *testing.T) {
	s := runner.NewScan("demo.sweep")
	s.AddLoop([]string{"x"}, rangeSeq(2))
	s.AddConst("_secret", 42)
	require.NoError(t, s.Hide(`^_`))

	var sawSecret int
	s.MountAction(runner.LevelInner, func(kwds map[string]any) error {
		if v, ok := kwds["_secret"]; ok {
			sawSecret = v.(int)
		}
		return nil
	})

	target := newTarget(t)
	_, err := s.Run(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 42, sawSecret)

	keys, err := target.Record().Keys()
	require.NoError(t, err)
	assert.NotContains(t, keys, "_secret")
}

func TestScanPromiseFutureIsAwaitedBeforeAppend(t *testing.T) {
	s := runner.NewScan("demo.sweep")
	s.AddLoop([]string{"x"}, rangeSeq(1))
	s.AddFunc("y", func(kwds map[string]any) (any, error) {
		x := kwds["x"].(int)
		return s.Promise(func() (any, error) { return x * 10, nil }), nil
	}, "x")

	target := newTarget(t)
	_, err := s.Run(context.Background(), target)
	require.NoError(t, err)

	keys, err := target.Record().Keys()
	require.NoError(t, err)
	assert.Contains(t, keys, "y")
}

func TestScanPropagatesActionError(t *testing.T) {
	s := runner.NewScan("demo.sweep")
	s.AddLoop([]string{"x"}, rangeSeq(2))
	s.MountAction(runner.LevelInner, func(map[string]any) error {
		return fmt.Errorf("boom")
	})

	target := newTarget(t)
	_, err := s.Run(context.Background(), target)
	assert.Error(t, err)
}

func TestScanAssemblesPlanFromDependencies(t *testing.T) {
	s := runner.NewScan("demo.sweep")
	s.AddLoop([]string{"a"}, rangeSeq(2))
	s.AddLoop([]string{"b"}, rangeSeq(2), "a")

	var pairs [][2]int
	s.MountAction(runner.LevelInner, func(kwds map[string]any) error {
		pairs = append(pairs, [2]int{kwds["a"].(int), kwds["b"].(int)})
		return nil
	})

	target := newTarget(t)
	_, err := s.Run(context.Background(), target)
	require.NoError(t, err)
	assert.Len(t, pairs, 4)
}

func TestScanTrackerLifecycle(t *testing.T) {
	s := runner.NewScan("demo.sweep")
	s.AddLoop([]string{"x"}, rangeSeq(2))

	tr := &recordingTracker{}
	s.MountTracker(0, tr)
	s.MountTracker(runner.LevelInner, tr)

	target := newTarget(t)
	_, err := s.Run(context.Background(), target)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.inits)
	assert.Equal(t, 2, tr.updates)
	assert.Equal(t, 2, tr.feeds)
}

type recordingTracker struct {
	inits, updates, feeds int
}

func (t *recordingTracker) Init() error { t.inits++; return nil }
func (t *recordingTracker) Update(map[string]any, []string, []int) error {
	t.updates++
	return nil
}
func (t *recordingTracker) Feed(map[string]any) error { t.feeds++; return nil }
