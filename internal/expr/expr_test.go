// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package expr_test

import (
	"testing"

	"github.com/scanrec/scanrec/internal/expr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlgebraicIdentities(t *testing.T) {
	x := expr.Symbol("x")

	zeroPlusX := expr.Binary("+", expr.Const(0), x)
	assert.Equal(t, []string{"x"}, zeroPlusX.Symbols())

	onePlusTwo := expr.Binary("+", expr.Const(1), expr.Const(2))
	env := expr.NewEnv()
	v, err := onePlusTwo.Value(env)
	require.NoError(t, err)
	assert.EqualValues(t, 3, v)
}

func TestSymbolsAreFreeNames(t *testing.T) {
	e := expr.Binary("+", expr.Symbol("a"), expr.Symbol("b"))
	assert.ElementsMatch(t, []string{"a", "b"}, e.Symbols())
}

func TestEvalSubstitutesBoundSymbols(t *testing.T) {
	env := expr.NewEnv()
	env.SetConst("a", 2)

	e := expr.Binary("+", expr.Symbol("a"), expr.Symbol("b"))
	residual, err := e.Eval(env)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"b"}, residual.Symbols())
}

func TestValueFullyBound(t *testing.T) {
	env := expr.NewEnv()
	env.SetConst("a", 2)
	env.SetConst("b", 3)

	e := expr.Binary("+", expr.Symbol("a"), expr.Symbol("b"))
	v, err := e.Value(env)
	require.NoError(t, err)
	assert.EqualValues(t, 5, v)
}

func TestWriteRejectsConst(t *testing.T) {
	env := expr.NewEnv()
	env.SetConst("a", 2)
	err := env.Write("a", 5)
	assert.Error(t, err)
}

func TestRefChainWriteThroughRoot(t *testing.T) {
	env := expr.NewEnv()
	env.Ref("alias", "root")
	require.NoError(t, env.Write("alias", 42))
	v, ok, err := env.Read("root")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.EqualValues(t, 42, v)
}

func TestCompileAndRun(t *testing.T) {
	env := expr.NewEnv()
	env.SetConst("a", 2)
	env.SetConst("b", 3)

	e := expr.Binary("*", expr.Symbol("a"), expr.Symbol("b"))
	compiled, err := e.Compile()
	require.NoError(t, err)
	v, err := compiled.Run(env)
	require.NoError(t, err)
	assert.EqualValues(t, 6, v)
}
