// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package chunkstore_test

import (
	"context"
	"testing"

	"github.com/scanrec/scanrec/pkg/chunkstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedPath(t *testing.T) {
	assert.Equal(t, "ab/cd/ef/0123456789", chunkstore.ShardedPath("abcdef0123456789"))
	assert.Equal(t, "00/00/00/xy", chunkstore.ShardedPath("xy"))
}

func TestContentAddressIsStable(t *testing.T) {
	a := chunkstore.ContentAddress([]byte("hello"))
	b := chunkstore.ContentAddress([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
	assert.NotEqual(t, a, chunkstore.ContentAddress([]byte("world")))
}

func TestFSBackendPutGetAppendDelete(t *testing.T) {
	ctx := context.Background()
	be, err := chunkstore.NewFSBackend(t.TempDir())
	require.NoError(t, err)

	key := chunkstore.NewLocationAddress()
	require.NoError(t, be.Put(ctx, key, []byte("abc")))
	assert.True(t, be.Exists(ctx, key))

	data, err := be.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(data))

	require.NoError(t, be.Append(ctx, key, []byte("def")))
	data, err = be.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))

	require.NoError(t, be.Delete(ctx, key))
	assert.False(t, be.Exists(ctx, key))
}
