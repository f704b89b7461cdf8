// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package recorderdb

import (
	"context"
	"time"

	"github.com/scanrec/scanrec/pkg/log"
)

// Hooks satisfies sqlhooks.Hooks, logging every SQL statement the
// recorder issues along with its duration.
type Hooks struct{}

type ctxKey string

const beginKey ctxKey = "begin"

func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, beginKey, time.Now()), nil
}

func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(beginKey).(time.Time); ok {
		log.Debugf("took %s", time.Since(begin))
	}
	return ctx, nil
}
