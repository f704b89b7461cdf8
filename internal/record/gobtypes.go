// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package record

import "encoding/gob"

// gob requires every concrete type that can appear behind an `any` field
// (BufferList entry values, scalar items) to be registered before it is
// encoded or decoded. These cover the value kinds a measurement loop
// realistically produces; a custom struct value needs its own
// gob.Register call in the code that introduces it.
func init() {
	gob.Register(float64(0))
	gob.Register(int(0))
	gob.Register(string(""))
	gob.Register(bool(false))
	gob.Register(complex128(0))
	gob.Register([]any{})
	gob.Register([]float64{})
	gob.Register([]int{})
	gob.Register([]string{})
}
