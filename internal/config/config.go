// Copyright (C) 2022 NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/scanrec/scanrec/pkg/log"
	"github.com/scanrec/scanrec/pkg/schema"
)

var Keys schema.RecorderConfig = schema.RecorderConfig{
	Datapath:        "./var/data",
	Port:            6789,
	NatsURL:         "nats://127.0.0.1:4222",
	DBDriver:        "sqlite3",
	DB:              "data.db",
	RecorderLRUSize: 1024,
	LogLevel:        "info",
	Gops:            false,
	MetricsAddr:     "",
	RequestTimeout:  10,
	PingTimeout:     1,
}

// Init reads and validates the configuration file at flagConfigFile,
// overlaying its values onto the defaults in Keys. A missing file is not
// an error: the defaults are used as-is.
func Init(flagConfigFile string) error {
	raw, err := os.ReadFile(flagConfigFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if err := schema.Validate(schema.Config, bytes.NewReader(raw)); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return err
	}

	log.Infof("config: loaded %s", flagConfigFile)
	return nil
}
