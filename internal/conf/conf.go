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

package conf

import (
	"errors"
	"strings"
)

const ConfFileName = "barrierflow.yaml"

var Config *BarrierConf

type BasicConf struct {
	Debug          bool   `yaml:"debug"`
	ConsoleLog     bool   `yaml:"consoleLog"`
	FileLog        bool   `yaml:"fileLog"`
	LogDir         string `yaml:"logDir"`
	RotateTime     int    `yaml:"rotateTime"`
	MaxAge         int    `yaml:"maxAge"`
	Prometheus     bool   `yaml:"prometheus"`
	PrometheusPort int    `yaml:"prometheusPort"`
}

// CheckpointConf configures the coordinator and the alignment policy. Durations are in milliseconds.
type CheckpointConf struct {
	// Interval between two triggers
	Interval int `yaml:"interval"`
	// Unaligned enables the unaligned mode. With AlignmentTimeout 0 the checkpoints are unaligned from the start,
	// otherwise they are aligned and fall back to unaligned after the timeout
	Unaligned        bool `yaml:"unaligned"`
	AlignmentTimeout int  `yaml:"alignmentTimeout"`
	// MaxConcurrent bounds the pending checkpoints. 0 means unlimited
	MaxConcurrent int `yaml:"maxConcurrent"`
	// Retained is the number of completed checkpoints kept by the store
	Retained int `yaml:"retained"`
	// ExactlyOnce selects the aligner, otherwise barriers are only tracked
	ExactlyOnce bool `yaml:"exactlyOnce"`
}

// BenchConf is the job shape of the checkpoint time benchmark
type BenchConf struct {
	NumVertices            int `yaml:"numVertices"`
	Parallelism            int `yaml:"parallelism"`
	NumFinishedCheckpoints int `yaml:"numFinishedCheckpoints"`
	RecordSize             int `yaml:"recordSize"`
	// SinkDelay per record in microseconds
	SinkDelay    int `yaml:"sinkDelay"`
	BufferLength int `yaml:"bufferLength"`
	// Mode is one of the benchmark parameters "0", "1", "5" or "ALIGNED". It overrides the checkpoint section when set
	Mode string `yaml:"mode"`
}

type SqliteConf struct {
	Path string `yaml:"path"`
	Name string `yaml:"name"`
}

type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	Db       int    `yaml:"db"`
	// Timeout to connect in milliseconds
	Timeout int `yaml:"timeout"`
}

type StoreConf struct {
	Type   string     `yaml:"type"`
	Sqlite SqliteConf `yaml:"sqlite"`
	Redis  RedisConf  `yaml:"redis"`
}

type BarrierConf struct {
	Basic      BasicConf      `yaml:"basic"`
	Checkpoint CheckpointConf `yaml:"checkpoint"`
	Bench      BenchConf      `yaml:"bench"`
	Store      StoreConf      `yaml:"store"`
}

func Default() *BarrierConf {
	return &BarrierConf{
		Basic: BasicConf{
			ConsoleLog:     false,
			RotateTime:     24,
			MaxAge:         72,
			PrometheusPort: 20499,
		},
		Checkpoint: CheckpointConf{
			Interval:         10,
			Unaligned:        true,
			AlignmentTimeout: 0,
			MaxConcurrent:    0,
			Retained:         3,
			ExactlyOnce:      true,
		},
		Bench: BenchConf{
			NumVertices:            3,
			Parallelism:            4,
			NumFinishedCheckpoints: 10,
			RecordSize:             1024,
			SinkDelay:              1000,
			BufferLength:           64,
		},
		Store: StoreConf{
			Type: "memory",
			Redis: RedisConf{
				Addr:    "127.0.0.1:6379",
				Timeout: 1000,
			},
		},
	}
}

// InitConf loads the config file at p, or the default file under etc if p is empty.
// Invalid values are reset to defaults with a warning.
func InitConf(p string) error {
	c := Default()
	var err error
	if p == "" {
		err = LoadConfigByName(ConfFileName, c)
	} else {
		err = LoadConfigFromPath(p, c)
	}
	if err != nil {
		return err
	}
	Config = c
	SetupLogOutput(&Config.Basic)
	_ = ValidateCheckpointConf(&Config.Checkpoint)
	_ = ValidateBenchConf(&Config.Bench)
	return ValidateStoreConf(&Config.Store)
}

func ValidateCheckpointConf(c *CheckpointConf) error {
	var errs error
	if c.Interval <= 0 {
		c.Interval = 10
		Log.Warnf("checkpoint interval must be positive, set to 10")
		errs = errors.Join(errs, errors.New("invalidInterval:checkpoint interval must be greater than 0"))
	}
	if c.AlignmentTimeout < 0 {
		c.AlignmentTimeout = 0
		Log.Warnf("alignmentTimeout is negative, set to 0")
		errs = errors.Join(errs, errors.New("invalidAlignmentTimeout:alignmentTimeout must not be negative"))
	}
	if c.MaxConcurrent < 0 {
		c.MaxConcurrent = 0
		Log.Warnf("maxConcurrent is negative, set to 0 (unlimited)")
		errs = errors.Join(errs, errors.New("invalidMaxConcurrent:maxConcurrent must not be negative"))
	}
	if c.Retained <= 0 {
		c.Retained = 3
		Log.Warnf("retained must be positive, set to 3")
		errs = errors.Join(errs, errors.New("invalidRetained:retained must be greater than 0"))
	}
	return errs
}

func ValidateBenchConf(c *BenchConf) error {
	var errs error
	if c.NumVertices < 2 {
		c.NumVertices = 3
		Log.Warnf("numVertices must be at least 2, set to 3")
		errs = errors.Join(errs, errors.New("invalidNumVertices:numVertices must be at least 2"))
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
		Log.Warnf("parallelism must be positive, set to 4")
		errs = errors.Join(errs, errors.New("invalidParallelism:parallelism must be greater than 0"))
	}
	if c.NumFinishedCheckpoints <= 0 {
		c.NumFinishedCheckpoints = 10
		Log.Warnf("numFinishedCheckpoints must be positive, set to 10")
		errs = errors.Join(errs, errors.New("invalidNumFinishedCheckpoints:numFinishedCheckpoints must be greater than 0"))
	}
	if c.RecordSize < 0 {
		c.RecordSize = 1024
		Log.Warnf("recordSize is negative, set to 1024")
		errs = errors.Join(errs, errors.New("invalidRecordSize:recordSize must not be negative"))
	}
	if c.SinkDelay < 0 {
		c.SinkDelay = 1000
		Log.Warnf("sinkDelay is negative, set to 1000")
		errs = errors.Join(errs, errors.New("invalidSinkDelay:sinkDelay must not be negative"))
	}
	if c.BufferLength <= 0 {
		c.BufferLength = 64
		Log.Warnf("bufferLength must be positive, set to 64")
		errs = errors.Join(errs, errors.New("invalidBufferLength:bufferLength must be greater than 0"))
	}
	return errs
}

func ValidateStoreConf(c *StoreConf) error {
	c.Type = strings.ToLower(c.Type)
	switch c.Type {
	case "":
		c.Type = "memory"
	case "memory", "sqlite", "redis":
	default:
		return errors.New("invalidStoreType:store type must be one of memory, sqlite and redis")
	}
	if c.Type == "sqlite" && c.Sqlite.Name == "" {
		c.Sqlite.Name = "checkpoint.db"
	}
	return nil
}

func init() {
	InitLogger()
	Config = Default()
}
