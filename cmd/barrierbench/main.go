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

package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/lf-edge/barrierflow/internal/conf"
)

var Version = "unknown"

var runFlags = []cli.Flag{
	cli.StringFlag{
		Name:  "config, c",
		Usage: "the location of the config file, default to etc/barrierflow.yaml",
	},
	cli.StringFlag{
		Name:  "mode, m",
		Usage: "alignment mode: 0 for unaligned, 1 or 5 for the alignment timeout in ms, ALIGNED for aligned only",
	},
	cli.IntFlag{
		Name:  "checkpoints, n",
		Usage: "the number of completed checkpoints to finish the job",
	},
	cli.IntFlag{
		Name:  "interval, i",
		Usage: "checkpoint interval in ms",
	},
	cli.IntFlag{
		Name:  "parallelism, p",
		Usage: "the instances of each vertex",
	},
	cli.IntFlag{
		Name:  "vertices, v",
		Usage: "the number of vertices including the source and the sink",
	},
	cli.IntFlag{
		Name:  "sink-delay",
		Usage: "sink delay per record in microseconds",
	},
	cli.IntFlag{
		Name:  "buffer",
		Usage: "capacity of each channel",
	},
	cli.StringFlag{
		Name:  "store",
		Usage: "snapshot store: memory, sqlite or redis",
	},
}

func main() {
	undo, _ := maxprocs.Set(maxprocs.Logger(conf.Log.Infof))
	defer undo()

	app := cli.NewApp()
	app.Name = "barrierbench"
	app.Usage = "measure the checkpoint time of aligned and unaligned barriers under backpressure"
	app.Version = Version
	app.Commands = []cli.Command{
		{
			Name:  "run",
			Usage: "run [--mode 0|1|5|ALIGNED] [-n checkpoints] ...",
			Flags: runFlags,
			Action: func(c *cli.Context) error {
				bc, err := loadConf(c)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				stop := startPrometheus(&bc.Basic)
				defer stop()
				r, err := runOnce(bc)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				fmt.Println(r)
				return nil
			},
		},
		{
			Name:  "bench",
			Usage: "run the job in every alignment mode and print the checkpoints per second",
			Flags: runFlags,
			Action: func(c *cli.Context) error {
				bc, err := loadConf(c)
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				stop := startPrometheus(&bc.Basic)
				defer stop()
				results, err := runModes(bc, benchModes)
				for _, r := range results {
					fmt.Println(r)
				}
				if err != nil {
					return cli.NewExitError(err.Error(), 1)
				}
				return nil
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConf reads the config file and applies the flags on top
func loadConf(c *cli.Context) (*conf.BarrierConf, error) {
	if p := c.String("config"); p != "" {
		if err := conf.InitConf(p); err != nil {
			return nil, fmt.Errorf("fail to load config %s: %v", p, err)
		}
	} else if err := conf.InitConf(""); err != nil {
		conf.Log.Infof("no config file loaded, use the default: %v", err)
	}
	bc := conf.Config
	if c.IsSet("mode") {
		bc.Bench.Mode = c.String("mode")
	}
	if c.IsSet("checkpoints") {
		bc.Bench.NumFinishedCheckpoints = c.Int("checkpoints")
	}
	if c.IsSet("interval") {
		bc.Checkpoint.Interval = c.Int("interval")
	}
	if c.IsSet("parallelism") {
		bc.Bench.Parallelism = c.Int("parallelism")
	}
	if c.IsSet("vertices") {
		bc.Bench.NumVertices = c.Int("vertices")
	}
	if c.IsSet("sink-delay") {
		bc.Bench.SinkDelay = c.Int("sink-delay")
	}
	if c.IsSet("buffer") {
		bc.Bench.BufferLength = c.Int("buffer")
	}
	if c.IsSet("store") {
		bc.Store.Type = c.String("store")
	}
	_ = conf.ValidateCheckpointConf(&bc.Checkpoint)
	_ = conf.ValidateBenchConf(&bc.Bench)
	if err := conf.ValidateStoreConf(&bc.Store); err != nil {
		return nil, err
	}
	return bc, nil
}
