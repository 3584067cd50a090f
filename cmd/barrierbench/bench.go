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
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lf-edge/barrierflow/internal/conf"
	"github.com/lf-edge/barrierflow/internal/topo"
)

var benchModes = []string{"0", "1", "5", "ALIGNED"}

type result struct {
	RunId       string
	Mode        string
	Completed   int
	Elapsed     time.Duration
	Consistent  bool
	LatestCut   *topo.Cut
	Checkpoints float64
}

func (r *result) String() string {
	s := fmt.Sprintf("[%s] mode %-7s %d checkpoints in %v, %.2f checkpoints/s", r.RunId, r.Mode, r.Completed, r.Elapsed.Round(time.Millisecond), r.Checkpoints)
	if r.LatestCut != nil {
		s += fmt.Sprintf(", consistent %v (%s)", r.Consistent, r.LatestCut)
	}
	return s
}

// runOnce runs one job to its end and reads back the cut of the latest checkpoint
func runOnce(c *conf.BarrierConf) (*result, error) {
	runId := uuid.New().String()
	tp, err := topo.NewTopo("bench_"+runId, c)
	if err != nil {
		return nil, err
	}
	defer tp.Cancel()
	start := time.Now()
	errCh := tp.Open()
	if err := tp.Wait(); err != nil {
		return nil, err
	}
	select {
	case err := <-errCh:
		return nil, err
	default:
	}
	r := &result{
		RunId:   runId,
		Mode:    c.Bench.Mode,
		Elapsed: time.Since(start),
	}
	if r.Mode == "" {
		r.Mode = "config"
	}
	co := tp.GetCoordinator()
	r.Completed = co.GetCompleteCount()
	if r.Elapsed > 0 {
		r.Checkpoints = float64(r.Completed) / r.Elapsed.Seconds()
	}
	if latest := co.GetLatest(); latest > 0 {
		cut, err := tp.LoadCut(latest)
		if err != nil {
			return r, fmt.Errorf("load checkpoint %d error: %v", latest, err)
		}
		r.LatestCut = cut
		r.Consistent = cut.IsConsistent()
	}
	return r, nil
}

// runModes runs the same job once per mode and stops at the first error
func runModes(c *conf.BarrierConf, modes []string) ([]*result, error) {
	results := make([]*result, 0, len(modes))
	for _, m := range modes {
		mc := *c
		mc.Bench.Mode = m
		r, err := runOnce(&mc)
		if err != nil {
			return results, fmt.Errorf("mode %s: %v", m, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// startPrometheus serves the metrics if enabled. The returned func stops the server.
func startPrometheus(basic *conf.BasicConf) func() {
	if !basic.Prometheus {
		return func() {}
	}
	if basic.PrometheusPort <= 0 {
		conf.Log.Warnf("Miss configuration prometheusPort, metrics are not served")
		return func() {}
	}
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	srv := &http.Server{
		Addr:         fmt.Sprintf("0.0.0.0:%d", basic.PrometheusPort),
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			conf.Log.Errorf("Listen prometheus error: %v", err)
		}
	}()
	conf.Log.Infof("Serving prometheus metrics on port http://localhost:%d/metrics", basic.PrometheusPort)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
