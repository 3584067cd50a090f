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
	"os"
	"path"
	"path/filepath"
)

const (
	etcDir  = "etc"
	dataDir = "data"
	logDir  = "log"
	BaseKey = "BARRIERFLOW_HOME"
)

func GetConfLoc() (string, error) {
	return GetLoc(etcDir)
}

func GetDataLoc() (string, error) {
	d, err := GetLoc(dataDir)
	if err != nil {
		return "", err
	}
	if IsTesting {
		d = path.Join(d, "test")
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", err
	}
	return d, nil
}

func GetLogLoc() (string, error) {
	d, err := GetLoc(logDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", err
	}
	return d, nil
}

// GetLoc subdir must be a relative path. It is searched from the base folder upwards,
// and if not found anywhere the location under the base folder is returned.
func GetLoc(subdir string) (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if base := os.Getenv(BaseKey); base != "" {
		dir = base
	}
	start := path.Join(dir, subdir)
	for {
		loc := path.Join(dir, subdir)
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return start, nil
}
