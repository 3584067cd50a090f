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
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	filename "github.com/keepeye/logrus-filename"
	"github.com/sirupsen/logrus"
	rotatelogs "github.com/yisaer/file-rotatelogs"
)

const (
	logFileName = "barrierflow.log"
)

var (
	Log       *logrus.Logger
	logWriter io.Closer
	IsTesting bool
)

func InitLogger() {
	Log = logrus.New()
	filenameHook := filename.NewHook()
	filenameHook.Field = "file"
	Log.AddHook(filenameHook)

	Log.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
		DisableColors:   true,
		FullTimestamp:   true,
	})

	Log.Debugf("init with args %s", os.Args)
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, "-test.") {
			IsTesting = true
			break
		}
	}
	if IsTesting {
		Log.SetLevel(logrus.DebugLevel)
		Log.SetOutput(io.Discard)
	}
}

// SetupLogOutput applies the basic section to the global logger
func SetupLogOutput(basic *BasicConf) {
	if basic.Debug {
		Log.SetLevel(logrus.DebugLevel)
	} else {
		Log.SetLevel(logrus.InfoLevel)
	}
	if basic.FileLog {
		dir := basic.LogDir
		if dir == "" {
			var err error
			dir, err = GetLogLoc()
			if err != nil {
				Log.Errorf("fail to get log location: %v", err)
				return
			}
		}
		file := path.Join(dir, logFileName)
		w, err := rotatelogs.New(
			file+".%Y-%m-%d_%H-%M-%S",
			rotatelogs.WithLinkName(file),
			rotatelogs.WithRotationTime(time.Hour*time.Duration(basic.RotateTime)),
			rotatelogs.WithMaxAge(time.Hour*time.Duration(basic.MaxAge)),
		)
		if err != nil {
			fmt.Println("Failed to init log file settings..." + err.Error())
			Log.Infof("Failed to log to file, using default stderr.")
			return
		}
		logWriter = w
		if basic.ConsoleLog {
			Log.SetOutput(io.MultiWriter(os.Stdout, w))
		} else {
			Log.SetOutput(w)
		}
	} else if basic.ConsoleLog {
		Log.SetOutput(os.Stdout)
	}
}

func CloseLogger() {
	if logWriter != nil {
		_ = logWriter.Close()
		logWriter = nil
	}
}
