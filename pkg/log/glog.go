// Copyright 2018 The gVisor Authors.
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

package log

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// GoogleEmitter emits lines in the glog text format:
//
//	Lmmdd hh:mm:ss.uuuuuu pid file:line] msg
//
// L is the level (D, I or W) and pid is space-padded to seven columns.
type GoogleEmitter struct {
	*Writer
}

// glogTime is the header timestamp layout.
const glogTime = "0102 15:04:05.000000"

var pidField = padLeft(strconv.Itoa(os.Getpid()), 7)

func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func levelChar(level Level) byte {
	switch level {
	case Debug:
		return 'D'
	case Info:
		return 'I'
	default:
		return 'W'
	}
}

// caller returns "file:line" of the frame depth levels above the emitter
// that called it, or "x:0" if it is unknown.
func caller(depth int) string {
	_, file, line, ok := runtime.Caller(depth + 2)
	if !ok {
		return "x:0"
	}
	if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
		file = file[slash+1:]
	}
	return file + ":" + strconv.Itoa(line)
}

// Emit implements Emitter.Emit.
func (g GoogleEmitter) Emit(depth int, level Level, timestamp time.Time, format string, args ...any) {
	line := make([]byte, 0, 128)
	line = append(line, levelChar(level))
	line = timestamp.AppendFormat(line, glogTime)
	line = append(line, ' ')
	line = append(line, pidField...)
	line = append(line, ' ')
	line = append(line, caller(depth)...)
	line = append(line, "] "...)
	line = fmt.Appendf(line, format, args...)
	line = append(line, '\n')
	g.Writer.Write(line)
}
